package headers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/pkg/types"
)

var upgrader = websocket.Upgrader{}

func TestToWebSocketURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://localhost:9933", "ws://localhost:9933"},
		{"https://rpc.example.com", "wss://rpc.example.com"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		if got := ToWebSocketURL(tt.in); got != tt.want {
			t.Errorf("ToWebSocketURL(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSubscriber_DeliversSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Read the subscription request, ack it, then push two heads.
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if req["method"] != "eth_subscribe" {
			t.Errorf("method = %v, want eth_subscribe", req["method"])
		}
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0xsub"})

		for i := uint64(100); i < 102; i++ {
			conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params": map[string]any{
					"subscription": "0xsub",
					"result": map[string]any{
						"number":    hexutil.EncodeUint64(i),
						"timestamp": hexutil.EncodeUint64(1700000000 + i),
					},
				},
			})
		}
		// Keep the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := NewSubscriber(srv.URL, nil)
	go sub.Run(ctx)

	for want := uint64(100); want < 102; want++ {
		select {
		case s := <-sub.Samples():
			if s.BlockNumber != want {
				t.Errorf("BlockNumber = %d, want %d", s.BlockNumber, want)
			}
			if s.TimestampMS != int64(1700000000+want)*1000 {
				t.Errorf("TimestampMS = %d", s.TimestampMS)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for sample")
		}
	}
	cancel()
}

type fakeBackfillClient struct {
	rpc.Client
	head   uint64
	failAt uint64
}

func (f *fakeBackfillClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackfillClient) BlockTimestampMS(ctx context.Context, blockNum string) (types.BlockTimeSample, error) {
	n, err := hexutil.DecodeUint64(blockNum)
	if err != nil {
		return types.BlockTimeSample{}, err
	}
	if n == f.failAt {
		return types.BlockTimeSample{}, errors.New("pruned")
	}
	return types.BlockTimeSample{BlockNumber: n, TimestampMS: int64(n) * 6000}, nil
}

func TestBackfill(t *testing.T) {
	samples, err := Backfill(context.Background(), &fakeBackfillClient{head: 50}, 10)
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if len(samples) != 10 {
		t.Fatalf("got %d samples, want 10", len(samples))
	}
	if samples[0].BlockNumber != 41 || samples[9].BlockNumber != 50 {
		t.Errorf("range = %d..%d, want 41..50", samples[0].BlockNumber, samples[9].BlockNumber)
	}
}

func TestBackfill_SkipsMissingBlocks(t *testing.T) {
	samples, err := Backfill(context.Background(), &fakeBackfillClient{head: 50, failAt: 45}, 10)
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if len(samples) != 9 {
		t.Errorf("got %d samples, want 9 with one pruned", len(samples))
	}
}

func TestBackfill_ShortChain(t *testing.T) {
	samples, err := Backfill(context.Background(), &fakeBackfillClient{head: 3, failAt: 999}, 10)
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if len(samples) != 4 {
		t.Errorf("got %d samples, want 4 (blocks 0..3)", len(samples))
	}
}
