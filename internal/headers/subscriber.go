// Package headers streams new block headers over WebSocket and feeds them
// to the block-time estimator as samples.
package headers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/pkg/types"
)

const (
	reconnectBackoff    = 2 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// Subscriber maintains a newHeads subscription and delivers one
// BlockTimeSample per header on its channel. Consumers read the channel
// sequentially; the subscription goroutine is the only writer.
type Subscriber struct {
	url     string
	logger  *slog.Logger
	samples chan types.BlockTimeSample
}

// NewSubscriber creates a subscriber for the given WebSocket URL. An
// http(s) URL is converted to its ws(s) equivalent.
func NewSubscriber(url string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		url:     ToWebSocketURL(url),
		logger:  logger,
		samples: make(chan types.BlockTimeSample, 16),
	}
}

// ToWebSocketURL derives a ws(s) URL from an http(s) RPC URL.
func ToWebSocketURL(url string) string {
	switch {
	case strings.HasPrefix(url, "http://"):
		return "ws://" + url[len("http://"):]
	case strings.HasPrefix(url, "https://"):
		return "wss://" + url[len("https://"):]
	default:
		return url
	}
}

// Samples returns the header sample stream. The channel is closed when Run
// returns.
func (s *Subscriber) Samples() <-chan types.BlockTimeSample {
	return s.samples
}

// Run connects, subscribes, and pumps headers until the context ends,
// reconnecting with backoff on read failures.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.samples)

	backoff := reconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("header subscription dropped, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnectBackoff)
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// Close the connection when the context ends so the blocked read
	// returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe to newHeads: %w", err)
	}

	s.logger.Info("subscribed to new heads", slog.String("url", s.url))

	for {
		var msg struct {
			JSONRPC string `json:"jsonrpc"`
			Method  string `json:"method"`
			Params  *struct {
				Result struct {
					Number    string `json:"number"`
					Timestamp string `json:"timestamp"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("connection closed: %w", err)
			}
			return fmt.Errorf("read header: %w", err)
		}
		if msg.Params == nil {
			continue // subscription ack
		}

		number, err := hexutil.DecodeUint64(msg.Params.Result.Number)
		if err != nil {
			s.logger.Debug("skipping header with bad number", slog.String("number", msg.Params.Result.Number))
			continue
		}
		ts, err := hexutil.DecodeUint64(msg.Params.Result.Timestamp)
		if err != nil {
			s.logger.Debug("skipping header with bad timestamp", slog.String("timestamp", msg.Params.Result.Timestamp))
			continue
		}

		sample := types.BlockTimeSample{
			BlockNumber: number,
			TimestampMS: int64(ts) * 1000,
		}
		select {
		case s.samples <- sample:
		default:
			// A slow consumer must not stall the read loop; countdowns
			// only need the freshest headers anyway.
		}
	}
}

// Backfill fetches the most recent count block timestamps over plain RPC,
// oldest first, for seeding the estimator before the first notification.
func Backfill(ctx context.Context, client rpc.Client, count int) ([]types.BlockTimeSample, error) {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}

	start := uint64(0)
	if uint64(count) <= head {
		start = head - uint64(count) + 1
	}

	samples := make([]types.BlockTimeSample, 0, count)
	for n := start; n <= head; n++ {
		s, err := client.BlockTimestampMS(ctx, hexutil.EncodeUint64(n))
		if err != nil {
			// Partial history still seeds the estimator; missing blocks
			// just shrink the window.
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}
