package native

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gateway-fm/p3dex/pkg/types"
)

type fakeSubmitter struct {
	events    []StatusEvent
	closeOnly bool
	submitErr error
	lastCall  Call
	calls     int
}

func (f *fakeSubmitter) SignAndSubmit(ctx context.Context, call Call) (<-chan StatusEvent, error) {
	f.calls++
	f.lastCall = call
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	ch := make(chan StatusEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	if f.closeOnly || len(f.events) > 0 {
		close(ch)
	}
	return ch, nil
}

func (f *fakeSubmitter) PaymentInfo(ctx context.Context, call Call) (*FeeInfo, error) {
	return &FeeInfo{}, nil
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []types.Stage
}

func (r *stageRecorder) observe(s types.OperationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.stages); n == 0 || r.stages[n-1] != s.Stage {
		r.stages = append(r.stages, s.Stage)
	}
}

func addParams() types.AddLiquidityParams {
	return types.AddLiquidityParams{
		Asset1:         1,
		Asset2:         2,
		Amount1Desired: "1000",
		Amount2Desired: "2000",
	}
}

func TestAddLiquidity_OneTransitionPerStatusEvent(t *testing.T) {
	sub := &fakeSubmitter{events: []StatusEvent{
		{Kind: StatusReady},
		{Kind: StatusBroadcast},
		{Kind: StatusInBlock, BlockHash: "0xblock"},
		{Kind: StatusFinalized},
	}}
	m := NewMachine(Config{Submitter: sub})
	rec := &stageRecorder{}
	m.Subscribe(rec.observe)

	status, err := m.AddLiquidity(context.Background(), addParams())
	if err != nil {
		t.Fatalf("AddLiquidity() error = %v", err)
	}
	if status.Stage != types.StageSuccess || status.Loading {
		t.Errorf("final status = %+v", status)
	}
	if status.TxHash != "0xblock" {
		t.Errorf("inclusion hash = %s, want 0xblock", status.TxHash)
	}

	want := []types.Stage{
		types.StagePreparing,
		types.StageValidatingInputs,
		types.StageSigning,
		types.StageWaitingForNewBlock,
		types.StageWaitingForConfirmation,
		types.StageWaitingForFinalization,
		types.StageFinalizing,
		types.StageUpdatingBalances,
		types.StageSuccess,
	}
	rec.mu.Lock()
	got := append([]types.Stage(nil), rec.stages...)
	rec.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("stage sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if sub.lastCall.Pallet != "assetConversion" || sub.lastCall.Method != "addLiquidity" {
		t.Errorf("submitted %s.%s", sub.lastCall.Pallet, sub.lastCall.Method)
	}
}

func TestDispatchErrorIsDecoded(t *testing.T) {
	reg := NewErrorRegistry()
	reg.Register(50, map[uint8]ErrorDoc{
		3: {Name: "InsufficientLiquidityMinted", Docs: "The minted liquidity is below the minimum."},
	})
	sub := &fakeSubmitter{events: []StatusEvent{
		{Kind: StatusReady},
		{Kind: StatusInBlock, Dispatch: &DispatchError{PalletIndex: 50, ErrorIndex: 3}},
	}}
	m := NewMachine(Config{Submitter: sub, Errors: reg})

	status, err := m.AddLiquidity(context.Background(), addParams())
	if err == nil || !strings.Contains(err.Error(), "InsufficientLiquidityMinted") {
		t.Fatalf("error = %v, want decoded module error", err)
	}
	if status.Stage != types.StageError {
		t.Errorf("stage = %s, want error", status.Stage)
	}
}

func TestDescribe(t *testing.T) {
	reg := NewErrorRegistry()
	reg.Register(50, map[uint8]ErrorDoc{0: {Name: "PoolExists"}})

	tests := []struct {
		name string
		err  *DispatchError
		want string
	}{
		{"known without docs", &DispatchError{PalletIndex: 50}, "PoolExists"},
		{"unknown error index", &DispatchError{PalletIndex: 50, ErrorIndex: 9}, "dispatch failed (module 50, error 9)"},
		{"unknown pallet", &DispatchError{PalletIndex: 7, ErrorIndex: 1}, "dispatch failed (module 7, error 1)"},
		{"other variant", &DispatchError{Other: "BadOrigin"}, "BadOrigin"},
		{"nil", nil, "dispatch failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.Describe(tt.err); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStreamClosedBeforeTerminalIsAmbiguous(t *testing.T) {
	sub := &fakeSubmitter{events: []StatusEvent{{Kind: StatusReady}}}
	m := NewMachine(Config{Submitter: sub})

	status, err := m.AddLiquidity(context.Background(), addParams())
	if !errors.Is(err, ErrStatusStreamClosed) {
		t.Fatalf("error = %v, want ErrStatusStreamClosed", err)
	}
	if status.Stage == types.StageError {
		t.Error("a silent stream end must not force the error stage")
	}
	if status.Loading {
		t.Error("loading flag must be cleared")
	}
}

func TestDroppedExtrinsicFails(t *testing.T) {
	sub := &fakeSubmitter{events: []StatusEvent{
		{Kind: StatusReady},
		{Kind: StatusDropped},
	}}
	m := NewMachine(Config{Submitter: sub})

	_, err := m.AddLiquidity(context.Background(), addParams())
	if err == nil || !strings.Contains(err.Error(), "dropped") {
		t.Fatalf("error = %v, want dropped failure", err)
	}
}

func TestValidationStopsBeforeSubmission(t *testing.T) {
	sub := &fakeSubmitter{closeOnly: true}
	m := NewMachine(Config{Submitter: sub})

	_, err := m.Swap(context.Background(), types.SwapParams{
		AssetIn:      3,
		AssetOut:     3,
		AmountIn:     "0",
		AmountOutMin: "1",
	}, true)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "identical") || !strings.Contains(err.Error(), "amountIn") {
		t.Errorf("error %q must list every violation", err)
	}
	if sub.calls != 0 {
		t.Errorf("submitter called %d times for invalid params", sub.calls)
	}
}

func TestSwapCallShape(t *testing.T) {
	call := SwapCall(types.SwapParams{
		AssetIn:      0,
		AssetOut:     222,
		AmountIn:     "1000",
		AmountOutMin: "990",
	}, true)
	if call.Method != "swapExactTokensForTokens" {
		t.Errorf("method = %s", call.Method)
	}
	path, ok := call.Args[0].([]types.AssetID)
	if !ok || len(path) != 2 || path[0] != 0 || path[1] != 222 {
		t.Errorf("path arg = %v", call.Args[0])
	}

	out := SwapCall(types.SwapParams{AssetIn: 1, AssetOut: 2, AmountOut: "5", AmountInMax: "6"}, false)
	if out.Method != "swapTokensForExactTokens" {
		t.Errorf("method = %s", out.Method)
	}
}
