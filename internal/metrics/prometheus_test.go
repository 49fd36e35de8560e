package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gateway-fm/p3dex/pkg/types"
)

func TestObserverDerivesOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	obs := m.Observer()

	now := time.Now()
	base := types.OperationStatus{
		ID:        "op-1",
		Kind:      types.OpSwap,
		Loading:   true,
		StartedAt: now,
		UpdatedAt: now,
	}

	base.Stage = types.StageWaitingForNewBlock
	obs(base)

	base.Stage = types.StageSuccess
	base.Loading = false
	base.UpdatedAt = now.Add(30 * time.Second)
	obs(base)

	submitted := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("swap", "submitted"))
	if submitted != 1 {
		t.Errorf("submitted counter = %v, want 1", submitted)
	}
	success := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("swap", "success"))
	if success != 1 {
		t.Errorf("success counter = %v, want 1", success)
	}
	inflight := testutil.ToFloat64(m.OperationsInFlight.WithLabelValues("swap"))
	if inflight != 0 {
		t.Errorf("in-flight gauge = %v, want 0 after terminal stage", inflight)
	}
}

func TestObserverCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	obs := m.Observer()

	obs(types.OperationStatus{
		Kind:  types.OpAddLiquidity,
		Stage: types.StageError,
		Error: "transaction reverted",
	})

	failed := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("add-liquidity", "failed"))
	if failed != 1 {
		t.Errorf("failed counter = %v, want 1", failed)
	}
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetBlockTimeEstimate(60000)
	if got := testutil.ToFloat64(m.BlockTimeEstimateMS); got != 60000 {
		t.Errorf("block time gauge = %v", got)
	}

	m.SetWalletConnected(true)
	if got := testutil.ToFloat64(m.WalletConnected); got != 1 {
		t.Errorf("wallet gauge = %v, want 1", got)
	}
	m.SetWalletConnected(false)
	if got := testutil.ToFloat64(m.WalletConnected); got != 0 {
		t.Errorf("wallet gauge = %v, want 0", got)
	}
}
