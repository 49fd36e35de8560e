// Package metrics exposes Prometheus metrics for the DEX core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// Metrics holds all Prometheus metrics for DEX operations.
type Metrics struct {
	// Operation counters
	OperationsTotal *prometheus.CounterVec

	// Gauges
	BlockTimeEstimateMS prometheus.Gauge
	WalletConnected     prometheus.Gauge
	OperationsInFlight  *prometheus.GaugeVec

	// Histograms
	OperationDuration *prometheus.HistogramVec
	GasUsed           *prometheus.HistogramVec
}

// New creates and registers all metrics against reg, falling back to the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p3dex_operations_total",
				Help: "Operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		BlockTimeEstimateMS: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "p3dex_block_time_estimate_ms",
				Help: "Current buffered block-time estimate in milliseconds",
			},
		),

		WalletConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "p3dex_wallet_connected",
				Help: "1 when a wallet account is connected",
			},
		),

		OperationsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "p3dex_operations_in_flight",
				Help: "Operations currently loading, by kind",
			},
			[]string{"kind"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p3dex_operation_duration_seconds",
				Help:    "Start-to-terminal operation duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 720},
			},
			[]string{"kind"},
		),

		GasUsed: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p3dex_gas_used",
				Help:    "Gas used by confirmed operations",
				Buckets: []float64{25_000, 50_000, 100_000, 200_000, 400_000, 800_000, 1_600_000},
			},
			[]string{"kind"},
		),
	}
}

// RecordSubmitted records a transaction accepted for broadcast.
func (m *Metrics) RecordSubmitted(kind types.OperationKind) {
	m.OperationsTotal.WithLabelValues(string(kind), "submitted").Inc()
}

// RecordSuccess records a finalized operation and its duration.
func (m *Metrics) RecordSuccess(kind types.OperationKind, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(string(kind), "success").Inc()
	m.OperationDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordFailure records a failed operation.
func (m *Metrics) RecordFailure(kind types.OperationKind) {
	m.OperationsTotal.WithLabelValues(string(kind), "failed").Inc()
}

// RecordGasUsed records gas consumption from a receipt.
func (m *Metrics) RecordGasUsed(kind types.OperationKind, gasUsed uint64) {
	m.GasUsed.WithLabelValues(string(kind)).Observe(float64(gasUsed))
}

// SetBlockTimeEstimate updates the estimate gauge.
func (m *Metrics) SetBlockTimeEstimate(ms int64) {
	m.BlockTimeEstimateMS.Set(float64(ms))
}

// SetWalletConnected updates the connection gauge.
func (m *Metrics) SetWalletConnected(connected bool) {
	if connected {
		m.WalletConnected.Set(1)
		return
	}
	m.WalletConnected.Set(0)
}

// Observer adapts the metrics to the lifecycle observer signature. It
// derives counters from stage transitions. The waitingForNewBlock stage is
// entered exactly once per submitted transaction on both paths, unlike
// signing, which also notifies on tx-hash bookkeeping.
func (m *Metrics) Observer() func(types.OperationStatus) {
	return func(s types.OperationStatus) {
		kind := string(s.Kind)
		switch s.Stage {
		case types.StageWaitingForNewBlock:
			m.RecordSubmitted(s.Kind)
		case types.StageSuccess:
			m.RecordSuccess(s.Kind, s.UpdatedAt.Sub(s.StartedAt))
		case types.StageError:
			m.RecordFailure(s.Kind)
		}
		if s.Loading {
			m.OperationsInFlight.WithLabelValues(kind).Set(1)
		} else {
			m.OperationsInFlight.WithLabelValues(kind).Set(0)
		}
	}
}
