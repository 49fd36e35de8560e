// Package blocktime estimates the chain's block interval from observed
// headers and computes safe transaction deadlines.
package blocktime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/gateway-fm/p3dex/pkg/types"
)

const (
	// MaxSamples bounds the ring of retained header samples.
	MaxSamples = 10

	// DefaultBlockTimeMS is used until real interval data exists and the
	// chain declared no expected block time.
	DefaultBlockTimeMS = 60_000

	// Accepted estimate bounds. Values outside this window come from
	// stalled chains or clock jumps and would break countdowns.
	minEstimateMS = 1_000
	maxEstimateMS = 480_000

	// Safety buffer applied on top of the percentile interval.
	bufferNumerator   = 12
	bufferDenominator = 10

	intervalPercentile = 75.0
)

// Estimator keeps a rolling window of block-header samples and derives a
// buffered block-time estimate. The sample buffer is mutated only through
// Observe/Backfill; readers get copies.
type Estimator struct {
	mu         sync.RWMutex
	samples    []types.BlockTimeSample
	estimateMS int64
	fallbackMS int64
	logger     *slog.Logger
}

// NewEstimator creates an estimator. fallbackMS is the chain-declared
// expected block time (BABE's configured value or twice the Aura minimum
// period); zero or negative falls back to DefaultBlockTimeMS.
func NewEstimator(fallbackMS int64, logger *slog.Logger) *Estimator {
	if fallbackMS <= 0 {
		fallbackMS = DefaultBlockTimeMS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		fallbackMS: fallbackMS,
		logger:     logger,
	}
}

// Backfill seeds the window from historical headers, oldest first.
func (e *Estimator) Backfill(samples []types.BlockTimeSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range samples {
		e.insert(s)
	}
	e.recompute()
}

// Observe records one new header sample and refreshes the estimate.
func (e *Estimator) Observe(sample types.BlockTimeSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert(sample)
	e.recompute()
}

// insert keeps samples sorted by block number, drops duplicates, and trims
// to the most recent MaxSamples. Caller holds e.mu.
func (e *Estimator) insert(sample types.BlockTimeSample) {
	i := sort.Search(len(e.samples), func(i int) bool {
		return e.samples[i].BlockNumber >= sample.BlockNumber
	})
	if i < len(e.samples) && e.samples[i].BlockNumber == sample.BlockNumber {
		return
	}
	e.samples = append(e.samples, types.BlockTimeSample{})
	copy(e.samples[i+1:], e.samples[i:])
	e.samples[i] = sample
	if len(e.samples) > MaxSamples {
		e.samples = e.samples[len(e.samples)-MaxSamples:]
	}
}

// recompute derives a new estimate from the current window. Intervals are
// taken only between consecutive block numbers; gaps from reorgs or missed
// notifications would skew the statistics. Caller holds e.mu.
func (e *Estimator) recompute() {
	var intervals []float64
	for i := 1; i < len(e.samples); i++ {
		if e.samples[i].BlockNumber != e.samples[i-1].BlockNumber+1 {
			continue
		}
		d := e.samples[i].TimestampMS - e.samples[i-1].TimestampMS
		if d <= 0 {
			continue
		}
		intervals = append(intervals, float64(d))
	}
	if len(intervals) == 0 {
		return
	}

	est := int64(percentile(intervals, intervalPercentile)) * bufferNumerator / bufferDenominator
	if est < minEstimateMS || est > maxEstimateMS {
		e.logger.Debug("discarding out-of-range block time estimate",
			slog.Int64("estimate_ms", est),
			slog.Int("samples", len(e.samples)),
		)
		return
	}
	e.estimateMS = est
}

// EstimateMS returns the current buffered block-time estimate in
// milliseconds. It is never zero or negative.
func (e *Estimator) EstimateMS() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.estimateMS > 0 {
		return e.estimateMS
	}
	if e.fallbackMS > 0 {
		return e.fallbackMS
	}
	return DefaultBlockTimeMS
}

// Samples returns a copy of the current sample window, oldest first.
func (e *Estimator) Samples() []types.BlockTimeSample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.BlockTimeSample, len(e.samples))
	copy(out, e.samples)
	return out
}

// percentile computes the p-th percentile with linear interpolation between
// order statistics. values must be non-empty.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
