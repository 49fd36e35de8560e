package blocktime

import (
	"testing"

	"github.com/gateway-fm/p3dex/pkg/types"
)

func sampleRun(start uint64, baseTS int64, intervalMS int64, n int) []types.BlockTimeSample {
	out := make([]types.BlockTimeSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.BlockTimeSample{
			BlockNumber: start + uint64(i),
			TimestampMS: baseTS + int64(i)*intervalMS,
		})
	}
	return out
}

func TestEstimator_ConvergesToBufferedInterval(t *testing.T) {
	e := NewEstimator(0, nil)
	e.Backfill(sampleRun(100, 1_000_000, 6_000, 8))

	// Fixed 6s interval -> p75 is 6s -> 1.2x buffer = 7.2s.
	if got := e.EstimateMS(); got != 7_200 {
		t.Errorf("EstimateMS() = %d, want 7200", got)
	}
}

func TestEstimator_TwoSamplesSuffice(t *testing.T) {
	e := NewEstimator(0, nil)
	e.Observe(types.BlockTimeSample{BlockNumber: 5, TimestampMS: 10_000})
	if got := e.EstimateMS(); got != DefaultBlockTimeMS {
		t.Fatalf("single sample EstimateMS() = %d, want default", got)
	}
	e.Observe(types.BlockTimeSample{BlockNumber: 6, TimestampMS: 15_000})
	if got := e.EstimateMS(); got != 6_000 {
		t.Errorf("EstimateMS() = %d, want 6000", got)
	}
}

func TestEstimator_NonConsecutiveGapExcluded(t *testing.T) {
	e := NewEstimator(0, nil)
	// Blocks 1,2 at 6s apart, then a jump to block 10 much later. The
	// 2->10 gap must not enter the statistics.
	e.Observe(types.BlockTimeSample{BlockNumber: 1, TimestampMS: 0})
	e.Observe(types.BlockTimeSample{BlockNumber: 2, TimestampMS: 6_000})
	e.Observe(types.BlockTimeSample{BlockNumber: 10, TimestampMS: 500_000})

	if got := e.EstimateMS(); got != 7_200 {
		t.Errorf("EstimateMS() = %d, want 7200 (gap excluded)", got)
	}
}

func TestEstimator_OutOfRangeRetainsPrevious(t *testing.T) {
	e := NewEstimator(0, nil)
	e.Observe(types.BlockTimeSample{BlockNumber: 1, TimestampMS: 0})
	e.Observe(types.BlockTimeSample{BlockNumber: 2, TimestampMS: 6_000})
	prev := e.EstimateMS()

	// A stalled chain: the next consecutive block lands 10 minutes later.
	// The buffered p75 now exceeds the acceptance window, so the previous
	// estimate stays.
	e.Observe(types.BlockTimeSample{BlockNumber: 3, TimestampMS: 606_000})

	if got := e.EstimateMS(); got != prev {
		t.Errorf("EstimateMS() = %d, want retained %d", got, prev)
	}
}

func TestEstimator_NeverNonPositive(t *testing.T) {
	e := NewEstimator(0, nil)
	if got := e.EstimateMS(); got <= 0 {
		t.Fatalf("empty EstimateMS() = %d, want > 0", got)
	}
	// Zero and negative deltas must not poison the estimate.
	e.Observe(types.BlockTimeSample{BlockNumber: 1, TimestampMS: 1_000})
	e.Observe(types.BlockTimeSample{BlockNumber: 2, TimestampMS: 1_000})
	e.Observe(types.BlockTimeSample{BlockNumber: 3, TimestampMS: 500})
	if got := e.EstimateMS(); got <= 0 {
		t.Errorf("EstimateMS() = %d, want > 0", got)
	}
}

func TestEstimator_FallbackFromChainMetadata(t *testing.T) {
	e := NewEstimator(12_000, nil)
	if got := e.EstimateMS(); got != 12_000 {
		t.Errorf("EstimateMS() = %d, want chain-declared 12000", got)
	}
}

func TestEstimator_WindowBounded(t *testing.T) {
	e := NewEstimator(0, nil)
	e.Backfill(sampleRun(1, 0, 6_000, 25))
	if got := len(e.Samples()); got != MaxSamples {
		t.Errorf("retained %d samples, want %d", got, MaxSamples)
	}
	s := e.Samples()
	if s[len(s)-1].BlockNumber != 25 {
		t.Errorf("newest retained block = %d, want 25", s[len(s)-1].BlockNumber)
	}
}

func TestEstimator_SamplesReturnsCopy(t *testing.T) {
	e := NewEstimator(0, nil)
	e.Observe(types.BlockTimeSample{BlockNumber: 1, TimestampMS: 0})
	s := e.Samples()
	s[0].BlockNumber = 999
	if e.Samples()[0].BlockNumber != 1 {
		t.Error("Samples() must return a defensive copy")
	}
}

func TestDeadlineFor(t *testing.T) {
	tests := []struct {
		name    string
		chainMS int64
		wallMS  int64
		want    int64
	}{
		{"chain fresh", 1_000_000, 1_000_500, 1_000_000 + DeadlineOffsetMS},
		{"chain slightly behind", 1_000_000, 1_059_000, 1_000_000 + DeadlineOffsetMS},
		{"chain stale", 1_000_000, 1_061_000, 1_061_000 + DeadlineOffsetMS},
		{"chain ahead", 1_070_000, 1_000_000, 1_070_000 + DeadlineOffsetMS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeadlineFor(tt.chainMS, tt.wallMS, nil); got != tt.want {
				t.Errorf("DeadlineFor(%d, %d) = %d, want %d", tt.chainMS, tt.wallMS, got, tt.want)
			}
		})
	}
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	// p75 of [2,4,6,8] ranks at index 2.25 -> 6 + 0.25*2 = 6.5.
	got := percentile([]float64{8, 2, 6, 4}, 75)
	if got != 6.5 {
		t.Errorf("percentile() = %v, want 6.5", got)
	}
}
