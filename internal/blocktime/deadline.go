package blocktime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/p3dex/internal/rpc"
)

const (
	// DeadlineOffsetMS is added to the time base to form the deadline.
	DeadlineOffsetMS = 10 * 60 * 1000

	// chainLagToleranceMS is how far the chain timestamp may trail the
	// local wall clock before it is considered stale.
	chainLagToleranceMS = 60 * 1000
)

// ChainClock reports the chain's current on-chain timestamp.
type ChainClock interface {
	ChainTimestampMS(ctx context.Context) (int64, error)
}

// RPCClock reads the chain timestamp from the latest block header.
type RPCClock struct {
	Client rpc.Client
}

func (c RPCClock) ChainTimestampMS(ctx context.Context) (int64, error) {
	sample, err := c.Client.BlockTimestampMS(ctx, "latest")
	if err != nil {
		return 0, err
	}
	return sample.TimestampMS, nil
}

// DeadlineFor picks the trustworthy time base and adds the fixed offset.
// When the chain timestamp lags the wall clock by more than a minute the
// chain time is stale and the wall clock is used instead. Exposed for tests;
// use ComputeDeadline in operation flows.
func DeadlineFor(chainMS, wallMS int64, logger *slog.Logger) int64 {
	if logger == nil {
		logger = slog.Default()
	}
	base := chainMS
	if wallMS-chainMS > chainLagToleranceMS {
		logger.Warn("chain timestamp lags wall clock, using local time for deadline",
			slog.Int64("chain_ms", chainMS),
			slog.Int64("wall_ms", wallMS),
			slog.Int64("lag_ms", wallMS-chainMS),
		)
		base = wallMS
	}
	return base + DeadlineOffsetMS
}

// ComputeDeadline fetches a fresh chain timestamp and returns the UNIX
// millisecond deadline for a transaction submitted now. Callers must invoke
// this immediately before signing; a deadline computed during quoting can
// already be stale by the time the user confirms.
func ComputeDeadline(ctx context.Context, clock ChainClock, logger *slog.Logger) (int64, error) {
	chainMS, err := clock.ChainTimestampMS(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch chain timestamp: %w", err)
	}
	return DeadlineFor(chainMS, time.Now().UnixMilli(), logger), nil
}
