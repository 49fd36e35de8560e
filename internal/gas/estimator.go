// Package gas obtains gas limits and fee pricing for precompile calls,
// with tiered fallback across EIP-1559, legacy, and hardcoded defaults.
package gas

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/pkg/types"
)

const (
	// feeHistoryBlocks is how far back the EIP-1559 pricing looks.
	feeHistoryBlocks = 4

	// priorityFeeFloorWei keeps the tip from collapsing to zero on idle
	// chains, which some nodes reject.
	priorityFeeFloorWei = 10

	// CreatePoolFallbackGasLimit is the last-resort limit for pool
	// creation when simulation is unavailable. Creation must stay usable
	// on nodes that cannot simulate precompile calls.
	CreatePoolFallbackGasLimit = 1_200_000

	// DefaultGasPriceWei prices a transaction when both the fee-history
	// and legacy paths fail outright.
	DefaultGasPriceWei = 1_000_000_000
)

// feeHistoryPercentiles are the reward percentiles requested per block.
var feeHistoryPercentiles = []float64{25, 50, 75}

// Estimator prices transactions against the connected EVM node.
type Estimator struct {
	client rpc.Client
	logger *slog.Logger
}

// NewEstimator creates an Estimator.
func NewEstimator(client rpc.Client, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{client: client, logger: logger}
}

// Estimate simulates the transaction for a gas limit and prices it. A
// failed simulation is fatal: guessing a limit risks burning fees on a
// transaction that cannot succeed.
func (e *Estimator) Estimate(ctx context.Context, tx rpc.TransactionArgs) (types.GasEstimate, error) {
	gasLimit, err := e.client.EstimateGas(ctx, tx)
	if err != nil {
		return types.GasEstimate{}, fmt.Errorf("estimate gas: %w", err)
	}
	return e.price(ctx, gasLimit), nil
}

// EstimateWithFallback behaves like Estimate but substitutes fallbackLimit
// when simulation fails. Used by the pool-creation path only.
func (e *Estimator) EstimateWithFallback(ctx context.Context, tx rpc.TransactionArgs, fallbackLimit uint64) (types.GasEstimate, error) {
	gasLimit, err := e.client.EstimateGas(ctx, tx)
	if err != nil {
		e.logger.Warn("gas simulation failed, using fallback limit",
			slog.Uint64("fallback", fallbackLimit),
			slog.String("error", err.Error()),
		)
		gasLimit = fallbackLimit
	}
	return e.price(ctx, gasLimit), nil
}

// price attaches fee fields to a gas limit. EIP-1559 is preferred; any
// failure there falls back to a legacy gas price, and a failure of that
// falls back to the hardcoded default. Node compatibility varies and every
// tier is load-bearing.
func (e *Estimator) price(ctx context.Context, gasLimit uint64) types.GasEstimate {
	if maxFee, priority, err := e.dynamicFees(ctx); err == nil {
		return types.GasEstimate{
			GasLimit:             gasLimit,
			MaxFeePerGas:         maxFee.String(),
			MaxPriorityFeePerGas: priority.String(),
		}
	} else {
		e.logger.Debug("fee history unavailable, falling back to legacy gas price",
			slog.String("error", err.Error()),
		)
	}

	gasPrice, err := e.client.GasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		e.logger.Warn("legacy gas price unavailable, using hardcoded default",
			slog.Int64("default_wei", DefaultGasPriceWei),
		)
		gasPrice = big.NewInt(DefaultGasPriceWei)
	}
	return types.GasEstimate{
		GasLimit: gasLimit,
		GasPrice: gasPrice.String(),
	}
}

// dynamicFees computes maxFeePerGas = 2*baseFee + averagePriorityFee from
// recent fee history, with a floor on the priority fee.
func (e *Estimator) dynamicFees(ctx context.Context) (maxFee, priority *big.Int, err error) {
	fh, err := e.client.FeeHistory(ctx, feeHistoryBlocks, feeHistoryPercentiles)
	if err != nil {
		return nil, nil, err
	}
	if len(fh.BaseFees) == 0 {
		return nil, nil, fmt.Errorf("fee history returned no base fees")
	}

	sum := new(big.Int)
	count := 0
	for _, block := range fh.Rewards {
		for _, r := range block {
			if r == nil {
				continue
			}
			sum.Add(sum, r)
			count++
		}
	}
	priority = new(big.Int)
	if count > 0 {
		priority.Div(sum, big.NewInt(int64(count)))
	}
	if priority.Cmp(big.NewInt(priorityFeeFloorWei)) < 0 {
		priority = big.NewInt(priorityFeeFloorWei)
	}

	baseFee := fh.BaseFees[len(fh.BaseFees)-1]
	maxFee = new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, priority)
	return maxFee, priority, nil
}
