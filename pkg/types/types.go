// Package types contains public API types for the DEX core.
// These types form the external interface and must remain backwards-compatible.
package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OperationKind identifies one of the supported pool operations.
// Each kind owns exactly one in-flight status slot at a time.
type OperationKind string

const (
	OpSwap            OperationKind = "swap"
	OpAddLiquidity    OperationKind = "add-liquidity"
	OpRemoveLiquidity OperationKind = "remove-liquidity"
	OpCreatePool      OperationKind = "create-pool"
)

// Stage is one step of the transaction lifecycle. Stages advance
// monotonically; StageError is reachable from any non-terminal stage.
type Stage string

const (
	StageIdle                   Stage = "idle"
	StagePreparing              Stage = "preparing"
	StageValidatingInputs       Stage = "validatingInputs"
	StageCheckingBalances       Stage = "checkingBalances"
	StageCalculatingRoute       Stage = "calculatingRoute"
	StageSigning                Stage = "signing"
	StageWaitingForNewBlock     Stage = "waitingForNewBlock"
	StageWaitingForConfirmation Stage = "waitingForConfirmation"
	StageWaitingForFinalization Stage = "waitingForFinalization"
	StageFinalizing             Stage = "finalizing"
	StageUpdatingBalances       Stage = "updatingBalances"
	StageSuccess                Stage = "success"
	StageError                  Stage = "error"
)

// Terminal reports whether a stage ends the lifecycle.
func (s Stage) Terminal() bool {
	return s == StageIdle || s == StageSuccess || s == StageError
}

// stageOrder fixes the forward ordering used to enforce monotonic progress.
var stageOrder = map[Stage]int{
	StageIdle:                   0,
	StagePreparing:              1,
	StageValidatingInputs:       2,
	StageCheckingBalances:       3,
	StageCalculatingRoute:       4,
	StageSigning:                5,
	StageWaitingForNewBlock:     6,
	StageWaitingForConfirmation: 7,
	StageWaitingForFinalization: 8,
	StageFinalizing:             9,
	StageUpdatingBalances:       10,
	StageSuccess:                11,
}

// After reports whether s comes strictly after other in the lifecycle.
// StageError counts as after every non-terminal stage.
func (s Stage) After(other Stage) bool {
	if s == StageError {
		return !other.Terminal()
	}
	return stageOrder[s] > stageOrder[other]
}

// AssetID identifies a fungible asset on the native chain. ID 0 is the
// chain's native token.
type AssetID uint64

// NativeAssetID is the reserved id of the chain's native token.
const NativeAssetID AssetID = 0

// SwapParams are the immutable inputs to a swap calldata builder.
// Amounts are decimal-string integers; values can exceed 64 bits.
type SwapParams struct {
	AssetIn  AssetID
	AssetOut AssetID
	// AmountIn and AmountOutMin for exact-input swaps; AmountOut and
	// AmountInMax for exact-output swaps. Only one pair is read.
	AmountIn     string
	AmountOutMin string
	AmountOut    string
	AmountInMax  string
	// Recipient defaults to the zero address ("use sender").
	Recipient string
	// DeadlineMS is a UNIX-millisecond deadline. Zero means "compute fresh
	// at signing time".
	DeadlineMS int64
}

// AddLiquidityParams are the immutable inputs to an add-liquidity builder.
type AddLiquidityParams struct {
	Asset1         AssetID
	Asset2         AssetID
	Amount1Desired string
	Amount2Desired string
	Amount1Min     string
	Amount2Min     string
	MintTo         string
	DeadlineMS     int64
}

// RemoveLiquidityParams are the immutable inputs to a remove-liquidity builder.
type RemoveLiquidityParams struct {
	Asset1     AssetID
	Asset2     AssetID
	LPBurn     string
	Amount1Min string
	Amount2Min string
	WithdrawTo string
	DeadlineMS int64
}

// CreatePoolParams are the immutable inputs to a create-pool builder.
type CreatePoolParams struct {
	Asset1 AssetID
	Asset2 AssetID
}

// GasEstimate carries a gas limit plus exactly one fee family: EIP-1559
// (MaxFeePerGas + MaxPriorityFeePerGas) or legacy (GasPrice). Fee values
// are decimal wei strings.
type GasEstimate struct {
	GasLimit             uint64
	GasPrice             string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
}

// IsDynamic reports whether the estimate uses EIP-1559 pricing.
func (g GasEstimate) IsDynamic() bool {
	return g.MaxFeePerGas != ""
}

// BlockTimeSample is one observed block header used for interval statistics.
type BlockTimeSample struct {
	BlockNumber uint64
	TimestampMS int64
}

// OperationStatus is the externally visible state of one in-flight
// operation slot.
type OperationStatus struct {
	ID        string        `json:"id"`
	Kind      OperationKind `json:"kind"`
	Stage     Stage         `json:"stage"`
	TxHash    string        `json:"txHash,omitempty"`
	Block     uint64        `json:"block,omitempty"`
	Error     string        `json:"error,omitempty"`
	Loading   bool          `json:"loading"`
	StartedAt time.Time     `json:"startedAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Log is one receipt log entry as returned by the EVM node.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// SwapEvent is a decoded Swap log.
type SwapEvent struct {
	Sender     common.Address
	Recipient  common.Address
	Amount0In  string
	Amount1In  string
	Amount0Out string
	Amount1Out string
}

// LiquidityEvent is a decoded Mint or Burn log.
type LiquidityEvent struct {
	Sender  common.Address
	Amount0 string
	Amount1 string
	// To carries the Burn withdraw target; zero for Mint.
	To common.Address
	// Burned is true for Burn events.
	Burned bool
}

// PairCreatedEvent is a decoded PairCreated log.
type PairCreatedEvent struct {
	Token0 common.Address
	Token1 common.Address
	Pair   common.Address
	// Index is the running pair count reported by the factory.
	Index string
}
