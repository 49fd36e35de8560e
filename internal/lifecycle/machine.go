// Package lifecycle drives the multi-stage transaction flow for EVM-path
// operations: validate, check balances, build calldata, estimate gas, sign,
// then poll for confirmation and finalization. Each operation kind owns one
// status slot; stages advance monotonically and never skip.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/p3dex/internal/assetaddr"
	"github.com/gateway-fm/p3dex/internal/blocktime"
	"github.com/gateway-fm/p3dex/internal/calldata"
	"github.com/gateway-fm/p3dex/internal/conn"
	"github.com/gateway-fm/p3dex/internal/gas"
	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/pkg/types"
)

const (
	// DefaultReceiptPollInterval is how often the receipt is polled.
	DefaultReceiptPollInterval = 2 * time.Second
	// DefaultConfirmTimeout bounds receipt polling. Expiry is ambiguous,
	// not failure; the transaction may still land.
	DefaultConfirmTimeout = 5 * time.Minute
	// DefaultFinalizeTimeout bounds the finality wait. Finality lag runs
	// well past inclusion, so this is deliberately longer.
	DefaultFinalizeTimeout = 12 * time.Minute
	// DefaultGuardTimeout force-clears a stuck loading flag. It is a safety
	// net independent of the polling timeouts.
	DefaultGuardTimeout = 3 * time.Minute

	// finalityLagBlocks is the block lag treated as good-enough finality.
	finalityLagBlocks = 2
)

var (
	// ErrBusy means the kind's single status slot is occupied.
	ErrBusy = errors.New("an operation of this kind is already in flight")

	// ErrConfirmationTimeout is an ambiguous outcome: the transaction was
	// submitted and may still land. It is not a failure.
	ErrConfirmationTimeout = errors.New("confirmation timed out; the transaction may still succeed")

	// ErrFinalizationTimeout means the transaction is included but the
	// chain head has not moved far enough past it in time.
	ErrFinalizationTimeout = errors.New("finalization timed out; the transaction is included but not yet final")

	// ErrPoolExists aborts a create-pool attempt for an existing pair.
	ErrPoolExists = errors.New("pool already exists")

	// ErrUserRejected is the friendly mapping of a signer-side rejection.
	ErrUserRejected = errors.New("request was rejected in the wallet")
)

// Wallet is the connection surface the machine consumes.
type Wallet interface {
	IsConnected() bool
	Account() string
	Balance(ctx context.Context, asset types.AssetID) (*big.Int, error)
	LPBalance(ctx context.Context, lpAsset types.AssetID) (*big.Int, error)
}

// GasEstimator prices a built transaction.
type GasEstimator interface {
	Estimate(ctx context.Context, tx rpc.TransactionArgs) (types.GasEstimate, error)
	EstimateWithFallback(ctx context.Context, tx rpc.TransactionArgs, fallbackLimit uint64) (types.GasEstimate, error)
}

// Observer receives a copy of a slot's status after every change.
type Observer func(types.OperationStatus)

// Config wires the machine's collaborators.
type Config struct {
	Client          rpc.Client
	Wallet          Wallet
	Gas             GasEstimator
	Clock           blocktime.ChainClock
	PrecompileAddr  string
	ExpectedChainID uint64

	ReceiptPollInterval time.Duration
	ConfirmTimeout      time.Duration
	FinalizeTimeout     time.Duration
	GuardTimeout        time.Duration

	Logger *slog.Logger
}

// Machine sequences the lifecycle for all four operation kinds. One slot
// per kind; operations of different kinds may run concurrently.
type Machine struct {
	client     rpc.Client
	wallet     Wallet
	gas        GasEstimator
	clock      blocktime.ChainClock
	precompile string
	chainID    uint64

	pollInterval    time.Duration
	confirmTimeout  time.Duration
	finalizeTimeout time.Duration
	guardTimeout    time.Duration

	logger *slog.Logger

	mu        sync.Mutex
	slots     map[types.OperationKind]*types.OperationStatus
	guards    map[string]*time.Timer
	observers []Observer
}

// Result carries everything a completed operation produced.
type Result struct {
	Status      types.OperationStatus
	Gas         types.GasEstimate
	Receipt     *rpc.Receipt
	Swap        *types.SwapEvent
	Liquidity   *types.LiquidityEvent
	PairCreated *types.PairCreatedEvent
}

// NewMachine creates a lifecycle machine from the given configuration.
func NewMachine(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		client:          cfg.Client,
		wallet:          cfg.Wallet,
		gas:             cfg.Gas,
		clock:           cfg.Clock,
		precompile:      cfg.PrecompileAddr,
		chainID:         cfg.ExpectedChainID,
		pollInterval:    cfg.ReceiptPollInterval,
		confirmTimeout:  cfg.ConfirmTimeout,
		finalizeTimeout: cfg.FinalizeTimeout,
		guardTimeout:    cfg.GuardTimeout,
		logger:          logger,
		slots:           make(map[types.OperationKind]*types.OperationStatus),
		guards:          make(map[string]*time.Timer),
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultReceiptPollInterval
	}
	if m.confirmTimeout <= 0 {
		m.confirmTimeout = DefaultConfirmTimeout
	}
	if m.finalizeTimeout <= 0 {
		m.finalizeTimeout = DefaultFinalizeTimeout
	}
	if m.guardTimeout <= 0 {
		m.guardTimeout = DefaultGuardTimeout
	}
	return m
}

// Subscribe registers an observer for status changes across all kinds.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Status returns a copy of the kind's current status slot.
func (m *Machine) Status(kind types.OperationKind) types.OperationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[kind]; ok {
		return *s
	}
	return types.OperationStatus{Kind: kind, Stage: types.StageIdle}
}

// SwapExactIn runs an exact-input swap through the full lifecycle.
func (m *Machine) SwapExactIn(ctx context.Context, p types.SwapParams) (*Result, error) {
	return m.swap(ctx, p, true)
}

// SwapExactOut runs an exact-output swap through the full lifecycle.
func (m *Machine) SwapExactOut(ctx context.Context, p types.SwapParams) (*Result, error) {
	return m.swap(ctx, p, false)
}

func (m *Machine) swap(ctx context.Context, p types.SwapParams, exactIn bool) (*Result, error) {
	id, err := m.begin(types.OpSwap)
	if err != nil {
		return nil, err
	}
	kind := types.OpSwap

	m.advance(kind, id, types.StageValidatingInputs)
	if errs := validateSwap(p, exactIn, time.Now().UnixMilli()); len(errs) > 0 {
		return nil, m.fail(kind, id, errs)
	}

	m.advance(kind, id, types.StageCheckingBalances)
	spend := p.AmountIn
	if !exactIn {
		spend = p.AmountInMax
	}
	if err := m.checkAssetBalance(ctx, p.AssetIn, spend); err != nil {
		return nil, m.fail(kind, id, err)
	}
	if err := m.checkChainID(ctx); err != nil {
		return nil, m.fail(kind, id, err)
	}

	m.advance(kind, id, types.StageCalculatingRoute)
	build := func(deadlineMS int64) ([]byte, error) {
		q := p
		q.DeadlineMS = deadlineMS
		if exactIn {
			return calldata.SwapExactIn(q)
		}
		return calldata.SwapExactOut(q)
	}
	quoteDeadline := p.DeadlineMS
	if quoteDeadline == 0 {
		if quoteDeadline, err = blocktime.ComputeDeadline(ctx, m.clock, m.logger); err != nil {
			return nil, m.fail(kind, id, err)
		}
	}
	data, err := build(quoteDeadline)
	if err != nil {
		return nil, m.fail(kind, id, err)
	}
	tx := m.baseTx(data)
	est, err := m.gas.Estimate(ctx, tx)
	if err != nil {
		return nil, m.fail(kind, id, fmt.Errorf("gas estimation: %w", err))
	}

	// The quoted deadline is only used for simulation. A caller-supplied
	// deadline is honored; an automatic one is recomputed at signing so
	// user think-time cannot expire it.
	var rebuild rebuildFunc
	if p.DeadlineMS == 0 {
		rebuild = func(ctx context.Context) ([]byte, error) {
			d, err := blocktime.ComputeDeadline(ctx, m.clock, m.logger)
			if err != nil {
				return nil, err
			}
			return build(d)
		}
	}

	res := &Result{Gas: est}
	receipt, tx, err := m.submitAndConfirm(ctx, kind, id, tx, est, rebuild)
	if err != nil {
		res.Status = m.Status(kind)
		return res, err
	}
	res.Receipt = receipt

	return m.finish(ctx, kind, id, res, tx, func() {
		if ev, err := calldata.ParseSwapEvent(receipt.Logs); err == nil {
			res.Swap = ev
		} else {
			m.logger.Warn("swap event decode failed", slog.String("error", err.Error()))
		}
	}, p.AssetIn, p.AssetOut)
}

// AddLiquidity runs an add-liquidity operation through the full lifecycle.
func (m *Machine) AddLiquidity(ctx context.Context, p types.AddLiquidityParams) (*Result, error) {
	id, err := m.begin(types.OpAddLiquidity)
	if err != nil {
		return nil, err
	}
	kind := types.OpAddLiquidity

	m.advance(kind, id, types.StageValidatingInputs)
	if errs := validateAddLiquidity(p, time.Now().UnixMilli()); len(errs) > 0 {
		return nil, m.fail(kind, id, errs)
	}

	m.advance(kind, id, types.StageCheckingBalances)
	if err := m.checkAssetBalance(ctx, p.Asset1, p.Amount1Desired); err != nil {
		return nil, m.fail(kind, id, err)
	}
	if err := m.checkAssetBalance(ctx, p.Asset2, p.Amount2Desired); err != nil {
		return nil, m.fail(kind, id, err)
	}
	if err := m.checkChainID(ctx); err != nil {
		return nil, m.fail(kind, id, err)
	}

	m.advance(kind, id, types.StageCalculatingRoute)
	data, err := calldata.AddLiquidity(p)
	if err != nil {
		return nil, m.fail(kind, id, err)
	}
	tx := m.baseTx(data)
	est, err := m.gas.Estimate(ctx, tx)
	if err != nil {
		return nil, m.fail(kind, id, fmt.Errorf("gas estimation: %w", err))
	}

	res := &Result{Gas: est}
	receipt, tx, err := m.submitAndConfirm(ctx, kind, id, tx, est, nil)
	if err != nil {
		res.Status = m.Status(kind)
		return res, err
	}
	res.Receipt = receipt

	return m.finish(ctx, kind, id, res, tx, func() {
		if ev, err := calldata.ParseLiquidityEvent(receipt.Logs); err == nil {
			res.Liquidity = ev
		} else {
			m.logger.Warn("mint event decode failed", slog.String("error", err.Error()))
		}
	}, p.Asset1, p.Asset2)
}

// RemoveLiquidity runs a remove-liquidity operation through the full
// lifecycle.
func (m *Machine) RemoveLiquidity(ctx context.Context, p types.RemoveLiquidityParams) (*Result, error) {
	id, err := m.begin(types.OpRemoveLiquidity)
	if err != nil {
		return nil, err
	}
	kind := types.OpRemoveLiquidity

	m.advance(kind, id, types.StageValidatingInputs)
	if errs := validateRemoveLiquidity(p, time.Now().UnixMilli()); len(errs) > 0 {
		return nil, m.fail(kind, id, errs)
	}

	m.advance(kind, id, types.StageCheckingBalances)
	if err := m.checkLPBalance(ctx, p.Asset1, p.Asset2, p.LPBurn); err != nil {
		return nil, m.fail(kind, id, err)
	}
	if err := m.checkChainID(ctx); err != nil {
		return nil, m.fail(kind, id, err)
	}

	m.advance(kind, id, types.StageCalculatingRoute)
	data, err := calldata.RemoveLiquidity(p)
	if err != nil {
		return nil, m.fail(kind, id, err)
	}
	tx := m.baseTx(data)
	est, err := m.gas.Estimate(ctx, tx)
	if err != nil {
		return nil, m.fail(kind, id, fmt.Errorf("gas estimation: %w", err))
	}

	res := &Result{Gas: est}
	receipt, tx, err := m.submitAndConfirm(ctx, kind, id, tx, est, nil)
	if err != nil {
		res.Status = m.Status(kind)
		return res, err
	}
	res.Receipt = receipt

	return m.finish(ctx, kind, id, res, tx, func() {
		if ev, err := calldata.ParseLiquidityEvent(receipt.Logs); err == nil {
			res.Liquidity = ev
		} else {
			m.logger.Warn("burn event decode failed", slog.String("error", err.Error()))
		}
	}, p.Asset1, p.Asset2)
}

// CreatePool runs a create-pool operation through the full lifecycle. The
// pool-existence check is advisory: a failing check never blocks a
// legitimate creation attempt, but a confirmed duplicate aborts.
func (m *Machine) CreatePool(ctx context.Context, p types.CreatePoolParams) (*Result, error) {
	id, err := m.begin(types.OpCreatePool)
	if err != nil {
		return nil, err
	}
	kind := types.OpCreatePool

	m.advance(kind, id, types.StageValidatingInputs)
	if errs := validateCreatePool(p); len(errs) > 0 {
		return nil, m.fail(kind, id, errs)
	}

	m.advance(kind, id, types.StageCheckingBalances)
	if pair, err := m.pairAddress(ctx, p.Asset1, p.Asset2); err != nil {
		m.logger.Warn("pool existence check failed, proceeding",
			slog.String("error", err.Error()),
		)
	} else if pair != (common.Address{}) {
		return nil, m.fail(kind, id, fmt.Errorf("%w at %s", ErrPoolExists, pair.Hex()))
	}
	if err := m.checkChainID(ctx); err != nil {
		return nil, m.fail(kind, id, err)
	}

	m.advance(kind, id, types.StageCalculatingRoute)
	data, err := calldata.CreatePair(p)
	if err != nil {
		return nil, m.fail(kind, id, err)
	}
	tx := m.baseTx(data)
	est, err := m.gas.EstimateWithFallback(ctx, tx, gas.CreatePoolFallbackGasLimit)
	if err != nil {
		return nil, m.fail(kind, id, fmt.Errorf("gas estimation: %w", err))
	}

	res := &Result{Gas: est}
	receipt, tx, err := m.submitAndConfirm(ctx, kind, id, tx, est, nil)
	if err != nil {
		res.Status = m.Status(kind)
		return res, err
	}
	res.Receipt = receipt

	return m.finish(ctx, kind, id, res, tx, func() {
		if ev, err := calldata.ParsePairCreatedEvent(receipt.Logs); err == nil {
			res.PairCreated = ev
		} else {
			m.logger.Warn("pairCreated event decode failed", slog.String("error", err.Error()))
		}
	}, p.Asset1, p.Asset2)
}

type rebuildFunc func(ctx context.Context) ([]byte, error)

// submitAndConfirm covers signing through receipt confirmation. It returns
// the receipt plus the transaction as actually submitted, so a failed run
// can be replayed for its revert reason.
func (m *Machine) submitAndConfirm(ctx context.Context, kind types.OperationKind, id string, tx rpc.TransactionArgs, est types.GasEstimate, rebuild rebuildFunc) (*rpc.Receipt, rpc.TransactionArgs, error) {
	m.advance(kind, id, types.StageSigning)

	if rebuild != nil {
		data, err := rebuild(ctx)
		if err != nil {
			return nil, tx, m.fail(kind, id, fmt.Errorf("recompute deadline: %w", err))
		}
		tx.Data = hexutil.Encode(data)
	}
	if err := applyGas(&tx, est); err != nil {
		return nil, tx, m.fail(kind, id, err)
	}

	submittedHead, headErr := m.client.BlockNumber(ctx)

	txHash, err := m.client.SendTransaction(ctx, tx)
	if err != nil {
		if rpc.IsUserRejection(err) {
			return nil, tx, m.fail(kind, id, ErrUserRejected)
		}
		return nil, tx, m.fail(kind, id, fmt.Errorf("send transaction: %w", err))
	}
	m.setTxHash(kind, id, txHash)
	m.logger.Info("transaction submitted",
		slog.String("kind", string(kind)),
		slog.String("tx_hash", txHash),
	)

	m.advance(kind, id, types.StageWaitingForNewBlock)
	if headErr != nil {
		// Without a head reading the new-block wait degenerates to the
		// first receipt poll.
		submittedHead = 0
	}

	receipt, err := m.awaitReceipt(ctx, kind, id, txHash, submittedHead)
	if err != nil {
		return nil, tx, err
	}
	return receipt, tx, nil
}

// awaitReceipt polls for the receipt until the confirmation timeout. A
// timeout clears the loading flag and reports the ambiguous outcome; it
// never marks the operation failed.
func (m *Machine) awaitReceipt(ctx context.Context, kind types.OperationKind, id, txHash string, submittedHead uint64) (*rpc.Receipt, error) {
	deadline := time.Now().Add(m.confirmTimeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	confirmed := false
	for {
		select {
		case <-ctx.Done():
			return nil, m.fail(kind, id, ctx.Err())
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			m.clearLoading(kind, id)
			return nil, fmt.Errorf("%w (tx %s)", ErrConfirmationTimeout, txHash)
		}

		if !confirmed && submittedHead > 0 {
			if head, err := m.client.BlockNumber(ctx); err == nil && head > submittedHead {
				m.advance(kind, id, types.StageWaitingForConfirmation)
				confirmed = true
			}
		}

		receipt, err := m.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			m.logger.Debug("receipt poll failed",
				slog.String("tx_hash", txHash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if receipt == nil {
			continue
		}

		if !confirmed {
			m.advance(kind, id, types.StageWaitingForConfirmation)
		}
		m.setBlock(kind, id, receipt.BlockNumber)
		return receipt, nil
	}
}

// finish covers the post-receipt stages: revert handling, finality wait,
// event decoding, and balance refresh. Event-decode failures degrade to a
// log line; they never fail a confirmed operation.
func (m *Machine) finish(ctx context.Context, kind types.OperationKind, id string, res *Result, tx rpc.TransactionArgs, decode func(), assets ...types.AssetID) (*Result, error) {
	receipt := res.Receipt
	if receipt.Status == 0 {
		msg := "transaction reverted"
		if reason, ok := revertReason(ctx, m.client, tx, receipt.BlockNumber); ok {
			msg = "transaction reverted: " + reason
		}
		err := m.fail(kind, id, errors.New(msg))
		res.Status = m.Status(kind)
		return res, err
	}

	m.advance(kind, id, types.StageWaitingForFinalization)
	if err := m.awaitFinality(ctx, kind, id, receipt.BlockNumber); err != nil {
		res.Status = m.Status(kind)
		return res, err
	}

	m.advance(kind, id, types.StageFinalizing)
	decode()

	m.advance(kind, id, types.StageUpdatingBalances)
	for _, asset := range assets {
		if _, err := m.wallet.Balance(ctx, asset); err != nil {
			m.logger.Debug("balance refresh failed",
				slog.Uint64("asset", uint64(asset)),
				slog.String("error", err.Error()),
			)
		}
	}

	m.complete(kind, id)
	res.Status = m.Status(kind)
	return res, nil
}

// awaitFinality waits for the head to move finalityLagBlocks past the
// inclusion block. Timeout is ambiguous, mirroring the confirmation wait.
func (m *Machine) awaitFinality(ctx context.Context, kind types.OperationKind, id string, inclusionBlock uint64) error {
	deadline := time.Now().Add(m.finalizeTimeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		head, err := m.client.BlockNumber(ctx)
		if err == nil && head >= inclusionBlock+finalityLagBlocks {
			return nil
		}
		if err != nil {
			m.logger.Debug("head poll failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return m.fail(kind, id, ctx.Err())
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			m.clearLoading(kind, id)
			return fmt.Errorf("%w (included in block %d)", ErrFinalizationTimeout, inclusionBlock)
		}
	}
}

func (m *Machine) baseTx(data []byte) rpc.TransactionArgs {
	return rpc.TransactionArgs{
		From: m.wallet.Account(),
		To:   m.precompile,
		Data: hexutil.Encode(data),
	}
}

// applyGas writes the estimate onto the wire-format transaction. Exactly
// one fee family is set.
func applyGas(tx *rpc.TransactionArgs, est types.GasEstimate) error {
	tx.Gas = hexutil.EncodeUint64(est.GasLimit)
	if est.IsDynamic() {
		maxFee, err := decimalToHex(est.MaxFeePerGas)
		if err != nil {
			return fmt.Errorf("max fee: %w", err)
		}
		priority, err := decimalToHex(est.MaxPriorityFeePerGas)
		if err != nil {
			return fmt.Errorf("priority fee: %w", err)
		}
		tx.MaxFeePerGas = maxFee
		tx.MaxPriorityFeePerGas = priority
		return nil
	}
	price, err := decimalToHex(est.GasPrice)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	tx.GasPrice = price
	return nil
}

func decimalToHex(s string) (string, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", fmt.Errorf("invalid wei value %q", s)
	}
	return hexutil.EncodeBig(v), nil
}

func (m *Machine) checkChainID(ctx context.Context) error {
	actual, err := m.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("verify chain id: %w", err)
	}
	if actual != m.chainID {
		return &conn.ChainMismatchError{Expected: m.chainID, Actual: actual}
	}
	return nil
}

// checkAssetBalance compares the wallet's holding against a required
// amount. A failed fetch is advisory (the node will reject an underfunded
// transaction anyway); a confirmed shortfall is fatal.
func (m *Machine) checkAssetBalance(ctx context.Context, asset types.AssetID, amount string) error {
	if !m.wallet.IsConnected() {
		return conn.ErrNotConnected
	}
	need, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", amount)
	}
	have, err := m.wallet.Balance(ctx, asset)
	if err != nil {
		m.logger.Warn("balance check failed, proceeding",
			slog.Uint64("asset", uint64(asset)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if have.Cmp(need) < 0 {
		return fmt.Errorf("insufficient balance for asset %d: have %s, need %s", asset, have, need)
	}
	return nil
}

// checkLPBalance resolves the pair's LP token and compares its holding
// against the burn amount.
func (m *Machine) checkLPBalance(ctx context.Context, asset1, asset2 types.AssetID, burn string) error {
	if !m.wallet.IsConnected() {
		return conn.ErrNotConnected
	}
	need, ok := new(big.Int).SetString(burn, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", burn)
	}

	pair, err := m.pairAddress(ctx, asset1, asset2)
	if err != nil {
		m.logger.Warn("LP balance check failed, proceeding", slog.String("error", err.Error()))
		return nil
	}
	if pair == (common.Address{}) {
		return fmt.Errorf("no pool exists for assets %d and %d", asset1, asset2)
	}
	lpID, err := assetaddr.AssetID(pair.Hex())
	if err != nil {
		m.logger.Warn("unrecognized pair address, skipping LP balance check",
			slog.String("pair", pair.Hex()),
		)
		return nil
	}
	have, err := m.wallet.LPBalance(ctx, lpID)
	if err != nil {
		m.logger.Warn("LP balance check failed, proceeding", slog.String("error", err.Error()))
		return nil
	}
	if have.Cmp(need) < 0 {
		return fmt.Errorf("insufficient LP balance: have %s, need %s", have, need)
	}
	return nil
}

func (m *Machine) pairAddress(ctx context.Context, asset1, asset2 types.AssetID) (common.Address, error) {
	data, err := m.client.CallContract(ctx, rpc.TransactionArgs{
		To:   m.precompile,
		Data: hexutil.Encode(calldata.GetPair(asset1, asset2)),
	}, "latest")
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair: %w", err)
	}
	return calldata.DecodeAddressResult(data)
}

// --- slot bookkeeping ---

func newOperationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("op-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// begin claims the kind's slot and starts the independent guard timer.
func (m *Machine) begin(kind types.OperationKind) (string, error) {
	m.mu.Lock()
	if s, ok := m.slots[kind]; ok && s.Loading {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrBusy, kind)
	}

	id := newOperationID()
	now := time.Now()
	status := &types.OperationStatus{
		ID:        id,
		Kind:      kind,
		Stage:     types.StagePreparing,
		Loading:   true,
		StartedAt: now,
		UpdatedAt: now,
	}
	m.slots[kind] = status
	m.guards[id] = time.AfterFunc(m.guardTimeout, func() { m.guardFire(kind, id) })
	snapshot := *status
	m.mu.Unlock()

	m.notify(snapshot)
	return id, nil
}

// guardFire force-clears a loading flag the polling loops failed to clear.
func (m *Machine) guardFire(kind types.OperationKind, id string) {
	m.mu.Lock()
	s, ok := m.slots[kind]
	if !ok || s.ID != id || !s.Loading {
		m.mu.Unlock()
		return
	}
	s.Loading = false
	s.UpdatedAt = time.Now()
	snapshot := *s
	m.mu.Unlock()

	m.logger.Warn("operation guard fired, clearing stuck loading flag",
		slog.String("kind", string(kind)),
		slog.String("id", id),
		slog.String("stage", string(snapshot.Stage)),
	)
	m.notify(snapshot)
}

func (m *Machine) advance(kind types.OperationKind, id string, stage types.Stage) {
	m.update(kind, id, func(s *types.OperationStatus) {
		if !stage.After(s.Stage) {
			return
		}
		s.Stage = stage
	})
}

func (m *Machine) setTxHash(kind types.OperationKind, id, txHash string) {
	m.update(kind, id, func(s *types.OperationStatus) { s.TxHash = txHash })
}

func (m *Machine) setBlock(kind types.OperationKind, id string, block uint64) {
	m.update(kind, id, func(s *types.OperationStatus) { s.Block = block })
}

func (m *Machine) clearLoading(kind types.OperationKind, id string) {
	m.stopGuard(id)
	m.update(kind, id, func(s *types.OperationStatus) { s.Loading = false })
}

// fail moves the slot to the error stage and returns the error unchanged
// so call sites can `return m.fail(...)`.
func (m *Machine) fail(kind types.OperationKind, id string, err error) error {
	m.stopGuard(id)
	m.update(kind, id, func(s *types.OperationStatus) {
		s.Stage = types.StageError
		s.Error = err.Error()
		s.Loading = false
	})
	m.logger.Error("operation failed",
		slog.String("kind", string(kind)),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	return err
}

func (m *Machine) complete(kind types.OperationKind, id string) {
	m.stopGuard(id)
	m.update(kind, id, func(s *types.OperationStatus) {
		s.Stage = types.StageSuccess
		s.Loading = false
	})
	m.logger.Info("operation succeeded",
		slog.String("kind", string(kind)),
		slog.String("id", id),
	)
}

func (m *Machine) stopGuard(id string) {
	m.mu.Lock()
	if t, ok := m.guards[id]; ok {
		t.Stop()
		delete(m.guards, id)
	}
	m.mu.Unlock()
}

func (m *Machine) update(kind types.OperationKind, id string, fn func(*types.OperationStatus)) {
	m.mu.Lock()
	s, ok := m.slots[kind]
	if !ok || s.ID != id {
		m.mu.Unlock()
		return
	}
	fn(s)
	s.UpdatedAt = time.Now()
	snapshot := *s
	m.mu.Unlock()

	m.notify(snapshot)
}

func (m *Machine) notify(status types.OperationStatus) {
	m.mu.Lock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, obs := range observers {
		obs(status)
	}
}
