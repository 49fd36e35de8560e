package native

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// DefaultGuardTimeout force-clears a stuck loading flag, mirroring the
// EVM-path safety net.
const DefaultGuardTimeout = 3 * time.Minute

var (
	// ErrBusy means the kind's single status slot is occupied.
	ErrBusy = errors.New("an operation of this kind is already in flight")

	// ErrStatusStreamClosed means the collaborator stopped reporting before
	// a terminal status arrived. Ambiguous: the extrinsic may still land.
	ErrStatusStreamClosed = errors.New("status stream ended before finalization; the extrinsic may still succeed")
)

// Observer receives a copy of a slot's status after every change.
type Observer func(types.OperationStatus)

// Config wires the native machine's collaborators.
type Config struct {
	Submitter    Submitter
	Errors       *ErrorRegistry
	GuardTimeout time.Duration
	Logger       *slog.Logger
}

// Machine drives the extrinsic-path lifecycle. Unlike the EVM machine it
// does not poll; each received status event produces exactly one stage
// transition.
type Machine struct {
	submitter    Submitter
	errs         *ErrorRegistry
	guardTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	slots     map[types.OperationKind]*types.OperationStatus
	guards    map[string]*time.Timer
	observers []Observer
}

// NewMachine creates a native-path lifecycle machine.
func NewMachine(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := cfg.GuardTimeout
	if guard <= 0 {
		guard = DefaultGuardTimeout
	}
	return &Machine{
		submitter:    cfg.Submitter,
		errs:         cfg.Errors,
		guardTimeout: guard,
		logger:       logger,
		slots:        make(map[types.OperationKind]*types.OperationStatus),
		guards:       make(map[string]*time.Timer),
	}
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

// EstimateFee queries pre-dispatch payment info for a call.
func (m *Machine) EstimateFee(ctx context.Context, call Call) (*FeeInfo, error) {
	info, err := m.submitter.PaymentInfo(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("payment info for %s.%s: %w", call.Pallet, call.Method, err)
	}
	return info, nil
}

// Swap submits a swap extrinsic and follows it to finalization.
func (m *Machine) Swap(ctx context.Context, p types.SwapParams, exactIn bool) (types.OperationStatus, error) {
	return m.execute(ctx, types.OpSwap, SwapCall(p, exactIn), func() error {
		var errs []string
		if p.AssetIn == p.AssetOut {
			errs = append(errs, "input and output assets are identical")
		}
		if exactIn {
			errs = appendAmountErr(errs, "amountIn", p.AmountIn)
			errs = appendAmountErr(errs, "amountOutMin", p.AmountOutMin)
		} else {
			errs = appendAmountErr(errs, "amountOut", p.AmountOut)
			errs = appendAmountErr(errs, "amountInMax", p.AmountInMax)
		}
		return joinViolations(errs)
	})
}

// AddLiquidity submits an add-liquidity extrinsic and follows it to
// finalization.
func (m *Machine) AddLiquidity(ctx context.Context, p types.AddLiquidityParams) (types.OperationStatus, error) {
	return m.execute(ctx, types.OpAddLiquidity, AddLiquidityCall(p), func() error {
		var errs []string
		if p.Asset1 == p.Asset2 {
			errs = append(errs, "pool assets are identical")
		}
		errs = appendAmountErr(errs, "amount1Desired", p.Amount1Desired)
		errs = appendAmountErr(errs, "amount2Desired", p.Amount2Desired)
		return joinViolations(errs)
	})
}

// RemoveLiquidity submits a remove-liquidity extrinsic and follows it to
// finalization.
func (m *Machine) RemoveLiquidity(ctx context.Context, p types.RemoveLiquidityParams) (types.OperationStatus, error) {
	return m.execute(ctx, types.OpRemoveLiquidity, RemoveLiquidityCall(p), func() error {
		var errs []string
		if p.Asset1 == p.Asset2 {
			errs = append(errs, "pool assets are identical")
		}
		errs = appendAmountErr(errs, "lpBurn", p.LPBurn)
		return joinViolations(errs)
	})
}

// CreatePool submits a create-pool extrinsic and follows it to
// finalization.
func (m *Machine) CreatePool(ctx context.Context, p types.CreatePoolParams) (types.OperationStatus, error) {
	return m.execute(ctx, types.OpCreatePool, CreatePoolCall(p), func() error {
		if p.Asset1 == p.Asset2 {
			return errors.New("invalid parameters: pool assets are identical")
		}
		return nil
	})
}

func appendAmountErr(errs []string, field, s string) []string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return append(errs, fmt.Sprintf("%s %q is not a decimal integer", field, s))
	}
	if v.Sign() <= 0 {
		return append(errs, fmt.Sprintf("%s must be positive", field))
	}
	return errs
}

func joinViolations(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New("invalid parameters: " + strings.Join(errs, "; "))
}

func (m *Machine) execute(ctx context.Context, kind types.OperationKind, call Call, validate func() error) (types.OperationStatus, error) {
	id, err := m.begin(kind)
	if err != nil {
		return m.Status(kind), err
	}

	m.advance(kind, id, types.StageValidatingInputs)
	if err := validate(); err != nil {
		return m.Status(kind), m.fail(kind, id, err)
	}

	m.advance(kind, id, types.StageSigning)
	events, err := m.submitter.SignAndSubmit(ctx, call)
	if err != nil {
		return m.Status(kind), m.fail(kind, id, fmt.Errorf("submit %s.%s: %w", call.Pallet, call.Method, err))
	}
	m.logger.Info("extrinsic submitted",
		slog.String("kind", string(kind)),
		slog.String("call", call.Pallet+"."+call.Method),
	)

	for {
		select {
		case <-ctx.Done():
			return m.Status(kind), m.fail(kind, id, ctx.Err())

		case ev, ok := <-events:
			if !ok {
				m.clearLoading(kind, id)
				return m.Status(kind), ErrStatusStreamClosed
			}

			switch ev.Kind {
			case StatusReady:
				m.advance(kind, id, types.StageWaitingForNewBlock)

			case StatusBroadcast:
				m.advance(kind, id, types.StageWaitingForConfirmation)

			case StatusInBlock:
				if ev.Dispatch != nil {
					return m.Status(kind), m.fail(kind, id, errors.New(m.errs.Describe(ev.Dispatch)))
				}
				m.setBlockHash(kind, id, ev.BlockHash)
				m.advance(kind, id, types.StageWaitingForFinalization)

			case StatusFinalized:
				if ev.Dispatch != nil {
					return m.Status(kind), m.fail(kind, id, errors.New(m.errs.Describe(ev.Dispatch)))
				}
				m.advance(kind, id, types.StageFinalizing)
				m.advance(kind, id, types.StageUpdatingBalances)
				m.complete(kind, id)
				return m.Status(kind), nil

			case StatusDropped, StatusInvalid:
				return m.Status(kind), m.fail(kind, id, fmt.Errorf("extrinsic %s by the pool", ev.Kind))
			}
		}
	}
}

// --- slot bookkeeping ---

func newOperationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("op-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

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

func (m *Machine) setBlockHash(kind types.OperationKind, id, blockHash string) {
	m.update(kind, id, func(s *types.OperationStatus) { s.TxHash = blockHash })
}

func (m *Machine) clearLoading(kind types.OperationKind, id string) {
	m.stopGuard(id)
	m.update(kind, id, func(s *types.OperationStatus) { s.Loading = false })
}

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
