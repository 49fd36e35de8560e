// Package conn manages the wallet connection lifecycle. The manager is an
// injectable object; callers hold a reference instead of reaching for
// ambient globals.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/gateway-fm/p3dex/internal/assetaddr"
	"github.com/gateway-fm/p3dex/internal/calldata"
	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/pkg/types"
)

// ErrNotConnected is returned when an operation needs a connected account.
var ErrNotConnected = errors.New("wallet not connected")

// ErrNoAccounts is returned when the provider exposes no accounts.
var ErrNoAccounts = errors.New("provider returned no accounts")

// ChainMismatchError reports a provider attached to the wrong network.
type ChainMismatchError struct {
	Expected uint64
	Actual   uint64
}

func (e *ChainMismatchError) Error() string {
	return fmt.Sprintf("wrong network: connected to chain %d, expected %d", e.Actual, e.Expected)
}

// Manager owns the provider connection state. Concurrent Connect calls share
// a single in-flight attempt, and balance reads for the same owner and asset
// coalesce into one RPC.
type Manager struct {
	client          rpc.Client
	expectedChainID uint64
	logger          *slog.Logger

	connectGroup singleflight.Group
	balanceGroup singleflight.Group

	mu      sync.RWMutex
	account string
}

// NewManager creates a connection manager for the given provider client.
func NewManager(client rpc.Client, expectedChainID uint64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:          client,
		expectedChainID: expectedChainID,
		logger:          logger,
	}
}

// Connect requests account access from the provider and verifies the chain
// id, returning the active account address. An already-connected manager
// returns its account without touching the provider again.
func (m *Manager) Connect(ctx context.Context) (string, error) {
	m.mu.RLock()
	account := m.account
	m.mu.RUnlock()
	if account != "" {
		return account, nil
	}

	v, err, _ := m.connectGroup.Do("connect", func() (interface{}, error) {
		return m.connect(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) connect(ctx context.Context) (string, error) {
	accounts, err := m.client.RequestAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", ErrNoAccounts
	}

	chainID, err := m.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("verify chain id: %w", err)
	}
	if chainID != m.expectedChainID {
		return "", &ChainMismatchError{Expected: m.expectedChainID, Actual: chainID}
	}

	account, err := assetaddr.Checksum(accounts[0])
	if err != nil {
		return "", fmt.Errorf("provider returned invalid account %q: %w", accounts[0], err)
	}

	m.mu.Lock()
	m.account = account
	m.mu.Unlock()

	m.logger.Info("wallet connected",
		slog.String("account", account),
		slog.Uint64("chain_id", chainID),
	)
	return account, nil
}

// IsConnected reports whether an account is active.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account != ""
}

// Account returns the active account address, empty when disconnected.
func (m *Manager) Account() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// Disconnect clears the connection state. The provider keeps its own
// session; this only forgets the local account.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	account := m.account
	m.account = ""
	m.mu.Unlock()

	if account != "" {
		m.logger.Info("wallet disconnected", slog.String("account", account))
	}
}

// Balance fetches the connected account's balance of an asset via the
// asset precompile's balanceOf. Concurrent requests for the same owner and
// asset share one RPC round trip.
func (m *Manager) Balance(ctx context.Context, asset types.AssetID) (*big.Int, error) {
	return m.balance(ctx, asset, assetaddr.AssetAddress(asset))
}

// LPBalance fetches the connected account's balance of a liquidity-pool
// token.
func (m *Manager) LPBalance(ctx context.Context, lpAsset types.AssetID) (*big.Int, error) {
	return m.balance(ctx, lpAsset, assetaddr.LPAssetAddress(lpAsset))
}

func (m *Manager) balance(ctx context.Context, asset types.AssetID, assetAddr string) (*big.Int, error) {
	m.mu.RLock()
	account := m.account
	m.mu.RUnlock()
	if account == "" {
		return nil, ErrNotConnected
	}

	key := account + "|" + assetAddr
	v, err, shared := m.balanceGroup.Do(key, func() (interface{}, error) {
		data, err := m.client.CallContract(ctx, rpc.TransactionArgs{
			To:   assetAddr,
			Data: "0x" + common.Bytes2Hex(calldata.BalanceOf(common.HexToAddress(account))),
		}, "latest")
		if err != nil {
			return nil, fmt.Errorf("balance of asset %d: %w", asset, err)
		}
		return calldata.DecodeUintResult(data)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("balance fetch coalesced", slog.String("key", key))
	}
	// Shared results must not alias; callers may mutate the value.
	return new(big.Int).Set(v.(*big.Int)), nil
}
