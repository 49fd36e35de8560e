package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/p3dex/internal/rpc"
)

const testAccount = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

// fakeClient overrides only the provider methods the manager touches.
type fakeClient struct {
	rpc.Client

	requestAccounts func(ctx context.Context) ([]string, error)
	chainID         func(ctx context.Context) (uint64, error)
	callContract    func(ctx context.Context, tx rpc.TransactionArgs, blockNum string) ([]byte, error)
}

func (f *fakeClient) RequestAccounts(ctx context.Context) ([]string, error) {
	return f.requestAccounts(ctx)
}

func (f *fakeClient) ChainID(ctx context.Context) (uint64, error) {
	if f.chainID != nil {
		return f.chainID(ctx)
	}
	return 1333, nil
}

func (f *fakeClient) CallContract(ctx context.Context, tx rpc.TransactionArgs, blockNum string) ([]byte, error) {
	return f.callContract(ctx, tx, blockNum)
}

func connected(t *testing.T, f *fakeClient) *Manager {
	t.Helper()
	m := NewManager(f, 1333, nil)
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return m
}

func TestConnect(t *testing.T) {
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			return []string{"0x8ba1f109551bd432803012645ac136ddd64dba72"}, nil
		},
	}
	m := NewManager(f, 1333, nil)

	account, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if account != testAccount {
		t.Errorf("account = %s, want checksummed %s", account, testAccount)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	m.Disconnect()
	if m.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if m.Account() != "" {
		t.Errorf("Account() = %s after Disconnect", m.Account())
	}
}

func TestConnect_ChainMismatch(t *testing.T) {
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			return []string{testAccount}, nil
		},
		chainID: func(context.Context) (uint64, error) { return 1, nil },
	}
	m := NewManager(f, 1333, nil)

	_, err := m.Connect(context.Background())
	var mismatch *ChainMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Connect() error = %v, want ChainMismatchError", err)
	}
	if mismatch.Expected != 1333 || mismatch.Actual != 1 {
		t.Errorf("mismatch = %+v", mismatch)
	}
	if m.IsConnected() {
		t.Error("mismatched connection must not be recorded")
	}
}

func TestConnect_NoAccounts(t *testing.T) {
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) { return nil, nil },
	}
	if _, err := NewManager(f, 1333, nil).Connect(context.Background()); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("Connect() error = %v, want ErrNoAccounts", err)
	}
}

func TestConnect_ConcurrentCallsShareOneAttempt(t *testing.T) {
	var calls atomic.Int64
	gate := make(chan struct{})
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			calls.Add(1)
			<-gate
			return []string{testAccount}, nil
		},
	}
	m := NewManager(f, 1333, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Connect(context.Background()); err != nil {
				t.Errorf("Connect() error = %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("provider prompted %d times, want 1", got)
	}
}

func TestBalance_RequiresConnection(t *testing.T) {
	m := NewManager(&fakeClient{}, 1333, nil)
	if _, err := m.Balance(context.Background(), 222); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Balance() error = %v, want ErrNotConnected", err)
	}
}

func TestBalance(t *testing.T) {
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			return []string{testAccount}, nil
		},
	}
	var gotTo string
	f.callContract = func(_ context.Context, tx rpc.TransactionArgs, _ string) ([]byte, error) {
		gotTo = tx.To
		word := make([]byte, 32)
		word[31] = 42
		return word, nil
	}
	m := connected(t, f)

	bal, err := m.Balance(context.Background(), 222)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.Int64() != 42 {
		t.Errorf("balance = %s, want 42", bal)
	}
	if gotTo != "0xfBFBfbFA000000000000000000000000000000de" {
		t.Errorf("call target = %s, want asset 222 precompile", gotTo)
	}
}

func TestLPBalance_TargetsLPFamily(t *testing.T) {
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			return []string{testAccount}, nil
		},
	}
	var gotTo string
	f.callContract = func(_ context.Context, tx rpc.TransactionArgs, _ string) ([]byte, error) {
		gotTo = tx.To
		return make([]byte, 32), nil
	}
	m := connected(t, f)

	if _, err := m.LPBalance(context.Background(), 222); err != nil {
		t.Fatalf("LPBalance() error = %v", err)
	}
	if gotTo != "0xfbfBFBFB000000000000000000000000000000dE" {
		t.Errorf("call target = %s, want LP 222 precompile", gotTo)
	}
}

func TestBalance_CoalescesConcurrentFetches(t *testing.T) {
	var calls atomic.Int64
	gate := make(chan struct{})
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			return []string{testAccount}, nil
		},
		callContract: func(context.Context, rpc.TransactionArgs, string) ([]byte, error) {
			calls.Add(1)
			<-gate
			return make([]byte, 32), nil
		},
	}
	m := connected(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Balance(context.Background(), 7); err != nil {
				t.Errorf("Balance() error = %v", err)
			}
		}()
	}
	// Let every goroutine join the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("made %d RPCs for one coalesced key, want 1", got)
	}
}

func TestBalance_ResultsDoNotAlias(t *testing.T) {
	f := &fakeClient{
		requestAccounts: func(context.Context) ([]string, error) {
			return []string{testAccount}, nil
		},
		callContract: func(context.Context, rpc.TransactionArgs, string) ([]byte, error) {
			word := make([]byte, 32)
			word[31] = 9
			return word, nil
		},
	}
	m := connected(t, f)

	a, _ := m.Balance(context.Background(), 1)
	b, _ := m.Balance(context.Background(), 1)
	a.SetInt64(0)
	if b.Int64() != 9 {
		t.Error("mutating one caller's balance must not affect another's")
	}
}
