package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
)

const testAddress = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

type fakeChainState struct {
	mu    sync.Mutex
	nonce uint64
	calls int
}

func (f *fakeChainState) ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if method != "eth_getTransactionCount" {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	f.calls++
	return json.RawMessage(fmt.Sprintf(`"0x%x"`, f.nonce)), nil
}

func (f *fakeChainState) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChainState) setNonce(n uint64) {
	f.mu.Lock()
	f.nonce = n
	f.mu.Unlock()
}

func newTestManager(t *testing.T, exec RequestExecutor) *Manager {
	t.Helper()

	m, err := NewManager(exec, logger.New(io.Discard, logger.LevelError, "test", nil))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_GetNonce_InitializesOnce(t *testing.T) {
	state := &fakeChainState{nonce: 7}
	m := newTestManager(t, state)

	ctx := context.Background()

	got, err := m.GetNonce(ctx, chain.Ethereum, testAddress)
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	if got != 7 {
		t.Fatalf("GetNonce = %d, want 7", got)
	}

	if _, err := m.GetNonce(ctx, chain.Ethereum, testAddress); err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	if state.callCount() != 1 {
		t.Fatalf("second read should hit the cache, got %d chain calls", state.callCount())
	}
}

func TestManager_IncrementNonce_ConcurrentStrictlyIncreasing(t *testing.T) {
	const initial = 10
	const workers = 50

	state := &fakeChainState{nonce: initial}
	m := newTestManager(t, state)

	ctx := context.Background()
	results := make(chan uint64, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.IncrementNonce(ctx, chain.Ethereum, testAddress)
			if err != nil {
				t.Errorf("IncrementNonce: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, workers)
	for n := range results {
		if seen[n] {
			t.Fatalf("duplicate nonce %d handed out", n)
		}
		seen[n] = true
	}
	for want := uint64(initial + 1); want <= initial+workers; want++ {
		if !seen[want] {
			t.Fatalf("nonce %d missing; values must cover initial+1..initial+N with no gaps", want)
		}
	}
	if state.callCount() != 1 {
		t.Fatalf("expected a single on-chain init, got %d", state.callCount())
	}
}

func TestManager_SyncNonce_OverwritesDrift(t *testing.T) {
	state := &fakeChainState{nonce: 5}
	m := newTestManager(t, state)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.IncrementNonce(ctx, chain.Ethereum, testAddress); err != nil {
			t.Fatalf("IncrementNonce: %v", err)
		}
	}

	// An external transaction bumps the on-chain value past our cache.
	state.setNonce(20)
	got, err := m.SyncNonce(ctx, chain.Ethereum, testAddress)
	if err != nil {
		t.Fatalf("SyncNonce: %v", err)
	}
	if got != 20 {
		t.Fatalf("SyncNonce = %d, want 20", got)
	}

	next, _ := m.IncrementNonce(ctx, chain.Ethereum, testAddress)
	if next != 21 {
		t.Fatalf("increment after sync = %d, want 21", next)
	}
}

func TestManager_ResetNonce_ForcesReinit(t *testing.T) {
	state := &fakeChainState{nonce: 3}
	m := newTestManager(t, state)

	ctx := context.Background()

	if _, err := m.GetNonce(ctx, chain.Ethereum, testAddress); err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	if err := m.ResetNonce(ctx, chain.Ethereum, testAddress); err != nil {
		t.Fatalf("ResetNonce: %v", err)
	}

	state.setNonce(9)
	got, err := m.GetNonce(ctx, chain.Ethereum, testAddress)
	if err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	if got != 9 {
		t.Fatalf("GetNonce after reset = %d, want fresh on-chain value 9", got)
	}
	if state.callCount() != 2 {
		t.Fatalf("reset should force a second on-chain read, got %d", state.callCount())
	}
}

func TestManager_Validation(t *testing.T) {
	state := &fakeChainState{}
	m := newTestManager(t, state)

	ctx := context.Background()

	_, err := m.GetNonce(ctx, chain.ID(424242), testAddress)
	if apperror.GetCode(err) != apperror.CodeInvalidChain {
		t.Fatalf("expected CodeInvalidChain, got %v", err)
	}

	_, err = m.IncrementNonce(ctx, chain.Ethereum, "not-an-address")
	if apperror.GetCode(err) != apperror.CodeInvalidAddress {
		t.Fatalf("expected CodeInvalidAddress, got %v", err)
	}

	if state.callCount() != 0 {
		t.Fatal("validation failures must not reach the chain")
	}
}
