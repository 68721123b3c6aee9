package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/fd1az/chain-gateway/business/oracle/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
)

// fakeExecutor serves scripted JSON-RPC results and counts calls per method.
type fakeExecutor struct {
	mu       sync.Mutex
	gasPrice *big.Int
	calls    map[string]int
}

func newFakeExecutor(gasPrice int64) *fakeExecutor {
	return &fakeExecutor{
		gasPrice: big.NewInt(gasPrice),
		calls:    make(map[string]int),
	}
}

func (f *fakeExecutor) ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	switch method {
	case "eth_gasPrice":
		return json.RawMessage(fmt.Sprintf(`"0x%x"`, f.gasPrice)), nil
	case "eth_maxPriorityFeePerGas":
		return json.RawMessage(`"0x5f5e100"`), nil // 0.1 gwei
	case "eth_getBlockByNumber":
		return json.RawMessage(`{"number":"0x10","baseFeePerGas":"0x3b9aca00"}`), nil
	default:
		return nil, fmt.Errorf("unexpected method %s", method)
	}
}

func (f *fakeExecutor) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeExecutor) setGasPrice(v int64) {
	f.mu.Lock()
	f.gasPrice = big.NewInt(v)
	f.mu.Unlock()
}

func newTestOracle(t *testing.T, exec RequestExecutor, cfg Config) *Oracle {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	o, err := NewOracle(cfg, exec, log)
	if err != nil {
		t.Fatalf("NewOracle: %v", err)
	}
	t.Cleanup(o.Close)

	return o
}

func TestOracle_GetGasPrice_CacheHit(t *testing.T) {
	exec := newFakeExecutor(2_000_000_000)
	o := newTestOracle(t, exec, Config{RefreshInterval: time.Hour, HistorySize: 10})

	ctx := context.Background()

	first, err := o.GetGasPrice(ctx, chain.Ethereum)
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}
	second, err := o.GetGasPrice(ctx, chain.Ethereum)
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}

	if first != second {
		t.Error("second call within refresh interval should return the cached snapshot")
	}
	if got := exec.callCount("eth_gasPrice"); got != 1 {
		t.Errorf("expected exactly one upstream fetch, got %d", got)
	}
	if o.HistoryLen(chain.Ethereum) != 1 {
		t.Errorf("cache hit must not append history, len=%d", o.HistoryLen(chain.Ethereum))
	}
}

func TestOracle_GetGasPrice_RefreshAfterExpiry(t *testing.T) {
	exec := newFakeExecutor(2_000_000_000)
	o := newTestOracle(t, exec, Config{RefreshInterval: 20 * time.Millisecond, HistorySize: 10})

	ctx := context.Background()

	first, err := o.GetGasPrice(ctx, chain.Ethereum)
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	exec.setGasPrice(3_000_000_000)

	second, err := o.GetGasPrice(ctx, chain.Ethereum)
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}

	if first == second {
		t.Error("expired snapshot should trigger a refresh")
	}
	if got := exec.callCount("eth_gasPrice"); got != 2 {
		t.Errorf("expected exactly one extra fetch, got %d total", got)
	}
	if second.Standard.Int64() != 3_000_000_000 {
		t.Errorf("refresh should observe the new price, got %s", second.Standard)
	}
	if o.HistoryLen(chain.Ethereum) != 2 {
		t.Errorf("refresh should append history, len=%d", o.HistoryLen(chain.Ethereum))
	}
}

func TestOracle_GetGasPrice_InvalidChain(t *testing.T) {
	exec := newFakeExecutor(1)
	o := newTestOracle(t, exec, DefaultConfig())

	_, err := o.GetGasPrice(context.Background(), chain.ID(424242))
	if apperror.GetCode(err) != apperror.CodeInvalidChain {
		t.Fatalf("expected CodeInvalidChain, got %v", err)
	}
	if exec.callCount("eth_gasPrice") != 0 {
		t.Error("invalid chain must not reach the executor")
	}
}

func TestOracle_History_BoundedNewestFirst(t *testing.T) {
	exec := newFakeExecutor(1_000)
	o := newTestOracle(t, exec, Config{RefreshInterval: time.Hour, HistorySize: 3})

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		exec.setGasPrice(i * 1000)
		if _, err := o.RefreshGasPrice(ctx, chain.Ethereum); err != nil {
			t.Fatalf("RefreshGasPrice: %v", err)
		}
	}

	hist, err := o.GetGasPriceHistory(chain.Ethereum, 10)
	if err != nil {
		t.Fatalf("GetGasPriceHistory: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history should be bounded at 3, got %d", len(hist))
	}
	for i, want := range []int64{5000, 4000, 3000} {
		if hist[i].Standard.Int64() != want {
			t.Errorf("hist[%d].Standard = %s, want %d (newest first)", i, hist[i].Standard, want)
		}
	}

	limited, _ := o.GetGasPriceHistory(chain.Ethereum, 2)
	if len(limited) != 2 || limited[0].Standard.Int64() != 5000 {
		t.Errorf("limit=2 should return the two newest entries, got %d", len(limited))
	}
}

func TestOracle_EIP1559Signals(t *testing.T) {
	exec := newFakeExecutor(2_000_000_000)
	o := newTestOracle(t, exec, DefaultConfig())

	snap, err := o.RefreshGasPrice(context.Background(), chain.Ethereum)
	if err != nil {
		t.Fatalf("RefreshGasPrice: %v", err)
	}
	if snap.BaseFee == nil || snap.BaseFee.Int64() != 1_000_000_000 {
		t.Errorf("expected baseFee 1 gwei, got %v", snap.BaseFee)
	}
	if snap.MaxPriorityFee == nil || snap.MaxPriorityFee.Int64() != 100_000_000 {
		t.Errorf("expected priority fee 0.1 gwei, got %v", snap.MaxPriorityFee)
	}
	if snap.PriorityFee(domain.TierInstant).Int64() != 200_000_000 {
		t.Error("instant tier should double the priority fee")
	}
}
