package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	noncedomain "github.com/fd1az/chain-gateway/business/nonce/domain"
	oracledomain "github.com/fd1az/chain-gateway/business/oracle/domain"
	providerdomain "github.com/fd1az/chain-gateway/business/provider/domain"
	streamingapp "github.com/fd1az/chain-gateway/business/streaming/app"
	streamingdomain "github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/ratelimit"
)

// callRecorder counts component invocations so tests can assert the gateway
// never touched a component.
type callRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *callRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[name]++
}

func (r *callRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *callRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

type fakeProvider struct{ rec *callRecorder }

func (f *fakeProvider) Initialize(ctx context.Context) error { f.rec.record("provider.init"); return nil }
func (f *fakeProvider) ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	f.rec.record("provider.execute")
	return json.RawMessage(`"0x1"`), nil
}
func (f *fakeProvider) GetProviderHealth(chainID chain.ID) ([]providerdomain.HealthRecord, error) {
	f.rec.record("provider.health")
	return nil, nil
}
func (f *fakeProvider) GetAllProviderHealth() map[chain.ID][]providerdomain.HealthRecord {
	f.rec.record("provider.allhealth")
	return map[chain.ID][]providerdomain.HealthRecord{
		chain.Ethereum: {{EndpointID: "eth-a", Status: providerdomain.StatusHealthy}},
	}
}
func (f *fakeProvider) ActivateEndpoint(id string) error   { f.rec.record("provider.activate"); return nil }
func (f *fakeProvider) DeactivateEndpoint(id string) error { f.rec.record("provider.deactivate"); return nil }
func (f *fakeProvider) Stop()                              { f.rec.record("provider.stop") }

type fakeOracle struct{ rec *callRecorder }

func (f *fakeOracle) GetGasPrice(ctx context.Context, chainID chain.ID) (*oracledomain.Snapshot, error) {
	f.rec.record("oracle.get")
	return nil, nil
}
func (f *fakeOracle) RefreshGasPrice(ctx context.Context, chainID chain.ID) (*oracledomain.Snapshot, error) {
	f.rec.record("oracle.refresh")
	return nil, nil
}
func (f *fakeOracle) GetGasPriceHistory(chainID chain.ID, limit int) ([]*oracledomain.Snapshot, error) {
	f.rec.record("oracle.history")
	return nil, nil
}
func (f *fakeOracle) Close() { f.rec.record("oracle.close") }

type fakeNonce struct{ rec *callRecorder }

func (f *fakeNonce) GetNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	f.rec.record("nonce.get")
	return 0, nil
}
func (f *fakeNonce) IncrementNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	f.rec.record("nonce.increment")
	return 1, nil
}
func (f *fakeNonce) ResetNonce(ctx context.Context, chainID chain.ID, address string) error {
	f.rec.record("nonce.reset")
	return nil
}
func (f *fakeNonce) SyncNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	f.rec.record("nonce.sync")
	return 0, nil
}
func (f *fakeNonce) Records() []noncedomain.Record { return nil }

type fakeSubs struct{ rec *callRecorder }

func (f *fakeSubs) Subscribe(ctx context.Context, input streamingapp.SubscribeInput) (string, error) {
	f.rec.record("subs.subscribe")
	return "sub-1", nil
}
func (f *fakeSubs) Unsubscribe(ctx context.Context, id string) error {
	f.rec.record("subs.unsubscribe")
	return nil
}
func (f *fakeSubs) GetActiveSubscriptions() []streamingdomain.Subscription { return nil }
func (f *fakeSubs) ActiveCount() int                                       { return 0 }
func (f *fakeSubs) Close() error                                           { f.rec.record("subs.close"); return nil }

type fakeReorg struct{ rec *callRecorder }

func (f *fakeReorg) Start(ctx context.Context, chains []chain.ID) error {
	f.rec.record("reorg.start")
	return nil
}
func (f *fakeReorg) OnReorg(cb func(streamingdomain.ReorgEvent)) {}
func (f *fakeReorg) GetReorgHistory(chainID chain.ID, limit int) ([]streamingdomain.ReorgEvent, error) {
	f.rec.record("reorg.history")
	return nil, nil
}
func (f *fakeReorg) Stats(chainID chain.ID) streamingdomain.TrackingStats {
	return streamingdomain.TrackingStats{}
}
func (f *fakeReorg) Stop() { f.rec.record("reorg.stop") }

func newTestGateway(t *testing.T, limiter *ratelimit.Limiter) (*Gateway, *callRecorder) {
	t.Helper()

	rec := &callRecorder{}
	if limiter == nil {
		limiter = ratelimit.New(time.Minute, 1000)
	}

	g, err := NewGateway(
		DefaultConfig([]chain.ID{chain.Ethereum}),
		&fakeProvider{rec: rec},
		&fakeOracle{rec: rec},
		&fakeNonce{rec: rec},
		&fakeSubs{rec: rec},
		&fakeReorg{rec: rec},
		limiter,
		logger.New(io.Discard, logger.LevelError, "test", nil),
	)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g, rec
}

func TestGateway_InvalidChainFastFail(t *testing.T) {
	g, rec := newTestGateway(t, nil)
	ctx := context.Background()
	bad := chain.ID(424242)

	ops := []struct {
		name string
		call func() error
	}{
		{"ExecuteRPCRequest", func() error {
			_, err := g.ExecuteRPCRequest(ctx, "client", bad, "eth_blockNumber")
			return err
		}},
		{"GetGasPrice", func() error { _, err := g.GetGasPrice(ctx, bad); return err }},
		{"RefreshGasPrice", func() error { _, err := g.RefreshGasPrice(ctx, bad); return err }},
		{"GetGasPriceHistory", func() error { _, err := g.GetGasPriceHistory(ctx, bad, 10); return err }},
		{"GetNonce", func() error { _, err := g.GetNonce(ctx, bad, "0x0"); return err }},
		{"IncrementNonce", func() error { _, err := g.IncrementNonce(ctx, bad, "0x0"); return err }},
		{"ResetNonce", func() error { return g.ResetNonce(ctx, bad, "0x0") }},
		{"SyncNonce", func() error { _, err := g.SyncNonce(ctx, bad, "0x0"); return err }},
		{"Subscribe", func() error {
			_, err := g.Subscribe(ctx, streamingapp.SubscribeInput{Chain: bad, Type: streamingdomain.EventNewBlocks})
			return err
		}},
		{"GetReorgHistory", func() error { _, err := g.GetReorgHistory(ctx, bad, 10); return err }},
		{"GetProviderHealth", func() error { _, err := g.GetProviderHealth(ctx, bad); return err }},
	}

	for _, op := range ops {
		if err := op.call(); apperror.GetCode(err) != apperror.CodeInvalidChain {
			t.Errorf("%s: expected CodeInvalidChain, got %v", op.name, err)
		}
	}
	if rec.total() != 0 {
		t.Fatalf("invalid chain must not invoke any component, recorded %v", rec.calls)
	}
}

func TestGateway_InitializeIdempotent(t *testing.T) {
	g, rec := newTestGateway(t, nil)
	ctx := context.Background()

	if err := g.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := g.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	if rec.count("provider.init") != 1 || rec.count("reorg.start") != 1 {
		t.Fatalf("components must initialize exactly once, got %v", rec.calls)
	}
}

func TestGateway_ShutdownSafety(t *testing.T) {
	g, rec := newTestGateway(t, nil)
	ctx := context.Background()

	// Shutdown without a prior initialize must not fail.
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown without initialize: %v", err)
	}
	// And a second call is a no-op.
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("double Shutdown: %v", err)
	}

	if rec.count("provider.stop") != 1 || rec.count("subs.close") != 1 {
		t.Fatalf("teardown must run exactly once, got %v", rec.calls)
	}

	// Operations after shutdown are refused.
	if _, err := g.GetGasPrice(ctx, chain.Ethereum); apperror.GetCode(err) != apperror.CodeShuttingDown {
		t.Fatalf("expected CodeShuttingDown, got %v", err)
	}
	if err := g.Initialize(ctx); apperror.GetCode(err) != apperror.CodeShuttingDown {
		t.Fatalf("initialize after shutdown should be refused, got %v", err)
	}
}

func TestGateway_ShutdownOrder(t *testing.T) {
	g, rec := newTestGateway(t, nil)
	ctx := context.Background()

	if err := g.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, name := range []string{"subs.close", "reorg.stop", "oracle.close", "provider.stop"} {
		if rec.count(name) != 1 {
			t.Errorf("%s should run exactly once, got %d", name, rec.count(name))
		}
	}
}

func TestGateway_RateLimit(t *testing.T) {
	g, rec := newTestGateway(t, ratelimit.New(time.Minute, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.ExecuteRPCRequest(ctx, "client-a", chain.Ethereum, "eth_blockNumber"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	_, err := g.ExecuteRPCRequest(ctx, "client-a", chain.Ethereum, "eth_blockNumber")
	if apperror.GetCode(err) != apperror.CodeRateLimitExceeded {
		t.Fatalf("expected CodeRateLimitExceeded, got %v", err)
	}
	if rec.count("provider.execute") != 2 {
		t.Fatalf("rejected request must not reach the provider, got %d executes", rec.count("provider.execute"))
	}

	// Another client has its own window.
	if _, err := g.ExecuteRPCRequest(ctx, "client-b", chain.Ethereum, "eth_blockNumber"); err != nil {
		t.Fatalf("client-b should have a fresh budget: %v", err)
	}
}

func TestGateway_OverallStatus(t *testing.T) {
	g, _ := newTestGateway(t, nil)
	ctx := context.Background()

	statuses := g.GetHealth(ctx)
	if len(statuses) != 6 {
		t.Fatalf("expected 6 component probes, got %d", len(statuses))
	}
	if got := g.GetOverallStatus(ctx); got != StatusHealthy {
		t.Fatalf("overall = %s, want healthy", got)
	}
}

func TestProviderAggregate(t *testing.T) {
	healthy := providerdomain.HealthRecord{Status: providerdomain.StatusHealthy}
	degraded := providerdomain.HealthRecord{Status: providerdomain.StatusDegraded}
	down := providerdomain.HealthRecord{Status: providerdomain.StatusUnhealthy}

	tests := []struct {
		name string
		in   map[chain.ID][]providerdomain.HealthRecord
		want Status
	}{
		{"all healthy", map[chain.ID][]providerdomain.HealthRecord{
			chain.Ethereum: {healthy, healthy},
		}, StatusHealthy},
		{"one degraded endpoint", map[chain.ID][]providerdomain.HealthRecord{
			chain.Ethereum: {healthy, degraded},
		}, StatusDegraded},
		{"chain fully down", map[chain.ID][]providerdomain.HealthRecord{
			chain.Ethereum: {down, down},
			chain.Polygon:  {healthy},
		}, StatusUnhealthy},
		{"no chains", map[chain.ID][]providerdomain.HealthRecord{}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := providerAggregate(tt.in); got != tt.want {
				t.Errorf("providerAggregate = %s, want %s", got, tt.want)
			}
		})
	}
}
