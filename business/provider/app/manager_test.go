package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fd1az/chain-gateway/business/provider/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
)

type fakeClient struct {
	mu      sync.Mutex
	failing bool
	height  uint64
	calls   int
	closed  bool
}

func (c *fakeClient) Call(ctx context.Context, result any, method string, params ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.failing {
		return errors.New("connection refused")
	}

	switch v := result.(type) {
	case *json.RawMessage:
		*v = json.RawMessage(`"0x1"`)
	case *hexutil.Uint64:
		*v = hexutil.Uint64(c.height)
	}
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) setFailing(failing bool) {
	c.mu.Lock()
	c.failing = failing
	c.mu.Unlock()
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeDialer struct {
	clients map[string]*fakeClient
}

func (d *fakeDialer) Dial(ctx context.Context, ep domain.Endpoint) (RPCClient, error) {
	c, ok := d.clients[ep.ID]
	if !ok {
		return nil, errors.New("unknown endpoint")
	}
	return c, nil
}

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func testEndpoint(id string, priority int) domain.Endpoint {
	return domain.Endpoint{
		ID:         id,
		Chain:      chain.Ethereum,
		HTTPURL:    "http://" + id + ".invalid",
		Priority:   priority,
		Weight:     1,
		MaxRetries: 1,
		Timeout:    time.Second,
		IsActive:   true,
	}
}

func newTestManager(t *testing.T, dialer *fakeDialer, endpoints ...domain.Endpoint) *Manager {
	t.Helper()

	cfg := DefaultManagerConfig()
	cfg.HealthInterval = time.Hour // probes driven manually from tests
	cfg.DefaultMaxRetries = 1

	m, err := NewManager(cfg, endpoints, dialer, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(m.Stop)

	return m
}

func TestManager_ExecuteRequest_InvalidChain(t *testing.T) {
	primary := &fakeClient{}
	dialer := &fakeDialer{clients: map[string]*fakeClient{"eth-a": primary}}
	m := newTestManager(t, dialer, testEndpoint("eth-a", 1))

	_, err := m.ExecuteRequest(context.Background(), chain.ID(999999), "eth_blockNumber")
	if apperror.GetCode(err) != apperror.CodeInvalidChain {
		t.Fatalf("expected CodeInvalidChain, got %v", err)
	}
	if primary.callCount() != 0 {
		t.Fatalf("invalid chain must not reach any endpoint, got %d calls", primary.callCount())
	}
}

func TestManager_ExecuteRequest_Failover(t *testing.T) {
	primary := &fakeClient{}
	backup := &fakeClient{}
	dialer := &fakeDialer{clients: map[string]*fakeClient{
		"eth-a": primary,
		"eth-b": backup,
	}}
	m := newTestManager(t, dialer,
		testEndpoint("eth-a", 1),
		testEndpoint("eth-b", 2),
	)

	ctx := context.Background()

	// Healthy primary wins on priority.
	if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if primary.callCount() != 1 || backup.callCount() != 0 {
		t.Fatalf("expected primary to serve, got primary=%d backup=%d",
			primary.callCount(), backup.callCount())
	}

	// Primary starts failing: requests fail over to the backup and keep
	// succeeding, while the primary accumulates consecutive failures.
	primary.setFailing(true)
	for i := 0; i < 3; i++ {
		if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err != nil {
			t.Fatalf("request %d during failover: %v", i, err)
		}
	}

	records, err := m.GetProviderHealth(chain.Ethereum)
	if err != nil {
		t.Fatalf("GetProviderHealth: %v", err)
	}
	statusOf := func(id string) domain.Status {
		for _, r := range records {
			if r.EndpointID == id {
				return r.Status
			}
		}
		t.Fatalf("no record for %s", id)
		return ""
	}
	if statusOf("eth-a") != domain.StatusDegraded {
		t.Fatalf("primary should be degraded after 3 consecutive failures, got %s", statusOf("eth-a"))
	}
	if statusOf("eth-b") != domain.StatusHealthy {
		t.Fatalf("backup should stay healthy, got %s", statusOf("eth-b"))
	}

	// Degraded primary is out of rotation while a healthy backup exists.
	before := primary.callCount()
	if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err != nil {
		t.Fatalf("ExecuteRequest after degrade: %v", err)
	}
	if primary.callCount() != before {
		t.Fatal("degraded primary should not be tried while backup is healthy")
	}

	// Primary recovers; a successful probe restores it and priority routing
	// prefers it again.
	primary.setFailing(false)
	m.probe(m.byID["eth-a"])

	records, _ = m.GetProviderHealth(chain.Ethereum)
	if statusOf("eth-a") != domain.StatusHealthy {
		t.Fatalf("primary should be healthy after successful probe, got %s", statusOf("eth-a"))
	}

	backupBefore := backup.callCount()
	if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err != nil {
		t.Fatalf("ExecuteRequest after recovery: %v", err)
	}
	if backup.callCount() != backupBefore {
		t.Fatal("recovered primary should serve requests again")
	}
}

func TestManager_ExecuteRequest_NoHealthyProvider(t *testing.T) {
	only := &fakeClient{failing: true}
	dialer := &fakeDialer{clients: map[string]*fakeClient{"eth-a": only}}
	m := newTestManager(t, dialer, testEndpoint("eth-a", 1))

	ctx := context.Background()

	// Drive the single endpoint all the way to unhealthy.
	for i := 0; i < 5; i++ {
		if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err == nil {
			t.Fatal("expected failure from failing endpoint")
		}
	}

	_, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber")
	if apperror.GetCode(err) != apperror.CodeNoHealthyProvider {
		t.Fatalf("expected CodeNoHealthyProvider, got %v", err)
	}
}

func TestManager_ActivateDeactivate(t *testing.T) {
	primary := &fakeClient{}
	backup := &fakeClient{}
	dialer := &fakeDialer{clients: map[string]*fakeClient{
		"eth-a": primary,
		"eth-b": backup,
	}}
	m := newTestManager(t, dialer,
		testEndpoint("eth-a", 1),
		testEndpoint("eth-b", 2),
	)

	ctx := context.Background()

	if err := m.DeactivateEndpoint("eth-a"); err != nil {
		t.Fatalf("DeactivateEndpoint: %v", err)
	}
	if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if primary.callCount() != 0 {
		t.Fatal("deactivated endpoint must not serve requests")
	}

	if err := m.ActivateEndpoint("eth-a"); err != nil {
		t.Fatalf("ActivateEndpoint: %v", err)
	}
	if _, err := m.ExecuteRequest(ctx, chain.Ethereum, "eth_blockNumber"); err != nil {
		t.Fatalf("ExecuteRequest: %v", err)
	}
	if primary.callCount() != 1 {
		t.Fatalf("reactivated endpoint should serve again, got %d calls", primary.callCount())
	}

	if err := m.DeactivateEndpoint("nope"); apperror.GetCode(err) != apperror.CodeEndpointNotFound {
		t.Fatalf("expected CodeEndpointNotFound, got %v", err)
	}
}

func TestManager_StopIdempotent(t *testing.T) {
	only := &fakeClient{}
	dialer := &fakeDialer{clients: map[string]*fakeClient{"eth-a": only}}
	m := newTestManager(t, dialer, testEndpoint("eth-a", 1))

	m.Stop()
	m.Stop()

	only.mu.Lock()
	closed := only.closed
	only.mu.Unlock()
	if !closed {
		t.Fatal("Stop should close endpoint clients")
	}
}
