package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/fd1az/chain-gateway/business/provider/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/circuitbreaker"
	"github.com/fd1az/chain-gateway/internal/logger"
)

const (
	tracerName = "business.provider"
	meterName  = "business.provider"
)

// ManagerConfig holds tuning knobs for the provider manager.
type ManagerConfig struct {
	HealthInterval     time.Duration // how often endpoints are probed
	DegradedThreshold  int           // consecutive failures before degraded
	UnhealthyThreshold int           // consecutive failures before unhealthy
	DefaultTimeout     time.Duration // per-request timeout when the endpoint sets none
	DefaultMaxRetries  int           // attempts per endpoint when the endpoint sets none
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HealthInterval:     30 * time.Second,
		DegradedThreshold:  3,
		UnhealthyThreshold: 5,
		DefaultTimeout:     10 * time.Second,
		DefaultMaxRetries:  2,
	}
}

// endpointState bundles an endpoint with its runtime companions. The mutex
// guards the endpoint (IsActive can flip), the health tracker and the client.
type endpointState struct {
	mu       sync.RWMutex
	endpoint domain.Endpoint
	health   *domain.HealthTracker
	client   RPCClient

	throttle *rate.Limiter // nil when the endpoint has no rate limit
	breaker  *circuitbreaker.CircuitBreaker[json.RawMessage]
}

// managerMetrics holds OTEL metric instruments.
type managerMetrics struct {
	requestsTotal  metric.Int64Counter
	requestErrors  metric.Int64Counter
	failoversTotal metric.Int64Counter
	requestLatency metric.Float64Histogram
	healthProbes   metric.Int64Counter
}

// Manager routes JSON-RPC requests across a pool of endpoints per chain,
// tracking health, failing over on errors and probing liveness in the
// background.
type Manager struct {
	config ManagerConfig
	logger logger.LoggerInterface
	dialer ClientDialer

	mu       sync.RWMutex
	byChain  map[chain.ID][]*endpointState
	byID     map[string]*endpointState
	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	tracer  trace.Tracer
	metrics *managerMetrics
}

// NewManager creates a provider manager for the given endpoints. Endpoints
// for chains the registry does not know are rejected.
func NewManager(cfg ManagerConfig, endpoints []domain.Endpoint, dialer ClientDialer, log logger.LoggerInterface) (*Manager, error) {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}

	m := &Manager{
		config:  cfg,
		logger:  log,
		dialer:  dialer,
		byChain: make(map[chain.ID][]*endpointState),
		byID:    make(map[string]*endpointState),
		stop:    make(chan struct{}),
		tracer:  otel.Tracer(tracerName),
	}

	for _, ep := range endpoints {
		if !chain.Default().Has(ep.Chain) {
			return nil, apperror.New(apperror.CodeInvalidChain,
				apperror.WithContext(fmt.Sprintf("endpoint %s references unknown chain %d", ep.ID, ep.Chain)))
		}
		if _, dup := m.byID[ep.ID]; dup {
			return nil, apperror.New(apperror.CodeValidationError,
				apperror.WithContext(fmt.Sprintf("duplicate endpoint id %s", ep.ID)))
		}

		es := &endpointState{
			endpoint: ep,
			health:   domain.NewHealthTracker(ep.ID, cfg.DegradedThreshold, cfg.UnhealthyThreshold),
		}
		if ep.RateLimit > 0 {
			es.throttle = rate.NewLimiter(rate.Limit(ep.RateLimit), ep.RateLimit)
		}
		es.breaker = circuitbreaker.New[json.RawMessage](circuitbreaker.DefaultConfig("provider-" + ep.ID))

		m.byChain[ep.Chain] = append(m.byChain[ep.Chain], es)
		m.byID[ep.ID] = es
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes OTEL metric instruments.
func (m *Manager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &managerMetrics{}

	m.metrics.requestsTotal, err = meter.Int64Counter(
		"provider_requests_total",
		metric.WithDescription("Total RPC requests routed through the manager"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.metrics.requestErrors, err = meter.Int64Counter(
		"provider_request_errors_total",
		metric.WithDescription("RPC requests that failed on all candidates"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.metrics.failoversTotal, err = meter.Int64Counter(
		"provider_failovers_total",
		metric.WithDescription("Requests retried on a different endpoint"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		return err
	}

	m.metrics.requestLatency, err = meter.Float64Histogram(
		"provider_request_duration_seconds",
		metric.WithDescription("RPC request latency per endpoint"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.metrics.healthProbes, err = meter.Int64Counter(
		"provider_health_probes_total",
		metric.WithDescription("Background health probes issued"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Initialize dials every endpoint and starts the background health loops.
// Endpoints that fail to dial stay in the pool and are retried by the health
// loop; they just start out unhealthy.
func (m *Manager) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "provider.initialize")
	defer span.End()

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	for _, states := range m.byChain {
		for _, es := range states {
			if err := m.dialEndpoint(ctx, es); err != nil {
				m.logger.Warn(ctx, "endpoint dial failed, will retry in health loop",
					"endpoint", es.endpoint.ID, "error", err)
			}

			m.wg.Add(1)
			go m.healthLoop(es)
		}
	}

	span.SetStatus(codes.Ok, "initialized")
	m.logger.Info(ctx, "provider manager started",
		"chains", len(m.byChain), "endpoints", len(m.byID))

	return nil
}

func (m *Manager) dialEndpoint(ctx context.Context, es *endpointState) error {
	es.mu.RLock()
	ep := es.endpoint
	already := es.client != nil
	es.mu.RUnlock()

	if already {
		return nil
	}

	client, err := m.dialer.Dial(ctx, ep)
	if err != nil {
		return apperror.New(apperror.CodeProviderConnectionFail,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("dial endpoint %s", ep.ID)))
	}

	es.mu.Lock()
	es.client = client
	es.mu.Unlock()

	return nil
}

// ExecuteRequest routes a raw JSON-RPC call to the best available endpoint of
// the chain, failing over across candidates until one succeeds. It returns
// InvalidChain for chains without a configured pool without touching the
// network.
func (m *Manager) ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	ctx, span := m.tracer.Start(ctx, "provider.execute",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.String("method", method),
		),
	)
	defer span.End()

	m.metrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain_id", int64(chainID))))

	m.mu.RLock()
	states := m.byChain[chainID]
	m.mu.RUnlock()

	if !chain.Default().Has(chainID) || len(states) == 0 {
		err := apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("no providers configured for chain %d", chainID)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid chain")
		return nil, err
	}

	candidates := orderCandidates(states)
	if len(candidates) == 0 {
		m.metrics.requestErrors.Add(ctx, 1)
		err := apperror.New(apperror.CodeNoHealthyProvider,
			apperror.WithContext(fmt.Sprintf("all endpoints for chain %d are unhealthy", chainID)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no healthy provider")
		return nil, err
	}

	var lastErr error
	for i, es := range candidates {
		if i > 0 {
			m.metrics.failoversTotal.Add(ctx, 1)
			span.AddEvent("failover", trace.WithAttributes(
				attribute.String("endpoint", es.endpoint.ID)))
		}

		raw, err := m.callEndpoint(ctx, es, method, params...)
		if err == nil {
			span.SetAttributes(attribute.String("endpoint", es.endpoint.ID))
			span.SetStatus(codes.Ok, "executed")
			return raw, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	m.metrics.requestErrors.Add(ctx, 1)
	err := apperror.New(apperror.CodeNoHealthyProvider,
		apperror.WithCause(lastErr),
		apperror.WithContext(fmt.Sprintf("request %s failed on all endpoints for chain %d", method, chainID)))
	span.RecordError(err)
	span.SetStatus(codes.Error, "exhausted candidates")
	return nil, err
}

// callEndpoint issues a single request against one endpoint, with per-endpoint
// retries, throttling and circuit breaking. Health is recorded on the outcome.
func (m *Manager) callEndpoint(ctx context.Context, es *endpointState, method string, params ...any) (json.RawMessage, error) {
	es.mu.RLock()
	ep := es.endpoint
	client := es.client
	es.mu.RUnlock()

	if client == nil {
		return nil, apperror.New(apperror.CodeProviderConnectionFail,
			apperror.WithContext(fmt.Sprintf("endpoint %s not connected", ep.ID)))
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}
	attempts := ep.MaxRetries
	if attempts <= 0 {
		attempts = m.config.DefaultMaxRetries
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if es.throttle != nil {
			if err := es.throttle.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		raw, err := es.breaker.Execute(func() (json.RawMessage, error) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			var result json.RawMessage
			if err := client.Call(callCtx, &result, method, params...); err != nil {
				return nil, err
			}
			return result, nil
		})

		m.metrics.requestLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("endpoint", ep.ID)))

		if err == nil {
			es.mu.Lock()
			es.health.RecordSuccess(time.Since(start), 0)
			es.mu.Unlock()
			return raw, nil
		}

		lastErr = err
		es.mu.Lock()
		es.health.RecordFailure()
		es.mu.Unlock()

		if ctx.Err() != nil {
			break
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperror.New(apperror.CodeProviderTimeout,
			apperror.WithCause(lastErr),
			apperror.WithContext(fmt.Sprintf("endpoint %s timed out", ep.ID)))
	}
	return nil, apperror.New(apperror.CodeProviderRequestFailed,
		apperror.WithCause(lastErr),
		apperror.WithContext(fmt.Sprintf("endpoint %s request failed", ep.ID)))
}

// healthLoop probes one endpoint at the configured interval until Stop.
func (m *Manager) healthLoop(es *endpointState) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probe(es)
		}
	}
}

// probe issues an eth_blockNumber health check against one endpoint.
func (m *Manager) probe(es *endpointState) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.DefaultTimeout)
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "provider.probe",
		trace.WithAttributes(attribute.String("endpoint", es.endpoint.ID)))
	defer span.End()

	m.metrics.healthProbes.Add(ctx, 1)

	es.mu.RLock()
	client := es.client
	active := es.endpoint.IsActive
	es.mu.RUnlock()

	if !active {
		return
	}

	if client == nil {
		if err := m.dialEndpoint(ctx, es); err != nil {
			es.mu.Lock()
			es.health.RecordFailure()
			es.mu.Unlock()
			span.RecordError(err)
			return
		}
		es.mu.RLock()
		client = es.client
		es.mu.RUnlock()
	}

	start := time.Now()
	var height hexutil.Uint64
	err := client.Call(ctx, &height, "eth_blockNumber")
	latency := time.Since(start)

	es.mu.Lock()
	if err != nil {
		es.health.RecordFailure()
	} else {
		es.health.RecordSuccess(latency, uint64(height))
	}
	status := es.health.Status()
	es.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		m.logger.Warn(ctx, "health probe failed",
			"endpoint", es.endpoint.ID, "status", string(status), "error", err)
		return
	}

	span.SetAttributes(
		attribute.Int64("block_height", int64(height)),
		attribute.String("status", string(status)),
	)
	span.SetStatus(codes.Ok, "probed")
}

// GetProviderHealth returns the current health records for one chain.
func (m *Manager) GetProviderHealth(chainID chain.ID) ([]domain.HealthRecord, error) {
	m.mu.RLock()
	states := m.byChain[chainID]
	m.mu.RUnlock()

	if len(states) == 0 {
		return nil, apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("no providers configured for chain %d", chainID)))
	}

	records := make([]domain.HealthRecord, 0, len(states))
	for _, es := range states {
		es.mu.RLock()
		records = append(records, es.health.Record())
		es.mu.RUnlock()
	}
	return records, nil
}

// GetAllProviderHealth returns health records for every configured chain.
func (m *Manager) GetAllProviderHealth() map[chain.ID][]domain.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[chain.ID][]domain.HealthRecord, len(m.byChain))
	for id, states := range m.byChain {
		records := make([]domain.HealthRecord, 0, len(states))
		for _, es := range states {
			es.mu.RLock()
			records = append(records, es.health.Record())
			es.mu.RUnlock()
		}
		out[id] = records
	}
	return out
}

// ActivateEndpoint puts an endpoint back into rotation.
func (m *Manager) ActivateEndpoint(id string) error {
	return m.setActive(id, true)
}

// DeactivateEndpoint removes an endpoint from rotation without forgetting it.
func (m *Manager) DeactivateEndpoint(id string) error {
	return m.setActive(id, false)
}

func (m *Manager) setActive(id string, active bool) error {
	m.mu.RLock()
	es, ok := m.byID[id]
	m.mu.RUnlock()

	if !ok {
		return apperror.New(apperror.CodeEndpointNotFound,
			apperror.WithContext(fmt.Sprintf("endpoint %s not found", id)))
	}

	es.mu.Lock()
	es.endpoint.IsActive = active
	if active {
		// A reactivated endpoint starts with a clean slate.
		es.health.Reset()
	}
	es.mu.Unlock()

	return nil
}

// Stop terminates the health loops and closes all clients. Safe to call more
// than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		for _, es := range m.byID {
			es.mu.Lock()
			if es.client != nil {
				es.client.Close()
				es.client = nil
			}
			es.mu.Unlock()
		}
	})
}
