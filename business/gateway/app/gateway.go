package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	oracledomain "github.com/fd1az/chain-gateway/business/oracle/domain"
	providerdomain "github.com/fd1az/chain-gateway/business/provider/domain"
	streamingapp "github.com/fd1az/chain-gateway/business/streaming/app"
	streamingdomain "github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/ratelimit"
)

const (
	tracerName = "business.gateway"
	meterName  = "business.gateway"
)

// Config holds the gateway's own knobs; component tuning lives with the
// components.
type Config struct {
	Chains        []chain.ID    // chains the reorg detector tracks
	ShutdownGrace time.Duration // bound on teardown
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(chains []chain.ID) Config {
	return Config{
		Chains:        chains,
		ShutdownGrace: 15 * time.Second,
	}
}

// gatewayMetrics holds OTEL metric instruments.
type gatewayMetrics struct {
	requests    metric.Int64Counter
	rateLimited metric.Int64Counter
}

// Gateway is the façade external callers touch. It validates the chain id on
// every operation before any component is involved, owns component lifecycle
// and enforces per-client rate limits on request execution.
type Gateway struct {
	config  Config
	logger  logger.LoggerInterface
	limiter *ratelimit.Limiter

	provider ProviderService
	oracle   GasService
	nonce    NonceService
	subs     SubscriptionService
	reorg    ReorgService
	health   *HealthChecker

	mu          sync.Mutex
	initialized bool
	stopped     bool

	tracer  trace.Tracer
	metrics *gatewayMetrics
}

// NewGateway wires the façade. All components must be constructed already;
// the gateway only coordinates them.
func NewGateway(
	cfg Config,
	provider ProviderService,
	oracle GasService,
	nonce NonceService,
	subs SubscriptionService,
	reorg ReorgService,
	limiter *ratelimit.Limiter,
	log logger.LoggerInterface,
) (*Gateway, error) {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 15 * time.Second
	}

	g := &Gateway{
		config:   cfg,
		logger:   log,
		limiter:  limiter,
		provider: provider,
		oracle:   oracle,
		nonce:    nonce,
		subs:     subs,
		reorg:    reorg,
		health:   NewHealthChecker(),
		tracer:   otel.Tracer(tracerName),
	}

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	g.registerProbes()

	return g, nil
}

// initMetrics initializes OTEL metric instruments.
func (g *Gateway) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gatewayMetrics{}

	g.metrics.requests, err = meter.Int64Counter(
		"gateway_requests_total",
		metric.WithDescription("RPC requests entering the gateway"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	g.metrics.rateLimited, err = meter.Int64Counter(
		"gateway_rate_limited_total",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// registerProbes wires the component health probes into the checker.
func (g *Gateway) registerProbes() {
	g.health.Register("provider_manager", func(ctx context.Context) Status {
		return providerAggregate(g.provider.GetAllProviderHealth())
	})
	g.health.Register("gas_oracle", g.livenessProbe)
	g.health.Register("nonce_manager", g.livenessProbe)
	g.health.Register("subscription_manager", g.livenessProbe)
	g.health.Register("reorg_detector", g.livenessProbe)
	g.health.Register("rate_limiter", g.livenessProbe)
}

// livenessProbe covers components without external dependencies: they are
// healthy while the gateway runs and unhealthy once it stopped.
func (g *Gateway) livenessProbe(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return StatusUnhealthy
	}
	return StatusHealthy
}

// providerAggregate reduces endpoint health to a component status: unhealthy
// when some chain has no usable endpoint, degraded when any endpoint is
// struggling.
func providerAggregate(all map[chain.ID][]providerdomain.HealthRecord) Status {
	if len(all) == 0 {
		return StatusUnhealthy
	}

	overall := StatusHealthy
	for _, records := range all {
		usable := false
		for _, r := range records {
			if r.Status != providerdomain.StatusUnhealthy {
				usable = true
			}
			if r.Status != providerdomain.StatusHealthy && overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
		if !usable {
			return StatusUnhealthy
		}
	}
	return overall
}

// Initialize brings every component up in dependency order: provider first,
// then the reorg polling loops. Idempotent; a second call is a no-op.
func (g *Gateway) Initialize(ctx context.Context) error {
	ctx, span := g.tracer.Start(ctx, "gateway.initialize")
	defer span.End()

	g.mu.Lock()
	if g.initialized {
		g.mu.Unlock()
		span.AddEvent("already_initialized")
		return nil
	}
	if g.stopped {
		g.mu.Unlock()
		return apperror.New(apperror.CodeShuttingDown,
			apperror.WithContext("gateway already shut down"))
	}
	g.mu.Unlock()

	if err := g.provider.Initialize(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider init failed")
		return err
	}
	if err := g.reorg.Start(ctx, g.config.Chains); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reorg start failed")
		g.provider.Stop()
		return err
	}

	g.mu.Lock()
	g.initialized = true
	g.mu.Unlock()

	span.SetStatus(codes.Ok, "initialized")
	g.logger.Info(ctx, "gateway initialized", "chains", len(g.config.Chains))
	return nil
}

// Shutdown tears everything down in reverse dependency order within the
// grace period. Safe without a prior Initialize and safe to call repeatedly.
func (g *Gateway) Shutdown(ctx context.Context) error {
	ctx, span := g.tracer.Start(ctx, "gateway.shutdown")
	defer span.End()

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		span.AddEvent("already_stopped")
		return nil
	}
	g.stopped = true
	g.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		// Consumers first, concurrently; the provider last since the others
		// depend on it.
		var eg errgroup.Group
		eg.Go(func() error { return g.subs.Close() })
		eg.Go(func() error { g.reorg.Stop(); return nil })
		eg.Go(func() error { g.oracle.Close(); return nil })
		err := eg.Wait()

		g.provider.Stop()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			span.RecordError(err)
			g.logger.Warn(ctx, "shutdown finished with errors", "error", err)
		}
		span.SetStatus(codes.Ok, "stopped")
		g.logger.Info(ctx, "gateway stopped")
		return err
	case <-time.After(g.config.ShutdownGrace):
		err := apperror.New(apperror.CodeServiceTimeout,
			apperror.WithContext("shutdown exceeded grace period"))
		span.RecordError(err)
		return err
	}
}

// validate is the single chain-validation point every operation goes
// through before touching a component.
func (g *Gateway) validate(chainID chain.ID) error {
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if stopped {
		return apperror.New(apperror.CodeShuttingDown,
			apperror.WithContext("gateway is shut down"))
	}

	if !chain.Default().Has(chainID) {
		return apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unsupported chain %d", chainID)))
	}
	return nil
}

// ExecuteRPCRequest routes a raw call for a client, charging one rate-limit
// token for the client key.
func (g *Gateway) ExecuteRPCRequest(ctx context.Context, clientKey string, chainID chain.ID, method string, params ...any) (json.RawMessage, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.execute",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.String("method", method),
		),
	)
	defer span.End()

	g.metrics.requests.Add(ctx, 1)

	if err := g.validate(chainID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if res := g.limiter.Allow(clientKey); !res.Allowed {
		g.metrics.rateLimited.Add(ctx, 1)
		err := apperror.New(apperror.CodeRateLimitExceeded,
			apperror.WithContext(fmt.Sprintf("retry after %s", res.RetryAfter(time.Now()))))
		span.RecordError(err)
		return nil, err
	}

	return g.provider.ExecuteRequest(ctx, chainID, method, params...)
}

// CheckRateLimit reports the client's current budget without consuming it.
func (g *Gateway) CheckRateLimit(clientKey string) ratelimit.Result {
	return g.limiter.Check(clientKey)
}

// GetGasPrice returns the live gas snapshot for a chain.
func (g *Gateway) GetGasPrice(ctx context.Context, chainID chain.ID) (*oracledomain.Snapshot, error) {
	if err := g.validate(chainID); err != nil {
		return nil, err
	}
	return g.oracle.GetGasPrice(ctx, chainID)
}

// RefreshGasPrice forces a fresh snapshot for a chain.
func (g *Gateway) RefreshGasPrice(ctx context.Context, chainID chain.ID) (*oracledomain.Snapshot, error) {
	if err := g.validate(chainID); err != nil {
		return nil, err
	}
	return g.oracle.RefreshGasPrice(ctx, chainID)
}

// GetGasPriceHistory returns recent snapshots, newest first.
func (g *Gateway) GetGasPriceHistory(ctx context.Context, chainID chain.ID, limit int) ([]*oracledomain.Snapshot, error) {
	if err := g.validate(chainID); err != nil {
		return nil, err
	}
	return g.oracle.GetGasPriceHistory(chainID, limit)
}

// GetNonce returns the tracked nonce for an address.
func (g *Gateway) GetNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	if err := g.validate(chainID); err != nil {
		return 0, err
	}
	return g.nonce.GetNonce(ctx, chainID, address)
}

// IncrementNonce atomically advances and returns the nonce for an address.
func (g *Gateway) IncrementNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	if err := g.validate(chainID); err != nil {
		return 0, err
	}
	return g.nonce.IncrementNonce(ctx, chainID, address)
}

// ResetNonce clears the tracked nonce for an address.
func (g *Gateway) ResetNonce(ctx context.Context, chainID chain.ID, address string) error {
	if err := g.validate(chainID); err != nil {
		return err
	}
	return g.nonce.ResetNonce(ctx, chainID, address)
}

// SyncNonce overwrites the tracked nonce from on-chain state.
func (g *Gateway) SyncNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	if err := g.validate(chainID); err != nil {
		return 0, err
	}
	return g.nonce.SyncNonce(ctx, chainID, address)
}

// Subscribe registers an event subscription and returns its id.
func (g *Gateway) Subscribe(ctx context.Context, input streamingapp.SubscribeInput) (string, error) {
	if err := g.validate(input.Chain); err != nil {
		return "", err
	}
	return g.subs.Subscribe(ctx, input)
}

// Unsubscribe removes a subscription; unknown ids are a no-op.
func (g *Gateway) Unsubscribe(ctx context.Context, id string) error {
	return g.subs.Unsubscribe(ctx, id)
}

// GetActiveSubscriptions lists all live subscriptions.
func (g *Gateway) GetActiveSubscriptions() []streamingdomain.Subscription {
	return g.subs.GetActiveSubscriptions()
}

// GetReorgHistory returns recent reorg events for a chain, newest first.
func (g *Gateway) GetReorgHistory(ctx context.Context, chainID chain.ID, limit int) ([]streamingdomain.ReorgEvent, error) {
	if err := g.validate(chainID); err != nil {
		return nil, err
	}
	return g.reorg.GetReorgHistory(chainID, limit)
}

// OnReorg registers a callback for detected reorgs.
func (g *Gateway) OnReorg(cb func(streamingdomain.ReorgEvent)) {
	g.reorg.OnReorg(cb)
}

// GetProviderHealth returns endpoint health for one chain.
func (g *Gateway) GetProviderHealth(ctx context.Context, chainID chain.ID) ([]providerdomain.HealthRecord, error) {
	if err := g.validate(chainID); err != nil {
		return nil, err
	}
	return g.provider.GetProviderHealth(chainID)
}

// GetAllProviderHealth returns endpoint health for every chain.
func (g *Gateway) GetAllProviderHealth() map[chain.ID][]providerdomain.HealthRecord {
	return g.provider.GetAllProviderHealth()
}

// ActivateEndpoint puts an endpoint back into rotation.
func (g *Gateway) ActivateEndpoint(id string) error {
	return g.provider.ActivateEndpoint(id)
}

// DeactivateEndpoint takes an endpoint out of rotation.
func (g *Gateway) DeactivateEndpoint(id string) error {
	return g.provider.DeactivateEndpoint(id)
}

// GetHealth runs all component probes.
func (g *Gateway) GetHealth(ctx context.Context) map[string]Status {
	return g.health.CheckAll(ctx)
}

// GetOverallStatus reduces component health to one status.
func (g *Gateway) GetOverallStatus(ctx context.Context) Status {
	return g.health.GetOverallStatus(ctx)
}
