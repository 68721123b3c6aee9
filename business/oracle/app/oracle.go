package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/fd1az/chain-gateway/business/oracle/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/cache"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/ring"
)

const (
	tracerName = "business.oracle"
	meterName  = "business.oracle"
)

// Config holds tuning knobs for the gas oracle.
type Config struct {
	RefreshInterval time.Duration // snapshot TTL; a fetch within it is a cache hit
	HistorySize     int           // bounded per-chain history capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 15 * time.Second,
		HistorySize:     100,
	}
}

// oracleMetrics holds OTEL metric instruments.
type oracleMetrics struct {
	refreshes   metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	gasGwei     metric.Float64Gauge
}

// Oracle derives tiered gas prices per chain through the provider manager,
// caching live snapshots with a TTL and keeping a bounded history per chain.
type Oracle struct {
	config   Config
	logger   logger.LoggerInterface
	executor RequestExecutor

	live  *cache.Cache[chain.ID, *domain.Snapshot]
	group singleflight.Group

	mu        sync.RWMutex
	histories map[chain.ID]*ring.Buffer[*domain.Snapshot]

	tracer  trace.Tracer
	metrics *oracleMetrics
}

// NewOracle creates a gas oracle backed by the given executor.
func NewOracle(cfg Config, executor RequestExecutor, log logger.LoggerInterface) (*Oracle, error) {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	o := &Oracle{
		config:    cfg,
		logger:    log,
		executor:  executor,
		live:      cache.New[chain.ID, *domain.Snapshot](time.Minute),
		histories: make(map[chain.ID]*ring.Buffer[*domain.Snapshot]),
		tracer:    otel.Tracer(tracerName),
	}

	if err := o.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return o, nil
}

// initMetrics initializes OTEL metric instruments.
func (o *Oracle) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	o.metrics = &oracleMetrics{}

	o.metrics.refreshes, err = meter.Int64Counter(
		"gas_refreshes_total",
		metric.WithDescription("Gas price refreshes against providers"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return err
	}

	o.metrics.cacheHits, err = meter.Int64Counter(
		"gas_cache_hits_total",
		metric.WithDescription("Gas price cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	o.metrics.cacheMisses, err = meter.Int64Counter(
		"gas_cache_misses_total",
		metric.WithDescription("Gas price cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return err
	}

	o.metrics.gasGwei, err = meter.Float64Gauge(
		"gas_price_gwei",
		metric.WithDescription("Current standard-tier gas price in gwei"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	return nil
}

// GetGasPrice returns the live snapshot for a chain, refreshing it when the
// cached one is older than the refresh interval.
func (o *Oracle) GetGasPrice(ctx context.Context, chainID chain.ID) (*domain.Snapshot, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.get_gas_price",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	if !chain.Default().Has(chainID) {
		err := apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unknown chain %d", chainID)))
		span.RecordError(err)
		return nil, err
	}

	if snap, found := o.live.Get(ctx, chainID); found {
		o.metrics.cacheHits.Add(ctx, 1)
		span.AddEvent("cache_hit")
		return snap, nil
	}
	o.metrics.cacheMisses.Add(ctx, 1)

	return o.RefreshGasPrice(ctx, chainID)
}

// RefreshGasPrice fetches fresh gas signals, derives a new snapshot, stores
// it as the live value and appends it to history. Concurrent refreshes for
// the same chain are collapsed into one upstream fetch.
func (o *Oracle) RefreshGasPrice(ctx context.Context, chainID chain.ID) (*domain.Snapshot, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.refresh",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	if !chain.Default().Has(chainID) {
		err := apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unknown chain %d", chainID)))
		span.RecordError(err)
		return nil, err
	}

	v, err, _ := o.group.Do(fmt.Sprintf("refresh-%d", chainID), func() (any, error) {
		return o.refresh(ctx, chainID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return nil, err
	}

	snap := v.(*domain.Snapshot)
	span.SetAttributes(attribute.String("standard_wei", snap.Standard.String()))
	span.SetStatus(codes.Ok, "refreshed")
	return snap, nil
}

func (o *Oracle) refresh(ctx context.Context, chainID chain.ID) (*domain.Snapshot, error) {
	o.metrics.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain_id", int64(chainID))))

	base, err := o.fetchBig(ctx, chainID, "eth_gasPrice")
	if err != nil {
		return nil, apperror.New(apperror.CodeGasPriceUnavailable,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("gas price fetch failed for chain %d", chainID)))
	}

	var baseFee, priorityFee *big.Int
	if info, ok := chain.Default().Get(chainID); ok && info.EIP1559 {
		// Best effort: EIP-1559 signals enrich the snapshot but their
		// absence does not fail the refresh.
		if tip, err := o.fetchBig(ctx, chainID, "eth_maxPriorityFeePerGas"); err == nil {
			priorityFee = tip
		} else {
			o.logger.Debug(ctx, "priority fee unavailable", "chain", chainID, "error", err)
		}
		if fee, err := o.fetchBaseFee(ctx, chainID); err == nil {
			baseFee = fee
		} else {
			o.logger.Debug(ctx, "base fee unavailable", "chain", chainID, "error", err)
		}
	}

	snap := domain.NewSnapshot(chainID, base, baseFee, priorityFee, time.Now())

	o.live.Set(ctx, chainID, snap, o.config.RefreshInterval)

	o.mu.Lock()
	hist, ok := o.histories[chainID]
	if !ok {
		hist = ring.New[*domain.Snapshot](o.config.HistorySize)
		o.histories[chainID] = hist
	}
	hist.Append(snap)
	o.mu.Unlock()

	gwei, _ := snap.Gwei(domain.TierStandard).Float64()
	o.metrics.gasGwei.Record(ctx, gwei, metric.WithAttributes(
		attribute.Int64("chain_id", int64(chainID))))

	return snap, nil
}

func (o *Oracle) fetchBig(ctx context.Context, chainID chain.ID, method string) (*big.Int, error) {
	raw, err := o.executor.ExecuteRequest(ctx, chainID, method)
	if err != nil {
		return nil, err
	}
	var v hexutil.Big
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return (*big.Int)(&v), nil
}

// fetchBaseFee pulls baseFeePerGas from the latest block header.
func (o *Oracle) fetchBaseFee(ctx context.Context, chainID chain.ID) (*big.Int, error) {
	raw, err := o.executor.ExecuteRequest(ctx, chainID, "eth_getBlockByNumber", "latest", false)
	if err != nil {
		return nil, err
	}
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if block.BaseFeePerGas == nil {
		return nil, fmt.Errorf("block carries no baseFeePerGas")
	}
	return (*big.Int)(block.BaseFeePerGas), nil
}

// GetGasPriceHistory returns up to limit snapshots for a chain, newest first.
func (o *Oracle) GetGasPriceHistory(chainID chain.ID, limit int) ([]*domain.Snapshot, error) {
	if !chain.Default().Has(chainID) {
		return nil, apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unknown chain %d", chainID)))
	}

	o.mu.RLock()
	hist, ok := o.histories[chainID]
	o.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return hist.Recent(limit), nil
}

// HistoryLen reports the number of retained snapshots for a chain.
func (o *Oracle) HistoryLen(chainID chain.ID) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if hist, ok := o.histories[chainID]; ok {
		return hist.Len()
	}
	return 0
}

// Close releases the live snapshot cache.
func (o *Oracle) Close() {
	o.live.Close()
}
