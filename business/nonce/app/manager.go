package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chain-gateway/business/nonce/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
)

const (
	tracerName = "business.nonce"
	meterName  = "business.nonce"
)

type nonceKey struct {
	chain   chain.ID
	address common.Address
}

// entry is the per-key nonce state. Its mutex serializes all operations for
// one (chain, address) pair without blocking other keys.
type entry struct {
	mu         sync.Mutex
	value      uint64
	synced     bool
	lastSynced time.Time
}

// managerMetrics holds OTEL metric instruments.
type managerMetrics struct {
	increments metric.Int64Counter
	syncs      metric.Int64Counter
	resets     metric.Int64Counter
}

// Manager tracks per-(chain, address) nonces, initializing them from on-chain
// state and serializing increments per key.
type Manager struct {
	logger   logger.LoggerInterface
	executor RequestExecutor

	mu      sync.Mutex
	entries map[nonceKey]*entry

	tracer  trace.Tracer
	metrics *managerMetrics
}

// NewManager creates a nonce manager backed by the given executor.
func NewManager(executor RequestExecutor, log logger.LoggerInterface) (*Manager, error) {
	m := &Manager{
		logger:   log,
		executor: executor,
		entries:  make(map[nonceKey]*entry),
		tracer:   otel.Tracer(tracerName),
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

	m.metrics.increments, err = meter.Int64Counter(
		"nonce_increments_total",
		metric.WithDescription("Nonce increments handed out"),
		metric.WithUnit("{increment}"),
	)
	if err != nil {
		return err
	}

	m.metrics.syncs, err = meter.Int64Counter(
		"nonce_syncs_total",
		metric.WithDescription("On-chain nonce resyncs"),
		metric.WithUnit("{sync}"),
	)
	if err != nil {
		return err
	}

	m.metrics.resets, err = meter.Int64Counter(
		"nonce_resets_total",
		metric.WithDescription("Cached nonce resets"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// GetNonce returns the cached nonce for the key, initializing it from
// on-chain state on first access.
func (m *Manager) GetNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	ctx, span := m.tracer.Start(ctx, "nonce.get",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	key, err := m.validateKey(chainID, address)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.ensureSynced(ctx, key, e); err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("nonce", int64(e.value)))
	return e.value, nil
}

// IncrementNonce atomically advances the cached nonce and returns the new
// value. Concurrent callers for the same key observe strictly increasing,
// gap-free values.
func (m *Manager) IncrementNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	ctx, span := m.tracer.Start(ctx, "nonce.increment",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	key, err := m.validateKey(chainID, address)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.ensureSynced(ctx, key, e); err != nil {
		span.RecordError(err)
		return 0, err
	}

	e.value++
	m.metrics.increments.Add(ctx, 1)

	span.SetAttributes(attribute.Int64("nonce", int64(e.value)))
	return e.value, nil
}

// ResetNonce clears the cached value for the key; the next access
// re-initializes from on-chain state. Unknown keys are a no-op.
func (m *Manager) ResetNonce(ctx context.Context, chainID chain.ID, address string) error {
	ctx, span := m.tracer.Start(ctx, "nonce.reset",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	key, err := m.validateKey(chainID, address)
	if err != nil {
		span.RecordError(err)
		return err
	}

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()

	m.metrics.resets.Add(ctx, 1)
	return nil
}

// SyncNonce re-reads the authoritative on-chain nonce and overwrites the
// cache. Used after drift, e.g. a reorg or an externally submitted
// transaction.
func (m *Manager) SyncNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error) {
	ctx, span := m.tracer.Start(ctx, "nonce.sync",
		trace.WithAttributes(attribute.Int64("chain_id", int64(chainID))))
	defer span.End()

	key, err := m.validateKey(chainID, address)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	e := m.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	value, err := m.fetchOnChain(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		return 0, err
	}

	e.value = value
	e.synced = true
	e.lastSynced = time.Now()
	m.metrics.syncs.Add(ctx, 1)

	span.SetAttributes(attribute.Int64("nonce", int64(value)))
	return value, nil
}

// Records returns snapshots of all cached nonce state, for health reporting.
func (m *Manager) Records() []domain.Record {
	m.mu.Lock()
	keys := make([]nonceKey, 0, len(m.entries))
	entries := make([]*entry, 0, len(m.entries))
	for k, e := range m.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]domain.Record, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out = append(out, domain.Record{
			Chain:      keys[i].chain,
			Address:    keys[i].address,
			Value:      e.value,
			LastSynced: e.lastSynced,
		})
		e.mu.Unlock()
	}
	return out
}

func (m *Manager) validateKey(chainID chain.ID, address string) (nonceKey, error) {
	if !chain.Default().Has(chainID) {
		return nonceKey{}, apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unknown chain %d", chainID)))
	}
	if !chain.IsValidAddress(chainID, address) {
		return nonceKey{}, apperror.New(apperror.CodeInvalidAddress,
			apperror.WithContext(fmt.Sprintf("malformed address %q", address)))
	}
	return nonceKey{chain: chainID, address: common.HexToAddress(address)}, nil
}

func (m *Manager) entryFor(key nonceKey) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

// ensureSynced initializes the entry from on-chain state on first access.
// Callers hold the entry lock.
func (m *Manager) ensureSynced(ctx context.Context, key nonceKey, e *entry) error {
	if e.synced {
		return nil
	}

	value, err := m.fetchOnChain(ctx, key)
	if err != nil {
		return err
	}

	e.value = value
	e.synced = true
	e.lastSynced = time.Now()
	m.metrics.syncs.Add(ctx, 1)

	m.logger.Debug(ctx, "nonce initialized from chain",
		"chain", key.chain, "address", key.address.Hex(), "nonce", value)
	return nil
}

// fetchOnChain reads the pending transaction count, which includes mempool
// transactions so freshly handed-out nonces are not reused.
func (m *Manager) fetchOnChain(ctx context.Context, key nonceKey) (uint64, error) {
	raw, err := m.executor.ExecuteRequest(ctx, key.chain,
		"eth_getTransactionCount", key.address.Hex(), "pending")
	if err != nil {
		return 0, apperror.New(apperror.CodeNonceSyncFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("nonce fetch failed for %s on chain %d",
				key.address.Hex(), key.chain)))
	}

	var count hexutil.Uint64
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, apperror.New(apperror.CodeNonceSyncFailed,
			apperror.WithCause(err),
			apperror.WithContext("decode transaction count"))
	}
	return uint64(count), nil
}
