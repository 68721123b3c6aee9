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

	"github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/ring"
)

// ReorgConfig holds tuning knobs for the reorg detector.
type ReorgConfig struct {
	PollInterval time.Duration // per-chain head polling cadence
	TrackWindow  int           // recent heights kept for hash comparison
	HistorySize  int           // bounded reorg event history per chain
	MaxWalkback  int           // how far back divergence is searched
}

// DefaultReorgConfig returns sensible defaults.
func DefaultReorgConfig() ReorgConfig {
	return ReorgConfig{
		PollInterval: 12 * time.Second,
		TrackWindow:  64,
		HistorySize:  50,
		MaxWalkback:  32,
	}
}

// chainTrack is the per-chain tracking window: recorded hashes per height.
// Each chain carries its own lock so one chain's walk-back never serializes
// observations or reads on another chain.
type chainTrack struct {
	mu         sync.Mutex
	hashes     map[uint64]common.Hash
	order      []uint64 // insertion order for window eviction
	lastHeight uint64
	lastHash   common.Hash
	eventsSeen uint64
}

// reorgMetrics holds OTEL metric instruments.
type reorgMetrics struct {
	reorgsDetected metric.Int64Counter
	polls          metric.Int64Counter
	walkbackFails  metric.Int64Counter
}

// ReorgDetector polls chain heads, compares hashes at previously seen
// heights and fires callbacks when the canonical chain rewrites history.
type ReorgDetector struct {
	config   ReorgConfig
	logger   logger.LoggerInterface
	executor RequestExecutor

	mu        sync.Mutex // guards map membership only, never held across I/O
	tracks    map[chain.ID]*chainTrack
	histories map[chain.ID]*ring.Buffer[domain.ReorgEvent]

	cbMu      sync.RWMutex
	callbacks []func(domain.ReorgEvent)

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	tracer  trace.Tracer
	metrics *reorgMetrics
}

// NewReorgDetector creates a reorg detector backed by the given executor.
func NewReorgDetector(cfg ReorgConfig, executor RequestExecutor, log logger.LoggerInterface) (*ReorgDetector, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.TrackWindow <= 0 {
		cfg.TrackWindow = 64
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if cfg.MaxWalkback <= 0 {
		cfg.MaxWalkback = 32
	}

	d := &ReorgDetector{
		config:    cfg,
		logger:    log,
		executor:  executor,
		tracks:    make(map[chain.ID]*chainTrack),
		histories: make(map[chain.ID]*ring.Buffer[domain.ReorgEvent]),
		stop:      make(chan struct{}),
		tracer:    otel.Tracer(tracerName),
	}

	if err := d.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return d, nil
}

// initMetrics initializes OTEL metric instruments.
func (d *ReorgDetector) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	d.metrics = &reorgMetrics{}

	d.metrics.reorgsDetected, err = meter.Int64Counter(
		"reorgs_detected_total",
		metric.WithDescription("Chain reorganizations detected"),
		metric.WithUnit("{reorg}"),
	)
	if err != nil {
		return err
	}

	d.metrics.polls, err = meter.Int64Counter(
		"reorg_polls_total",
		metric.WithDescription("Head polls issued by the reorg detector"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return err
	}

	d.metrics.walkbackFails, err = meter.Int64Counter(
		"reorg_walkback_failures_total",
		metric.WithDescription("Walk-backs that could not establish depth"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// OnReorg registers a callback invoked synchronously, in registration order,
// for every detected reorg.
func (d *ReorgDetector) OnReorg(cb func(domain.ReorgEvent)) {
	d.cbMu.Lock()
	d.callbacks = append(d.callbacks, cb)
	d.cbMu.Unlock()
}

// Start launches one polling loop per chain.
func (d *ReorgDetector) Start(ctx context.Context, chains []chain.ID) error {
	for _, id := range chains {
		if !chain.Default().Has(id) {
			return apperror.New(apperror.CodeInvalidChain,
				apperror.WithContext(fmt.Sprintf("unknown chain %d", id)))
		}
	}

	for _, id := range chains {
		d.wg.Add(1)
		go d.pollLoop(id)
	}

	d.logger.Info(ctx, "reorg detector started",
		"chains", len(chains), "interval", d.config.PollInterval)
	return nil
}

func (d *ReorgDetector) pollLoop(chainID chain.ID) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.poll(chainID)
		}
	}
}

// poll fetches the chain head and feeds it to Observe. Failures are logged
// and never break the loop.
func (d *ReorgDetector) poll(chainID chain.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.PollInterval)
	defer cancel()

	d.metrics.polls.Add(ctx, 1)

	head, err := d.fetchHeader(ctx, chainID, "latest")
	if err != nil {
		d.logger.Warn(ctx, "head poll failed", "chain", chainID, "error", err)
		return
	}

	d.Observe(ctx, chainID, head)
}

// Observe records one head observation, detecting a reorg when the hash at a
// previously seen height changed. On detection the divergence depth is
// established by walking back, the event is appended to history and all
// callbacks run synchronously in registration order.
func (d *ReorgDetector) Observe(ctx context.Context, chainID chain.ID, head domain.Header) {
	ctx, span := d.tracer.Start(ctx, "reorg.observe",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.Int64("height", int64(head.Number)),
		),
	)
	defer span.End()

	track := d.track(chainID)

	track.mu.Lock()
	prevHash, seen := track.hashes[head.Number]
	if seen && prevHash != head.Hash {
		// Hash mismatch at a known height: the chain rewrote history.
		event := domain.ReorgEvent{
			Chain:          chainID,
			OldBlockNumber: head.Number,
			OldBlockHash:   prevHash,
			NewBlockNumber: head.Number,
			NewBlockHash:   head.Hash,
			Timestamp:      time.Now(),
		}

		// Depth search consults the recorded window first and the provider
		// only for ancestors we never saw. Only this chain's track lock is
		// held across the fetches.
		event.Depth = d.walkBack(ctx, chainID, track, head)

		d.recordHead(track, head)
		track.eventsSeen++
		track.mu.Unlock()

		d.history(chainID).Append(event)

		d.metrics.reorgsDetected.Add(ctx, 1, metric.WithAttributes(
			attribute.Int64("chain_id", int64(chainID))))
		span.AddEvent("reorg_detected", trace.WithAttributes(
			attribute.Int("depth", event.Depth)))
		span.SetStatus(codes.Ok, "reorg")

		d.logger.Warn(ctx, "reorg detected",
			"chain", chainID, "height", head.Number,
			"old_hash", prevHash.Hex(), "new_hash", head.Hash.Hex(),
			"depth", event.Depth)

		d.cbMu.RLock()
		cbs := make([]func(domain.ReorgEvent), len(d.callbacks))
		copy(cbs, d.callbacks)
		d.cbMu.RUnlock()
		for _, cb := range cbs {
			cb(event)
		}
		return
	}

	d.recordHead(track, head)
	track.mu.Unlock()
	span.SetStatus(codes.Ok, "tracking")
}

// track returns the tracking state for a chain, creating it on first use.
func (d *ReorgDetector) track(chainID chain.ID) *chainTrack {
	d.mu.Lock()
	defer d.mu.Unlock()

	track, ok := d.tracks[chainID]
	if !ok {
		track = &chainTrack{hashes: make(map[uint64]common.Hash)}
		d.tracks[chainID] = track
	}
	return track
}

// history returns the event ring for a chain, creating it on first use.
func (d *ReorgDetector) history(chainID chain.ID) *ring.Buffer[domain.ReorgEvent] {
	d.mu.Lock()
	defer d.mu.Unlock()

	hist, ok := d.histories[chainID]
	if !ok {
		hist = ring.New[domain.ReorgEvent](d.config.HistorySize)
		d.histories[chainID] = hist
	}
	return hist
}

// recordHead stores the hash in the tracking window, evicting the oldest
// entry beyond the window size. Callers hold the chain's track lock.
func (d *ReorgDetector) recordHead(track *chainTrack, head domain.Header) {
	if _, seen := track.hashes[head.Number]; !seen {
		track.order = append(track.order, head.Number)
		if len(track.order) > d.config.TrackWindow {
			oldest := track.order[0]
			track.order = track.order[1:]
			delete(track.hashes, oldest)
		}
	}
	track.hashes[head.Number] = head.Hash
	track.lastHeight = head.Number
	track.lastHash = head.Hash
}

// walkBack finds how many blocks back the divergence occurred by comparing
// on-chain ancestor hashes against the recorded window. Best effort: when an
// ancestor cannot be fetched the depth is DepthUnknown. Callers hold the
// chain's track lock.
func (d *ReorgDetector) walkBack(ctx context.Context, chainID chain.ID, track *chainTrack, head domain.Header) int {
	parentHash := head.ParentHash

	for depth := 1; depth <= d.config.MaxWalkback; depth++ {
		height := head.Number - uint64(depth)
		if height > head.Number { // underflow near genesis
			return depth
		}

		recorded, seen := track.hashes[height]
		if seen {
			if recorded == parentHash {
				return depth
			}
		}

		// Ancestor unseen or diverged: fetch it to keep walking.
		ancestor, err := d.fetchHeader(ctx, chainID, hexutil.EncodeUint64(height))
		if err != nil {
			d.metrics.walkbackFails.Add(ctx, 1)
			d.logger.Warn(ctx, "reorg walk-back failed",
				"chain", chainID, "height", height, "error", err)
			return domain.DepthUnknown
		}
		if seen && recorded == ancestor.Hash {
			// Our record already agrees with the chain at this height.
			return depth
		}
		if !seen && ancestor.Hash == parentHash {
			return depth
		}
		parentHash = ancestor.ParentHash
	}

	return d.config.MaxWalkback
}

func (d *ReorgDetector) fetchHeader(ctx context.Context, chainID chain.ID, tag string) (domain.Header, error) {
	raw, err := d.executor.ExecuteRequest(ctx, chainID, "eth_getBlockByNumber", tag, false)
	if err != nil {
		return domain.Header{}, apperror.New(apperror.CodeReorgWalkbackFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("fetch block %s on chain %d", tag, chainID)))
	}

	var block struct {
		Number     hexutil.Uint64 `json:"number"`
		Hash       common.Hash    `json:"hash"`
		ParentHash common.Hash    `json:"parentHash"`
		Timestamp  hexutil.Uint64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return domain.Header{}, apperror.New(apperror.CodeReorgWalkbackFailed,
			apperror.WithCause(err),
			apperror.WithContext("decode block header"))
	}

	return domain.Header{
		Number:     uint64(block.Number),
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Timestamp:  time.Unix(int64(block.Timestamp), 0),
	}, nil
}

// GetReorgHistory returns up to limit reorg events for a chain, newest first.
func (d *ReorgDetector) GetReorgHistory(chainID chain.ID, limit int) ([]domain.ReorgEvent, error) {
	if !chain.Default().Has(chainID) {
		return nil, apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unknown chain %d", chainID)))
	}

	d.mu.Lock()
	hist, ok := d.histories[chainID]
	d.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return hist.Recent(limit), nil
}

// Stats returns the tracking summary for a chain.
func (d *ReorgDetector) Stats(chainID chain.ID) domain.TrackingStats {
	d.mu.Lock()
	track, ok := d.tracks[chainID]
	d.mu.Unlock()

	stats := domain.TrackingStats{Chain: chainID}
	if ok {
		track.mu.Lock()
		stats.LastHeight = track.lastHeight
		stats.LastHash = track.lastHash
		stats.EventsSeen = track.eventsSeen
		track.mu.Unlock()
	}
	return stats
}

// Stop halts all polling loops. Safe to call more than once.
func (d *ReorgDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		d.wg.Wait()
	})
}
