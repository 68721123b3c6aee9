package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
)

const (
	tracerName = "business.streaming"
	meterName  = "business.streaming"
)

// SubscribeInput describes a new subscription request.
type SubscribeInput struct {
	Chain    chain.ID
	Type     domain.EventType
	Filter   *domain.LogFilter // only meaningful for EventLogs
	Callback domain.Callback
}

type streamKey struct {
	chain chain.ID
	typ   domain.EventType
}

// streamState is one open upstream stream plus its registered subscribers.
type streamState struct {
	stream Stream
	subs   map[string]*domain.Subscription
}

// subscriptionMetrics holds OTEL metric instruments.
type subscriptionMetrics struct {
	active          metric.Int64UpDownCounter
	eventsDelivered metric.Int64Counter
	callbackPanics  metric.Int64Counter
	decodeErrors    metric.Int64Counter
}

// SubscriptionManager multiplexes logical subscriptions over one upstream
// stream per (chain, event type) pair. Events are decoded once and fanned out
// to every matching subscription.
type SubscriptionManager struct {
	logger logger.LoggerInterface
	opener StreamOpener

	mu      sync.RWMutex
	streams map[streamKey]*streamState
	byID    map[string]streamKey
	closed  bool

	nextID atomic.Uint64

	tracer  trace.Tracer
	metrics *subscriptionMetrics
}

// NewSubscriptionManager creates a subscription manager backed by the opener.
func NewSubscriptionManager(opener StreamOpener, log logger.LoggerInterface) (*SubscriptionManager, error) {
	m := &SubscriptionManager{
		logger:  log,
		opener:  opener,
		streams: make(map[streamKey]*streamState),
		byID:    make(map[string]streamKey),
		tracer:  otel.Tracer(tracerName),
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes OTEL metric instruments.
func (m *SubscriptionManager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &subscriptionMetrics{}

	m.metrics.active, err = meter.Int64UpDownCounter(
		"subscriptions_active",
		metric.WithDescription("Currently registered subscriptions"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return err
	}

	m.metrics.eventsDelivered, err = meter.Int64Counter(
		"subscription_events_delivered_total",
		metric.WithDescription("Events delivered to subscription callbacks"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	m.metrics.callbackPanics, err = meter.Int64Counter(
		"subscription_callback_panics_total",
		metric.WithDescription("Callback panics recovered during dispatch"),
		metric.WithUnit("{panic}"),
	)
	if err != nil {
		return err
	}

	m.metrics.decodeErrors, err = meter.Int64Counter(
		"subscription_decode_errors_total",
		metric.WithDescription("Upstream payloads that failed to decode"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Subscribe registers a subscription and returns its generated id, opening
// the upstream stream for (chain, type) when it is the first subscriber.
func (m *SubscriptionManager) Subscribe(ctx context.Context, input SubscribeInput) (string, error) {
	ctx, span := m.tracer.Start(ctx, "streaming.subscribe",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(input.Chain)),
			attribute.String("type", string(input.Type)),
		),
	)
	defer span.End()

	if !chain.Default().Has(input.Chain) {
		err := apperror.New(apperror.CodeInvalidChain,
			apperror.WithContext(fmt.Sprintf("unknown chain %d", input.Chain)))
		span.RecordError(err)
		return "", err
	}
	if !input.Type.Valid() {
		err := apperror.New(apperror.CodeValidationError,
			apperror.WithContext(fmt.Sprintf("unknown event type %q", input.Type)))
		span.RecordError(err)
		return "", err
	}
	if input.Callback == nil {
		err := apperror.New(apperror.CodeValidationError,
			apperror.WithContext("subscription callback is required"))
		span.RecordError(err)
		return "", err
	}

	key := streamKey{chain: input.Chain, typ: input.Type}
	id := fmt.Sprintf("sub-%d-%s-%d", input.Chain, input.Type, m.nextID.Add(1))
	sub := &domain.Subscription{
		ID:       id,
		Chain:    input.Chain,
		Type:     input.Type,
		Filter:   input.Filter,
		Callback: input.Callback,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", apperror.New(apperror.CodeShuttingDown,
			apperror.WithContext("subscription manager is shut down"))
	}
	if state, ok := m.streams[key]; ok {
		state.subs[id] = sub
		m.byID[id] = key
		m.mu.Unlock()

		m.recordRegistered(ctx, span, id, input)
		return id, nil
	}
	m.mu.Unlock()

	// First subscriber for this (chain, type): dial outside the lock so a
	// slow upstream never stalls dispatch or other registrations.
	stream, err := m.opener.Open(ctx, input.Chain, input.Type, func(raw json.RawMessage) {
		m.dispatch(key, raw)
	})
	if err != nil {
		span.RecordError(err)
		return "", apperror.New(apperror.CodeSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("open %s stream for chain %d", input.Type, input.Chain)))
	}

	var duplicate Stream
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		_ = stream.Close()
		return "", apperror.New(apperror.CodeShuttingDown,
			apperror.WithContext("subscription manager is shut down"))

	default:
		state, ok := m.streams[key]
		if ok {
			// Another first subscriber won the dial race; join its stream.
			duplicate = stream
		} else {
			state = &streamState{
				stream: stream,
				subs:   make(map[string]*domain.Subscription),
			}
			m.streams[key] = state
		}
		state.subs[id] = sub
		m.byID[id] = key
		m.mu.Unlock()
	}

	if duplicate != nil {
		if err := duplicate.Close(); err != nil {
			m.logger.Warn(ctx, "duplicate stream close failed",
				"chain", input.Chain, "type", input.Type, "error", err)
		}
	}

	m.recordRegistered(ctx, span, id, input)
	return id, nil
}

func (m *SubscriptionManager) recordRegistered(ctx context.Context, span trace.Span, id string, input SubscribeInput) {
	m.metrics.active.Add(ctx, 1)
	m.logger.Info(ctx, "subscription registered",
		"id", id, "chain", input.Chain, "type", input.Type)
	span.SetAttributes(attribute.String("subscription_id", id))
}

// Unsubscribe removes a subscription. Unknown ids are a no-op so the
// operation stays idempotent. The upstream stream is torn down when the last
// subscriber for its (chain, type) pair leaves.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "streaming.unsubscribe",
		trace.WithAttributes(attribute.String("subscription_id", id)))
	defer span.End()

	m.mu.Lock()
	key, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		span.AddEvent("unknown_id")
		return nil
	}

	delete(m.byID, id)
	state := m.streams[key]
	delete(state.subs, id)

	var stream Stream
	if len(state.subs) == 0 {
		stream = state.stream
		delete(m.streams, key)
	}
	m.mu.Unlock()

	m.metrics.active.Add(ctx, -1)

	if stream != nil {
		if err := stream.Close(); err != nil {
			m.logger.Warn(ctx, "stream close failed", "id", id, "error", err)
		}
		m.logger.Info(ctx, "upstream stream torn down",
			"chain", key.chain, "type", key.typ)
	}
	return nil
}

// GetActiveSubscriptions lists all live subscriptions.
func (m *SubscriptionManager) GetActiveSubscriptions() []domain.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Subscription, 0, len(m.byID))
	for _, state := range m.streams {
		for _, sub := range state.subs {
			out = append(out, *sub)
		}
	}
	return out
}

// ActiveCount reports the number of live subscriptions.
func (m *SubscriptionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Close tears down every stream. Safe to call more than once.
func (m *SubscriptionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	streams := make([]Stream, 0, len(m.streams))
	for _, state := range m.streams {
		streams = append(streams, state.stream)
	}
	m.streams = make(map[streamKey]*streamState)
	m.byID = make(map[string]streamKey)
	m.mu.Unlock()

	for _, s := range streams {
		_ = s.Close()
	}
	return nil
}

// dispatch decodes one upstream payload and fans it out to every matching
// subscription. Runs on the stream's delivery goroutine, so events within a
// subscription keep arrival order.
func (m *SubscriptionManager) dispatch(key streamKey, raw json.RawMessage) {
	ctx := context.Background()

	event, err := m.decode(key, raw)
	if err != nil {
		m.metrics.decodeErrors.Add(ctx, 1)
		m.logger.Warn(ctx, "upstream payload decode failed",
			"chain", key.chain, "type", key.typ, "error", err)
		return
	}

	m.mu.RLock()
	state, ok := m.streams[key]
	var subs []*domain.Subscription
	if ok {
		subs = make([]*domain.Subscription, 0, len(state.subs))
		for _, sub := range state.subs {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if event.Type == domain.EventLogs && !sub.Filter.Matches(event.Log) {
			continue
		}
		m.invoke(ctx, sub, event)
	}
}

// invoke runs one callback with panic isolation so a failing subscriber
// cannot break delivery to others or the upstream stream.
func (m *SubscriptionManager) invoke(ctx context.Context, sub *domain.Subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.callbackPanics.Add(ctx, 1)
			m.logger.Error(ctx, "subscription callback panicked",
				"id", sub.ID, "panic", fmt.Sprint(r))
		}
	}()

	sub.Callback(event)
	m.metrics.eventsDelivered.Add(ctx, 1)
}

// decode parses an upstream notification payload once per event.
func (m *SubscriptionManager) decode(key streamKey, raw json.RawMessage) (domain.Event, error) {
	event := domain.Event{
		Chain:      key.chain,
		Type:       key.typ,
		ReceivedAt: time.Now(),
	}

	switch key.typ {
	case domain.EventNewBlocks:
		var head struct {
			Number     hexutil.Uint64 `json:"number"`
			Hash       common.Hash    `json:"hash"`
			ParentHash common.Hash    `json:"parentHash"`
			Timestamp  hexutil.Uint64 `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return event, err
		}
		event.Header = &domain.Header{
			Number:     uint64(head.Number),
			Hash:       head.Hash,
			ParentHash: head.ParentHash,
			Timestamp:  time.Unix(int64(head.Timestamp), 0),
		}

	case domain.EventLogs:
		var log types.Log
		if err := json.Unmarshal(raw, &log); err != nil {
			return event, err
		}
		event.Log = &log

	case domain.EventPendingTx:
		var hash common.Hash
		if err := json.Unmarshal(raw, &hash); err != nil {
			return event, err
		}
		event.TxHash = hash
	}

	return event, nil
}
