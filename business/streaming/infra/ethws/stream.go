// Package ethws opens eth_subscribe streams over raw websocket JSON-RPC.
package ethws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chain-gateway/business/streaming/app"
	"github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/apperror"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/wsconn"
)

const tracerName = "ethws"

// subscriptionParams maps an event type to its eth_subscribe parameter.
func subscriptionParams(typ domain.EventType) (string, error) {
	switch typ {
	case domain.EventNewBlocks:
		return "newHeads", nil
	case domain.EventLogs:
		return "logs", nil
	case domain.EventPendingTx:
		return "newPendingTransactions", nil
	default:
		return "", fmt.Errorf("event type %q has no upstream subscription", typ)
	}
}

// Config holds stream tuning knobs.
type Config struct {
	BufferSize     int           // notifications buffered between socket and handler
	ReconnectDelay time.Duration // initial websocket reconnect backoff
}

// Opener dials one websocket per opened stream against the configured ws
// endpoint of a chain.
type Opener struct {
	urls   map[chain.ID]string
	config Config
	logger logger.LoggerInterface
	tracer trace.Tracer
	nextID atomic.Int64
}

// NewOpener creates an opener for the given per-chain websocket URLs.
func NewOpener(urls map[chain.ID]string, cfg Config, log logger.LoggerInterface) *Opener {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Opener{
		urls:   urls,
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
}

// Open connects, issues eth_subscribe for the event type and delivers every
// notification result to the handler in arrival order.
func (o *Opener) Open(ctx context.Context, chainID chain.ID, typ domain.EventType, handler func(json.RawMessage)) (app.Stream, error) {
	ctx, span := o.tracer.Start(ctx, "ethws.open",
		trace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.String("type", string(typ)),
		),
	)
	defer span.End()

	url, ok := o.urls[chainID]
	if !ok || url == "" {
		err := apperror.New(apperror.CodeEndpointNotFound,
			apperror.WithContext(fmt.Sprintf("no websocket endpoint configured for chain %d", chainID)))
		span.RecordError(err)
		return nil, err
	}

	param, err := subscriptionParams(typ)
	if err != nil {
		span.RecordError(err)
		return nil, apperror.New(apperror.CodeValidationError, apperror.WithCause(err))
	}

	reqID := o.nextID.Add(1)
	s := &stream{
		logger: o.logger,
		reqID:  reqID,
		events: make(chan json.RawMessage, o.config.BufferSize),
		done:   make(chan struct{}),
	}

	cfg := wsconn.DefaultConfig(url, fmt.Sprintf("ethws-%d-%s", chainID, typ))
	if o.config.ReconnectDelay > 0 {
		cfg.InitialBackoff = o.config.ReconnectDelay
	}
	conn, err := wsconn.New(cfg)
	if err != nil {
		span.RecordError(err)
		return nil, apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err),
			apperror.WithContext("create websocket client"))
	}

	conn.OnMessage(s.handleMessage)
	conn.OnStateChange(func(state wsconn.State, cause error) {
		if state == wsconn.StateConnected && s.subscribed.Load() {
			// Reconnected: the upstream subscription died with the old
			// socket, issue it again.
			s.resubscribe(context.Background(), param)
		}
	})

	if err := conn.ConnectWithRetry(ctx); err != nil {
		span.RecordError(err)
		return nil, apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("connect %s", url)))
	}
	s.conn = conn
	go s.deliverLoop(handler)

	if err := s.subscribe(ctx, param); err != nil {
		_ = s.Close()
		span.RecordError(err)
		return nil, err
	}

	o.logger.Info(ctx, "upstream stream opened",
		"chain", chainID, "type", typ, "url", url)
	return s, nil
}

// stream is one live eth_subscribe subscription over a dedicated socket.
// Notifications pass through a bounded buffer so a slow consumer never
// stalls the socket read loop; overflow drops the notification with a
// warning.
type stream struct {
	conn   *wsconn.Client
	logger logger.LoggerInterface
	reqID  int64

	events    chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	subID      string
	subscribed atomic.Bool
}

// deliverLoop drains buffered notifications into the handler in arrival
// order.
func (s *stream) deliverLoop(handler func(json.RawMessage)) {
	for {
		select {
		case <-s.done:
			return
		case raw := <-s.events:
			handler(raw)
		}
	}
}

func (s *stream) subscribe(ctx context.Context, param string) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      s.reqID,
		"method":  "eth_subscribe",
		"params":  []any{param},
	}
	if err := s.conn.SendJSON(ctx, req); err != nil {
		return apperror.New(apperror.CodeSubscribeFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("send eth_subscribe %s", param)))
	}
	s.subscribed.Store(true)
	return nil
}

func (s *stream) resubscribe(ctx context.Context, param string) {
	if err := s.subscribe(ctx, param); err != nil {
		s.logger.Error(ctx, "resubscribe after reconnect failed", "error", err)
	}
}

// handleMessage routes socket frames: the eth_subscribe reply carries our
// subscription id, eth_subscription notifications carry payloads. Runs on
// the socket read loop and must never block.
func (s *stream) handleMessage(ctx context.Context, msg []byte) {
	var frame struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Method string          `json:"method"`
		Params struct {
			Subscription string          `json:"subscription"`
			Result       json.RawMessage `json:"result"`
		} `json:"params"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.logger.Warn(ctx, "unparseable websocket frame", "error", err)
		return
	}

	switch {
	case frame.Error != nil:
		s.logger.Error(ctx, "upstream subscription error",
			"code", frame.Error.Code, "message", frame.Error.Message)

	case frame.ID != nil && *frame.ID == s.reqID:
		var subID string
		if err := json.Unmarshal(frame.Result, &subID); err != nil {
			s.logger.Warn(ctx, "unparseable eth_subscribe reply", "error", err)
			return
		}
		s.mu.Lock()
		s.subID = subID
		s.mu.Unlock()
		s.logger.Debug(ctx, "upstream subscription confirmed", "sub_id", subID)

	case frame.Method == "eth_subscription":
		select {
		case s.events <- frame.Params.Result:
		default:
			s.logger.Warn(ctx, "notification buffer full, dropping event",
				"sub_id", frame.Params.Subscription)
		}
	}
}

// Close unsubscribes upstream (best effort), stops delivery and closes the
// socket. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.subscribed.Store(false)

	s.mu.Lock()
	subID := s.subID
	s.mu.Unlock()

	if subID != "" && s.conn.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.conn.SendJSON(ctx, map[string]any{
			"jsonrpc": "2.0",
			"id":      s.reqID + 1,
			"method":  "eth_unsubscribe",
			"params":  []any{subID},
		})
	}
	return s.conn.Close()
}
