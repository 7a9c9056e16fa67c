// Package nats broadcasts cache invalidations between API replicas.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/resilience"
)

// CacheEvents implements ports.CacheEvents. Every replica subscribes without
// a queue group, so each one sees every clear. A replica ignores its own
// messages because it already cleared before publishing.
type CacheEvents struct {
	conn     *nats.Conn
	subject  string
	origin   string
	executor *resilience.Executor
	logger   *slog.Logger
	observe  func(lag time.Duration, err error)
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
	// OnEvent is called after each peer event is handled.
	OnEvent func(lag time.Duration, err error)
}

type cacheClearedMessage struct {
	Origin    string    `json:"origin"`
	ClearedAt time.Time `json:"cleared_at"`
}

func New(url, subject string, options Options) (*CacheEvents, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("book-qa-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &CacheEvents{
		conn:     conn,
		subject:  subject,
		origin:   uuid.NewString(),
		executor: options.ResilienceExecutor,
		logger:   logger,
		observe:  options.OnEvent,
		now:      time.Now,
	}, nil
}

func (e *CacheEvents) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}

func (e *CacheEvents) PublishCacheCleared(ctx context.Context) error {
	payload, err := encodeCacheCleared(e.origin, e.now())
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := e.conn.Publish(e.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if e.executor != nil {
		err = e.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishError(err)
	}
	return nil
}

// SubscribeCacheCleared blocks until ctx is done, then drains the
// subscription.
func (e *CacheEvents) SubscribeCacheCleared(ctx context.Context, handler func(context.Context) error) error {
	sub, err := e.conn.Subscribe(e.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		event, ok := e.accept(msg.Data)
		if !ok {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		err := handler(handlerCtx)
		if e.observe != nil {
			e.observe(e.now().Sub(event.ClearedAt), err)
		}
		if err != nil {
			e.logger.Error("cache_clear_event_failed", "origin", event.Origin, "error", err)
			return
		}
		e.logger.Info("cache_clear_event_applied", "origin", event.Origin)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := e.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := e.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// accept reports whether a message came from a peer and should be applied.
func (e *CacheEvents) accept(data []byte) (cacheClearedMessage, bool) {
	msg, err := decodeCacheCleared(data)
	if err != nil {
		e.logger.Warn("cache_clear_event_invalid", "error", err)
		return msg, false
	}
	return msg, msg.Origin != e.origin
}

func encodeCacheCleared(origin string, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(cacheClearedMessage{Origin: origin, ClearedAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal cache cleared event: %w", err)
	}
	return payload, nil
}

func decodeCacheCleared(data []byte) (cacheClearedMessage, error) {
	var msg cacheClearedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode cache cleared event: %w", err)
	}
	if msg.Origin == "" {
		return msg, errors.New("cache cleared event without origin")
	}
	return msg, nil
}

// transientPublishErrors are connection states a reconnect can heal.
var transientPublishErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	for _, target := range transientPublishErrors {
		if errors.Is(err, target) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// publishError marks failures a later clear could get through as
// ErrTemporary so the HTTP layer answers 503.
func publishError(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyPublishError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "publish cache clear", err)
	}
	return err
}
