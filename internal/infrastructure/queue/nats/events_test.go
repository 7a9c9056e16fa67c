package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

func TestClassifyPublishError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "no servers", err: fmt.Errorf("publish: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "timeout", err: nats.ErrTimeout, retryable: true, record: true},
		{name: "closed", err: nats.ErrConnectionClosed, retryable: true, record: true},
		{name: "reconnecting", err: nats.ErrConnectionReconnecting, retryable: true, record: true},
		{name: "canceled", err: context.Canceled},
		{name: "bad subject", err: nats.ErrBadSubject, record: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyPublishError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classifyPublishError() = %+v", got)
			}
		})
	}
}

func TestPublishErrorMarksTransientFailures(t *testing.T) {
	if err := publishError(nats.ErrNoServers); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary, got %v", err)
	}
	plain := errors.New("bad payload")
	if err := publishError(plain); err != plain {
		t.Fatalf("non-retryable errors must pass through, got %v", err)
	}
	if publishError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestAcceptSkipsOwnAndInvalidMessages(t *testing.T) {
	events := &CacheEvents{origin: "replica-a", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	own, err := encodeCacheCleared("replica-a", at)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, ok := events.accept(own); ok {
		t.Fatalf("own message must be ignored")
	}

	peer, _ := encodeCacheCleared("replica-b", at)
	msg, ok := events.accept(peer)
	if !ok || msg.Origin != "replica-b" || !msg.ClearedAt.Equal(at) {
		t.Fatalf("peer message must be applied, got %+v %v", msg, ok)
	}

	for _, raw := range [][]byte{[]byte("not json"), []byte(`{"cleared_at":"2026-10-16T09:00:00Z"}`)} {
		if _, ok := events.accept(raw); ok {
			t.Fatalf("invalid payload %q must be ignored", raw)
		}
	}
}

func TestCacheClearedMessageCarriesUTCTimestamp(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	raw, err := encodeCacheCleared("replica-a", at)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := decodeCacheCleared(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.ClearedAt.Equal(at) || msg.ClearedAt.Location() != time.UTC {
		t.Fatalf("unexpected timestamp %v", msg.ClearedAt)
	}
}
