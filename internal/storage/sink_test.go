package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"tickflow/internal/alerting"
	"tickflow/internal/model"
)

type fakeTickStore struct {
	mu       sync.Mutex
	calls    int
	failures []error
	inserted [][]model.Tick
}

func (s *fakeTickStore) InsertTicks(ctx context.Context, ticks []model.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.failures) {
		return s.failures[s.calls-1]
	}
	batch := make([]model.Tick, len(ticks))
	copy(batch, ticks)
	s.inserted = append(s.inserted, batch)
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []alerting.FailureNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice alerting.FailureNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func sinkOpts() SinkOptions {
	return SinkOptions{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func someTicks(n int) []model.Tick {
	ticks := make([]model.Tick, n)
	for i := range ticks {
		ticks[i] = model.Tick{Timestamp: time.Now().UTC(), Symbol: "AAPL", Exchange: "NASDAQ"}
	}
	return ticks
}

func TestSinkSuccessFirstAttempt(t *testing.T) {
	store := &fakeTickStore{}
	sink := NewSink(store, sinkOpts(), nil, zerolog.Nop())

	event := sink.Flush(context.Background(), someTicks(5))
	if event.Outcome != model.FlushSuccess {
		t.Fatalf("expected success, got %s (%s)", event.Outcome, event.Reason)
	}
	if event.BatchSize != 5 || event.Attempts != 1 {
		t.Fatalf("unexpected event: %#v", event)
	}
}

func TestSinkRetriesTransientThenSucceeds(t *testing.T) {
	store := &fakeTickStore{failures: []error{errors.New("connection refused")}}
	sink := NewSink(store, sinkOpts(), nil, zerolog.Nop())

	event := sink.Flush(context.Background(), someTicks(2))
	if event.Outcome != model.FlushSuccess {
		t.Fatalf("transient failure should be retried to success, got %s", event.Reason)
	}
	if event.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", event.Attempts)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("batch should be inserted exactly once, got %d", len(store.inserted))
	}
}

func TestSinkTerminalAfterExhaustedRetries(t *testing.T) {
	failure := errors.New("connection refused")
	store := &fakeTickStore{failures: []error{failure, failure, failure}}
	notifier := &recordingNotifier{}
	sink := NewSink(store, sinkOpts(), notifier, zerolog.Nop())

	event := sink.Flush(context.Background(), someTicks(4))
	if event.Outcome != model.FlushFailure {
		t.Fatal("exhausted retries should report failure")
	}
	if event.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", event.Attempts)
	}
	if event.Reason == "" {
		t.Fatal("terminal event must carry a reason")
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("terminal failure must reach the operator notifier, got %d notices", len(notifier.notices))
	}
	if notifier.notices[0].BatchSize != 4 {
		t.Fatalf("notice should carry the dropped batch size, got %d", notifier.notices[0].BatchSize)
	}
}

func TestSinkDataErrorFailsWithoutRetry(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23502", Message: "null value in column"}
	store := &fakeTickStore{failures: []error{pgErr, pgErr, pgErr}}
	sink := NewSink(store, sinkOpts(), nil, zerolog.Nop())

	event := sink.Flush(context.Background(), someTicks(1))
	if event.Outcome != model.FlushFailure {
		t.Fatal("data error should be terminal")
	}
	if event.Attempts != 1 {
		t.Fatalf("data error should not be retried, got %d attempts", event.Attempts)
	}
}

func TestSinkRecordsDurationOnFailure(t *testing.T) {
	failure := errors.New("connection refused")
	store := &fakeTickStore{failures: []error{failure, failure, failure}}
	sink := NewSink(store, sinkOpts(), nil, zerolog.Nop())

	event := sink.Flush(context.Background(), someTicks(1))
	if event.Duration <= 0 {
		t.Fatal("duration must be recorded regardless of outcome")
	}
	if event.StartedAt.IsZero() {
		t.Fatal("start time must be recorded regardless of outcome")
	}
}
