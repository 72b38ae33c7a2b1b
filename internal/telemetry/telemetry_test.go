package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/model"
	"tickflow/internal/storage"
)

type fakeTelemetryStore struct {
	mu   sync.Mutex
	rows []storage.TelemetryRow
	err  error
}

func (s *fakeTelemetryStore) InsertTelemetry(ctx context.Context, rows []storage.TelemetryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func sampleEvent(outcome model.FlushOutcome) model.FlushEvent {
	return model.FlushEvent{
		BatchSize: 10,
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  42 * time.Millisecond,
		Outcome:   outcome,
		Attempts:  1,
	}
}

func TestEmitWritesAppendOnlyRows(t *testing.T) {
	store := &fakeTelemetryStore{}
	emitter := NewEmitter("tickflow", store, zerolog.Nop())

	emitter.Emit(context.Background(), sampleEvent(model.FlushSuccess))

	if len(store.rows) != 2 {
		t.Fatalf("expected batch_size and flush_duration rows, got %d", len(store.rows))
	}
	for _, row := range store.rows {
		if row.Service != "tickflow" {
			t.Fatalf("unexpected service: %q", row.Service)
		}
		if row.Event != "flush_success" {
			t.Fatalf("unexpected event: %q", row.Event)
		}
	}
	if store.rows[0].Metric != "batch_size" || store.rows[0].Value != 10 {
		t.Fatalf("unexpected batch_size row: %#v", store.rows[0])
	}
	if store.rows[1].Metric != "flush_duration" || store.rows[1].Value != 42 {
		t.Fatalf("unexpected flush_duration row: %#v", store.rows[1])
	}
}

func TestEmitReplayAppendsAgain(t *testing.T) {
	store := &fakeTelemetryStore{}
	emitter := NewEmitter("tickflow", store, zerolog.Nop())

	event := sampleEvent(model.FlushSuccess)
	emitter.Emit(context.Background(), event)
	emitter.Emit(context.Background(), event)

	// Append-only: a replayed emission adds rows, it never rewrites the
	// earlier ones in place.
	if len(store.rows) != 4 {
		t.Fatalf("expected 4 appended rows after replay, got %d", len(store.rows))
	}
}

func TestEmitFailureEvent(t *testing.T) {
	store := &fakeTelemetryStore{}
	emitter := NewEmitter("tickflow", store, zerolog.Nop())

	event := sampleEvent(model.FlushFailure)
	event.Reason = "sink unavailable"
	emitter.Emit(context.Background(), event)

	if store.rows[0].Event != "flush_failure" {
		t.Fatalf("unexpected event: %q", store.rows[0].Event)
	}
}

func TestEmitStoreErrorDoesNotPropagate(t *testing.T) {
	store := &fakeTelemetryStore{err: errors.New("telemetry table missing")}
	emitter := NewEmitter("tickflow", store, zerolog.Nop())

	// Emit has no error return; the only failure mode that matters is a
	// panic reaching the flush pipeline.
	emitter.Emit(context.Background(), sampleEvent(model.FlushSuccess))
}

func TestEmitWithoutStore(t *testing.T) {
	emitter := NewEmitter("tickflow", nil, zerolog.Nop())
	emitter.Emit(context.Background(), sampleEvent(model.FlushSuccess))
}
