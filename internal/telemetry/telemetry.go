// Package telemetry records flush outcomes for external collection.
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/model"
	"tickflow/internal/storage"
)

const (
	eventFlushSuccess = "flush_success"
	eventFlushFailure = "flush_failure"
)

// Emitter writes one structured record per flush attempt: always a log line,
// and append-only telemetry rows when a store is configured. Emission is
// best-effort and never propagates a failure into the flush pipeline.
type Emitter struct {
	service string
	store   storage.TelemetryStore
	logger  zerolog.Logger
}

// NewEmitter constructs an Emitter. store may be nil.
func NewEmitter(service string, store storage.TelemetryStore, logger zerolog.Logger) *Emitter {
	return &Emitter{
		service: service,
		store:   store,
		logger:  logger.With().Str("component", "telemetry").Logger(),
	}
}

// Emit records one FlushEvent.
func (e *Emitter) Emit(ctx context.Context, event model.FlushEvent) {
	line := e.logger.Info()
	if event.Outcome == model.FlushFailure {
		line = e.logger.Error()
	}
	line.
		Str("event", eventName(event)).
		Int("batch_size", event.BatchSize).
		Time("started_at", event.StartedAt).
		Dur("duration", event.Duration).
		Int("attempts", event.Attempts).
		Str("reason", event.Reason).
		Msg("batch flush")

	if e.store == nil {
		return
	}

	rows := []storage.TelemetryRow{
		{
			Timestamp: event.StartedAt,
			Service:   e.service,
			Event:     eventName(event),
			Metric:    "batch_size",
			Value:     float64(event.BatchSize),
			Unit:      "rows",
		},
		{
			Timestamp: event.StartedAt,
			Service:   e.service,
			Event:     eventName(event),
			Metric:    "flush_duration",
			Value:     float64(event.Duration) / float64(time.Millisecond),
			Unit:      "ms",
		},
	}

	// Detached from the flush context so a shutdown-cancelled flush can
	// still record its final event.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.InsertTelemetry(writeCtx, rows); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist telemetry rows")
	}
}

func eventName(event model.FlushEvent) string {
	if event.Outcome == model.FlushFailure {
		return eventFlushFailure
	}
	return eventFlushSuccess
}
