package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"tickflow/internal/alerting"
	"tickflow/internal/model"
)

// SinkOptions tune the persistence sink's retry behaviour.
type SinkOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Sink submits closed batches to the tick store, retrying transient failures
// with bounded backoff. A batch that exhausts its attempts is dropped; the
// loss is reported through the returned FlushEvent and the operator notifier.
type Sink struct {
	writer   TickStore
	opts     SinkOptions
	notifier alerting.Notifier
	logger   zerolog.Logger
}

// NewSink constructs a persistence sink. notifier may be nil.
func NewSink(writer TickStore, opts SinkOptions, notifier alerting.Notifier, logger zerolog.Logger) *Sink {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}
	return &Sink{
		writer:   writer,
		opts:     opts,
		notifier: notifier,
		logger:   logger.With().Str("component", "persistence_sink").Logger(),
	}
}

// Flush performs one bulk write covering every tick in the batch and records
// wall-clock start and duration regardless of outcome.
func (s *Sink) Flush(ctx context.Context, ticks []model.Tick) model.FlushEvent {
	event := model.FlushEvent{
		BatchSize: len(ticks),
		StartedAt: time.Now().UTC(),
		Outcome:   model.FlushSuccess,
	}

	var lastErr error
	backoff := s.opts.Backoff

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		event.Attempts = attempt

		lastErr = s.writer.InsertTicks(ctx, ticks)
		if lastErr == nil {
			event.Duration = time.Since(event.StartedAt)
			return event
		}

		if ctx.Err() != nil || !isTransient(lastErr) {
			break
		}
		if attempt == s.opts.MaxAttempts {
			break
		}

		s.logger.Warn().Err(lastErr).
			Int("attempt", attempt).
			Int("batch_size", len(ticks)).
			Dur("backoff", backoff).
			Msg("transient flush failure, retrying")

		select {
		case <-ctx.Done():
			attempt = s.opts.MaxAttempts
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}

	event.Duration = time.Since(event.StartedAt)
	event.Outcome = model.FlushFailure
	event.Reason = lastErr.Error()

	s.logger.Error().Err(lastErr).
		Int("batch_size", len(ticks)).
		Int("attempts", event.Attempts).
		Msg("batch dropped after terminal persistence failure")

	s.notifyFailure(event)
	return event
}

func (s *Sink) notifyFailure(event model.FlushEvent) {
	if s.notifier == nil {
		return
	}

	notice := alerting.FailureNotice{
		OccurredAt: event.StartedAt,
		BatchSize:  event.BatchSize,
		Attempts:   event.Attempts,
		Reason:     event.Reason,
	}

	// Detached context: the flush ctx may already be cancelled on shutdown
	// and the notice must still go out.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Notify(ctx, notice); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver failure notice")
	}
}

// isTransient reports whether a persistence error is worth retrying.
// Data and syntax errors will fail identically on every attempt; everything
// else (connectivity, timeouts, admin shutdown) is treated as transient.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return false
		}
	}
	return true
}
