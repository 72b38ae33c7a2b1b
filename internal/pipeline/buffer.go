// Package pipeline implements the ingestion-buffering-dispatch core: a batch
// buffer decoupling inbound tick rate from bulk persistence, and a dispatcher
// fanning ticks out to the real-time transport.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/model"
)

// ErrStopped is returned by Append after the buffer has begun shutting down.
var ErrStopped = errors.New("pipeline: buffer stopped")

// Sink accepts a closed batch for bulk persistence and reports the outcome.
type Sink interface {
	Flush(ctx context.Context, ticks []model.Tick) model.FlushEvent
}

// Emitter records one telemetry event per flush attempt.
type Emitter interface {
	Emit(ctx context.Context, event model.FlushEvent)
}

// BufferOptions tune batching behaviour.
type BufferOptions struct {
	// MaxBatchSize closes the open batch when it reaches this many ticks.
	MaxBatchSize int
	// MaxBatchAge closes the open batch this long after its first tick
	// was appended. The timer is per batch, armed on first append.
	MaxBatchAge time.Duration
	// QueueCapacity bounds the append queue between callers and the
	// batch owner.
	QueueCapacity int
}

// Buffer accumulates ticks into batches and hands each closed batch to a
// single flush worker, in close order, with at most one flush in flight.
//
// A single owner goroutine holds the open batch, so append and swap never
// race; the bulk write itself happens on the flush worker, outside the
// owner, so ticks keep arriving during a slow write.
type Buffer struct {
	opts    BufferOptions
	sink    Sink
	emitter Emitter
	logger  zerolog.Logger

	appendCh chan model.Tick
	flushCh  chan []model.Tick
	stopping chan struct{}
	done     chan struct{}

	flushCtx    context.Context
	flushCancel context.CancelFunc

	stopOnce sync.Once
}

// NewBuffer constructs a Buffer. It does nothing until Start.
func NewBuffer(opts BufferOptions, sink Sink, emitter Emitter, logger zerolog.Logger) *Buffer {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	if opts.MaxBatchAge <= 0 {
		opts.MaxBatchAge = 5 * time.Second
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	return &Buffer{
		opts:     opts,
		sink:     sink,
		emitter:  emitter,
		logger:   logger.With().Str("component", "batch_buffer").Logger(),
		appendCh: make(chan model.Tick, opts.QueueCapacity),
		flushCh:  make(chan []model.Tick, 1),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the batch owner and the flush worker.
func (b *Buffer) Start(ctx context.Context) {
	// Flushes outlive the run context: the final flush on shutdown must
	// still reach the sink. Stop cancels this when the grace period ends.
	b.flushCtx, b.flushCancel = context.WithCancel(context.WithoutCancel(ctx))

	go b.ownerLoop()
	go b.flushLoop()

	b.logger.Info().
		Int("max_batch_size", b.opts.MaxBatchSize).
		Dur("max_batch_age", b.opts.MaxBatchAge).
		Msg("batch buffer started")
}

// Append adds a tick to the open batch. It never waits on persistence; it
// blocks only while the append queue is full.
func (b *Buffer) Append(tick model.Tick) error {
	select {
	case <-b.stopping:
		return ErrStopped
	default:
	}

	select {
	case b.appendCh <- tick:
		return nil
	case <-b.stopping:
		return ErrStopped
	}
}

// Stop closes the buffer: no new appends are accepted, queued appends are
// drained into the open batch, and a final best-effort flush is submitted.
// The in-flight flush is aborted if ctx expires first.
func (b *Buffer) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopping) })

	select {
	case <-b.done:
		b.flushCancel()
		return nil
	case <-ctx.Done():
		b.flushCancel()
		<-b.done
		return ctx.Err()
	}
}

// ownerLoop is the only goroutine that touches the open batch.
func (b *Buffer) ownerLoop() {
	var (
		batch  []model.Tick
		timer  *time.Timer
		timerC <-chan time.Time
	)

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerC = nil
	}

	submit := func(ticks []model.Tick) {
		disarm()
		b.flushCh <- ticks
	}

	for {
		select {
		case tick := <-b.appendCh:
			if len(batch) == 0 {
				timer = time.NewTimer(b.opts.MaxBatchAge)
				timerC = timer.C
			}
			batch = append(batch, tick)
			if len(batch) >= b.opts.MaxBatchSize {
				submit(batch)
				batch = nil
			}

		case <-timerC:
			disarm()
			if len(batch) > 0 {
				submit(batch)
				batch = nil
			}

		case <-b.stopping:
			disarm()
			// Drain appends that raced the stop signal; every accepted
			// tick must end up in exactly one batch.
		drain:
			for {
				select {
				case tick := <-b.appendCh:
					batch = append(batch, tick)
					if len(batch) >= b.opts.MaxBatchSize {
						submit(batch)
						batch = nil
					}
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				b.logger.Info().Int("batch_size", len(batch)).Msg("final flush on shutdown")
				submit(batch)
			}
			close(b.flushCh)
			return
		}
	}
}

// flushLoop submits closed batches to the sink one at a time.
func (b *Buffer) flushLoop() {
	defer close(b.done)
	for batch := range b.flushCh {
		event := b.sink.Flush(b.flushCtx, batch)
		b.emitter.Emit(b.flushCtx, event)
	}
}
