package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tickflow/internal/model"
)

// Forwarder delivers one tick to the real-time fan-out transport.
type Forwarder interface {
	Forward(ctx context.Context, tick model.Tick) error
}

// Dispatcher fans ticks out to the Forwarder without blocking the consumer
// loop. One worker per exchange preserves per-exchange arrival order; the
// two exchanges proceed independently.
//
// Forward failures are counted and logged, never propagated: they must not
// delay later ticks and must not affect persistence of the same tick.
type Dispatcher struct {
	forwarder Forwarder
	queueSize int
	logger    zerolog.Logger

	mu      sync.Mutex
	queues  map[string]chan model.Tick
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	dropped  atomic.Int64
	failures atomic.Int64
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(forwarder Forwarder, queueSize int, logger zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		forwarder: forwarder,
		queueSize: queueSize,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		queues:    make(map[string]chan model.Tick),
	}
}

// Start prepares the dispatcher for Enqueue calls.
func (d *Dispatcher) Start(ctx context.Context) {
	// Forwarding of already-enqueued ticks may finish after the run
	// context is cancelled; Stop bounds that instead.
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
}

// Enqueue hands a tick to its exchange's forward worker. It never blocks:
// when the worker's queue is full the tick's forward is dropped and counted.
func (d *Dispatcher) Enqueue(tick model.Tick) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	queue, ok := d.queues[tick.Exchange]
	if !ok {
		queue = make(chan model.Tick, d.queueSize)
		d.queues[tick.Exchange] = queue
		d.wg.Add(1)
		go d.worker(tick.Exchange, queue)
	}
	d.mu.Unlock()

	select {
	case queue <- tick:
	default:
		d.dropped.Add(1)
		d.logger.Warn().
			Str("exchange", tick.Exchange).
			Str("symbol", tick.Symbol).
			Msg("forward queue full, dropping tick forward")
	}
}

// Stop closes the queues and waits for the workers to drain, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if d.cancel != nil {
			d.cancel()
		}
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-done
		return ctx.Err()
	}
}

// Dropped reports how many tick forwards were discarded on full queues.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Failures reports how many forward attempts returned an error.
func (d *Dispatcher) Failures() int64 { return d.failures.Load() }

func (d *Dispatcher) worker(exchange string, queue <-chan model.Tick) {
	defer d.wg.Done()
	for tick := range queue {
		if err := d.forwarder.Forward(d.ctx, tick); err != nil {
			d.failures.Add(1)
			d.logger.Warn().Err(err).
				Str("exchange", exchange).
				Str("symbol", tick.Symbol).
				Msg("tick forward failed")
		}
	}
}
