package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/model"
	"tickflow/internal/parser"
	"tickflow/internal/pipeline"
	"tickflow/internal/source"
)

type fakeSubscription struct {
	ch        chan source.Message
	closeOnce sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan source.Message, 16)}
}

func (s *fakeSubscription) Messages() <-chan source.Message { return s.ch }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

type captureSink struct {
	mu      sync.Mutex
	batches [][]model.Tick
}

func (s *captureSink) Flush(ctx context.Context, ticks []model.Tick) model.FlushEvent {
	s.mu.Lock()
	batch := make([]model.Tick, len(ticks))
	copy(batch, ticks)
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	return model.FlushEvent{BatchSize: len(ticks), StartedAt: time.Now().UTC(), Outcome: model.FlushSuccess, Attempts: 1}
}

func (s *captureSink) snapshot() [][]model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]model.Tick, len(s.batches))
	copy(out, s.batches)
	return out
}

type captureEmitter struct{}

func (captureEmitter) Emit(ctx context.Context, event model.FlushEvent) {}

type captureForwarder struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (f *captureForwarder) Forward(ctx context.Context, tick model.Tick) error {
	f.mu.Lock()
	f.ticks = append(f.ticks, tick)
	f.mu.Unlock()
	return nil
}

func (f *captureForwarder) snapshot() []model.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Tick, len(f.ticks))
	copy(out, f.ticks)
	return out
}

var channelMap = map[string]string{"NASDAQ": "NASDAQ", "NYSE": "NYSE"}

func newTestService(sub source.Subscription, sink pipeline.Sink, fw pipeline.Forwarder, batchSize int, batchAge time.Duration) *Service {
	buffer := pipeline.NewBuffer(pipeline.BufferOptions{MaxBatchSize: batchSize, MaxBatchAge: batchAge}, sink, captureEmitter{}, zerolog.Nop())
	dispatcher := pipeline.NewDispatcher(fw, 64, zerolog.Nop())
	return New(sub, parser.New(channelMap), buffer, dispatcher, time.Second, zerolog.Nop())
}

func TestEndToEndTwoExchanges(t *testing.T) {
	sub := newFakeSubscription()
	sink := &captureSink{}
	fw := &captureForwarder{}
	svc := newTestService(sub, sink, fw, 2, time.Hour)

	sub.ch <- source.Message{Channel: "NASDAQ", Payload: "AAPL:100.00"}
	sub.ch <- source.Message{Channel: "NYSE", Payload: "IBM:50.00"}
	sub.Close()

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	batches := sink.snapshot()
	if len(batches) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("expected batch of 2 rows, got %d", len(batches[0]))
	}
	if batches[0][0].Exchange != "NASDAQ" || batches[0][1].Exchange != "NYSE" {
		t.Fatalf("rows must carry their originating exchange: %#v", batches[0])
	}

	forwards := fw.snapshot()
	if len(forwards) != 2 {
		t.Fatalf("expected two forward calls, got %d", len(forwards))
	}
	exchanges := map[string]bool{}
	for _, tick := range forwards {
		exchanges[tick.Exchange] = true
	}
	if !exchanges["NASDAQ"] || !exchanges["NYSE"] {
		t.Fatalf("expected one forward per exchange channel, got %#v", exchanges)
	}
}

func TestEndToEndAgeFlush(t *testing.T) {
	sub := newFakeSubscription()
	sink := &captureSink{}
	fw := &captureForwarder{}
	svc := newTestService(sub, sink, fw, 100, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	start := time.Now()
	sub.ch <- source.Message{Channel: "NASDAQ", Payload: "AAPL:100.00"}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(start)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run failed: %v", err)
	}

	batches := sink.snapshot()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected one flush with a batch of size 1, got %#v", batches)
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("flush fired before max_batch_age: %s", elapsed)
	}
	if elapsed > 700*time.Millisecond {
		t.Fatalf("flush fired far too late: %s", elapsed)
	}
}

func TestParseErrorDoesNotStopConsumption(t *testing.T) {
	sub := newFakeSubscription()
	sink := &captureSink{}
	fw := &captureForwarder{}
	svc := newTestService(sub, sink, fw, 1, time.Hour)

	sub.ch <- source.Message{Channel: "NASDAQ", Payload: "garbage"}
	sub.ch <- source.Message{Channel: "UNKNOWN", Payload: "AAPL:1.00"}
	sub.ch <- source.Message{Channel: "NASDAQ", Payload: "AAPL:101.00"}
	sub.Close()

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	batches := sink.snapshot()
	if len(batches) != 1 || batches[0][0].Symbol != "AAPL" {
		t.Fatalf("valid tick after parse errors should be processed, got %#v", batches)
	}
	if len(fw.snapshot()) != 1 {
		t.Fatalf("only the valid tick should be forwarded, got %d", len(fw.snapshot()))
	}
}
