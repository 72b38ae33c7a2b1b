// Package service runs the consumer loop joining the tick source to the
// batching and fan-out paths.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/parser"
	"tickflow/internal/pipeline"
	"tickflow/internal/source"
)

// Service consumes raw messages, parses them, and feeds every tick to both
// the batch buffer and the forward dispatcher. The two downstream paths are
// independent: a slow forward never delays buffering and vice versa.
type Service struct {
	subscription source.Subscription
	parser       *parser.Parser
	buffer       *pipeline.Buffer
	dispatcher   *pipeline.Dispatcher
	grace        time.Duration
	logger       zerolog.Logger

	parseErrors map[parser.Kind]int64
	consumed    int64
}

// New constructs the consumer service.
func New(subscription source.Subscription, p *parser.Parser, buffer *pipeline.Buffer, dispatcher *pipeline.Dispatcher, grace time.Duration, logger zerolog.Logger) *Service {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Service{
		subscription: subscription,
		parser:       p,
		buffer:       buffer,
		dispatcher:   dispatcher,
		grace:        grace,
		logger:       logger.With().Str("component", "service").Logger(),
		parseErrors:  make(map[parser.Kind]int64),
	}
}

// Run consumes until ctx is cancelled or the source closes, then shuts the
// pipeline down with one final flush bounded by the grace period.
func (s *Service) Run(ctx context.Context) error {
	s.buffer.Start(ctx)
	s.dispatcher.Start(ctx)

	runErr := s.consume(ctx)
	s.shutdown()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (s *Service) consume(ctx context.Context) error {
	messages := s.subscription.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				s.logger.Warn().Msg("tick source closed")
				return nil
			}
			s.handle(msg)
		}
	}
}

// handle processes one raw message. No failure here may abort consumption of
// the messages after it.
func (s *Service) handle(msg source.Message) {
	tick, err := s.parser.Parse(msg.Payload, msg.Channel)
	if err != nil {
		kind := parser.Kind("unknown")
		var parseErr *parser.Error
		if errors.As(err, &parseErr) {
			kind = parseErr.Kind
		}
		s.parseErrors[kind]++
		s.logger.Warn().Err(err).
			Str("channel", msg.Channel).
			Str("payload", msg.Payload).
			Msg("skipping unparseable tick")
		return
	}

	s.consumed++

	// Real-time first so a queued flush hand-off cannot add latency to
	// subscribers; Enqueue never blocks.
	s.dispatcher.Enqueue(tick)

	if err := s.buffer.Append(tick); err != nil {
		s.logger.Warn().Err(err).Str("symbol", tick.Symbol).Msg("tick not buffered")
	}
}

func (s *Service) shutdown() {
	s.logger.Info().
		Int64("consumed", s.consumed).
		Interface("parse_errors", s.parseErrors).
		Msg("stopping consumer")

	if err := s.subscription.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close subscription")
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	if err := s.buffer.Stop(graceCtx); err != nil {
		s.logger.Warn().Err(err).Msg("final flush did not complete within grace period")
	}
	if err := s.dispatcher.Stop(graceCtx); err != nil {
		s.logger.Warn().Err(err).Msg("forward queues did not drain within grace period")
	}
}
