// Package generator publishes synthetic random-walk ticks to the exchange
// channels, for exercising the pipeline end to end.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Publisher sends raw payloads to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Options tune the generator.
type Options struct {
	Interval time.Duration
	// MinMove suppresses ticks whose random step moved the price less
	// than this, thinning out the stream the way a real feed drops
	// insignificant updates.
	MinMove float64
	// MaxStep bounds the absolute per-iteration random step.
	MaxStep float64
}

// Generator walks a set of symbol prices per channel and publishes each
// significant move as a SYMBOL:PRICE:UNIXTS payload.
type Generator struct {
	opts      Options
	publisher Publisher
	logger    zerolog.Logger
	rng       *rand.Rand

	// prices holds channel → symbol → current price.
	prices map[string]map[string]float64
}

// DefaultSymbols seeds the two exchange channels with starting prices.
func DefaultSymbols() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"NASDAQ": {"AMZN": 182.55, "AAPL": 220.00, "MSFT": 421.50},
		"NYSE":   {"TSLA": 700.00, "NFLX": 500.00, "DIS": 145.00},
	}
}

// New constructs a Generator over the given channel price seeds.
func New(opts Options, publisher Publisher, seeds map[string]map[string]float64, logger zerolog.Logger) *Generator {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = 0.5
	}
	if seeds == nil {
		seeds = DefaultSymbols()
	}

	prices := make(map[string]map[string]float64, len(seeds))
	for channel, symbols := range seeds {
		prices[channel] = make(map[string]float64, len(symbols))
		for symbol, price := range symbols {
			prices[channel][symbol] = price
		}
	}

	return &Generator{
		opts:      opts,
		publisher: publisher,
		logger:    logger.With().Str("component", "generator").Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:    prices,
	}
}

// Run publishes ticks until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()

	g.logger.Info().Dur("interval", g.opts.Interval).Msg("tick generator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.step(ctx)
		}
	}
}

func (g *Generator) step(ctx context.Context) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	for channel, symbols := range g.prices {
		for symbol, price := range symbols {
			next := g.nextPrice(price)
			if abs(next-price) < g.opts.MinMove {
				continue
			}
			symbols[symbol] = next

			payload := fmt.Sprintf("%s:%s:%.6f", symbol, decimal.NewFromFloat(next).StringFixed(2), now)
			if err := g.publisher.Publish(ctx, channel, payload); err != nil {
				g.logger.Warn().Err(err).Str("channel", channel).Msg("publish failed")
			}
		}
	}
}

func (g *Generator) nextPrice(current float64) float64 {
	step := (g.rng.Float64()*2 - 1) * g.opts.MaxStep
	next := current + step
	if next < 0 {
		next = 0
	}
	return next
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
