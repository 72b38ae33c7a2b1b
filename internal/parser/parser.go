// Package parser turns raw tick source payloads into model.Tick values.
//
// The wire contract with the source is a colon-delimited pair SYMBOL:PRICE,
// optionally followed by a third field carrying the observation time as
// unix seconds. Anything else is rejected with a typed error; a rejected
// message never stops consumption of the ones after it.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tickflow/internal/model"
)

// MaxSymbolLen bounds the accepted symbol length in bytes.
const MaxSymbolLen = 16

// Kind classifies parse failures.
type Kind string

const (
	KindUnknownChannel Kind = "unknown_channel"
	KindInvalidSymbol  Kind = "invalid_symbol"
	KindInvalidPrice   Kind = "invalid_price"
)

// Error is a structured parse failure.
type Error struct {
	Kind    Kind
	Channel string
	Detail  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse tick (%s): %s", e.Kind, e.Detail)
}

// Parser maps raw payloads and channel identity to ticks. It holds no
// mutable state and is safe for concurrent use.
type Parser struct {
	channelExchanges map[string]string
	now              func() time.Time
}

// Option customises Parser construction.
type Option func(*Parser)

// WithClock overrides the receipt-time clock.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New builds a Parser from a channel→exchange mapping.
func New(channelExchanges map[string]string, opts ...Option) *Parser {
	mapping := make(map[string]string, len(channelExchanges))
	for channel, exchange := range channelExchanges {
		mapping[channel] = exchange
	}
	p := &Parser{
		channelExchanges: mapping,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts one raw payload received on channel into a Tick.
// It is pure apart from stamping receipt time when the payload carries none.
func (p *Parser) Parse(raw, channel string) (model.Tick, error) {
	exchange, ok := p.channelExchanges[channel]
	if !ok {
		return model.Tick{}, &Error{Kind: KindUnknownChannel, Channel: channel, Detail: fmt.Sprintf("no exchange mapped for channel %q", channel)}
	}

	fields := strings.Split(raw, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return model.Tick{}, &Error{Kind: KindInvalidPrice, Channel: channel, Detail: fmt.Sprintf("expected SYMBOL:PRICE, got %d fields", len(fields))}
	}

	symbol := fields[0]
	if symbol == "" {
		return model.Tick{}, &Error{Kind: KindInvalidSymbol, Channel: channel, Detail: "empty symbol"}
	}
	if len(symbol) > MaxSymbolLen {
		return model.Tick{}, &Error{Kind: KindInvalidSymbol, Channel: channel, Detail: fmt.Sprintf("symbol exceeds %d bytes", MaxSymbolLen)}
	}
	if strings.ContainsAny(symbol, " \t\r\n") {
		return model.Tick{}, &Error{Kind: KindInvalidSymbol, Channel: channel, Detail: "symbol contains whitespace"}
	}

	price, err := decimal.NewFromString(fields[1])
	if err != nil {
		return model.Tick{}, &Error{Kind: KindInvalidPrice, Channel: channel, Detail: fmt.Sprintf("malformed price %q", fields[1])}
	}
	if price.IsNegative() {
		return model.Tick{}, &Error{Kind: KindInvalidPrice, Channel: channel, Detail: "negative price"}
	}

	ts := p.now()
	if len(fields) == 3 {
		unix, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || unix < 0 {
			return model.Tick{}, &Error{Kind: KindInvalidPrice, Channel: channel, Detail: fmt.Sprintf("malformed timestamp %q", fields[2])}
		}
		sec := int64(unix)
		nsec := int64((unix - float64(sec)) * float64(time.Second))
		ts = time.Unix(sec, nsec).UTC()
	}

	return model.Tick{
		Timestamp: ts,
		Symbol:    symbol,
		Exchange:  exchange,
		Price:     price,
	}, nil
}
