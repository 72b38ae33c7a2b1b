package parser

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testChannels = map[string]string{
	"NASDAQ": "NASDAQ",
	"NYSE":   "NYSE",
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestParseValid(t *testing.T) {
	p := New(testChannels, WithClock(fixedClock()))

	tick, err := p.Parse("AAPL:220.45", "NASDAQ")
	if err != nil {
		t.Fatalf("valid payload should parse: %v", err)
	}
	if tick.Symbol != "AAPL" {
		t.Fatalf("expected symbol AAPL, got %s", tick.Symbol)
	}
	if tick.Exchange != "NASDAQ" {
		t.Fatalf("expected exchange NASDAQ, got %s", tick.Exchange)
	}
	if tick.Price.String() != "220.45" {
		t.Fatalf("expected price 220.45, got %s", tick.Price.String())
	}
	if !tick.Timestamp.Equal(fixedClock()()) {
		t.Fatalf("missing wire timestamp should default to receipt time")
	}
}

func TestParseDeterministic(t *testing.T) {
	p := New(testChannels, WithClock(fixedClock()))

	first, err1 := p.Parse("MSFT:421.50", "NASDAQ")
	second, err2 := p.Parse("MSFT:421.50", "NASDAQ")
	if err1 != nil || err2 != nil {
		t.Fatalf("parse should succeed: %v %v", err1, err2)
	}
	if first.Symbol != second.Symbol || first.Exchange != second.Exchange ||
		!first.Price.Equal(second.Price) || !first.Timestamp.Equal(second.Timestamp) {
		t.Fatalf("parse is not deterministic: %#v vs %#v", first, second)
	}
}

func TestParseWireTimestamp(t *testing.T) {
	p := New(testChannels, WithClock(fixedClock()))

	tick, err := p.Parse("TSLA:700.00:1757494917.5", "NYSE")
	if err != nil {
		t.Fatalf("three-field payload should parse: %v", err)
	}
	want := time.Unix(1757494917, int64(500*time.Millisecond)).UTC()
	if !tick.Timestamp.Equal(want) {
		t.Fatalf("expected wire timestamp %s, got %s", want, tick.Timestamp)
	}
}

func TestParseUnknownChannel(t *testing.T) {
	p := New(testChannels)

	_, err := p.Parse("AAPL:1.00", "LSE")
	assertKind(t, err, KindUnknownChannel)
}

func TestParseInvalidPrice(t *testing.T) {
	p := New(testChannels)

	cases := []string{
		"AAPL:abc",
		"AAPL:",
		"AAPL:-1.50",
		"AAPL",
		"AAPL:1.0:2.0:3.0",
		"AAPL:1.0:notatime",
	}
	for _, raw := range cases {
		_, err := p.Parse(raw, "NASDAQ")
		assertKind(t, err, KindInvalidPrice)
	}
}

func TestParseInvalidSymbol(t *testing.T) {
	p := New(testChannels)

	cases := []string{
		":1.00",
		strings.Repeat("A", MaxSymbolLen+1) + ":1.00",
		"AA PL:1.00",
	}
	for _, raw := range cases {
		_, err := p.Parse(raw, "NASDAQ")
		assertKind(t, err, KindInvalidSymbol)
	}
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var parseErr *Error
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *parser.Error, got %T", err)
	}
	if parseErr.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%s)", kind, parseErr.Kind, parseErr.Detail)
	}
}
