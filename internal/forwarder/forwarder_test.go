package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tickflow/internal/model"
)

func sampleTick() model.Tick {
	return model.Tick{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Symbol:    "AAPL",
		Exchange:  "NASDAQ",
		Price:     decimal.RequireFromString("220.45"),
	}
}

func TestForwardPublishesToExchangeChannel(t *testing.T) {
	var received publishRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode publish body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCentrifugo(Options{APIURL: srv.URL, APIKey: "secret", Timeout: time.Second}, zerolog.Nop())
	if err := c.Forward(context.Background(), sampleTick()); err != nil {
		t.Fatalf("forward should succeed: %v", err)
	}

	if auth != "apikey secret" {
		t.Fatalf("expected apikey authorization header, got %q", auth)
	}
	if received.Method != "publish" {
		t.Fatalf("expected method publish, got %q", received.Method)
	}
	if received.Params.Channel != "NASDAQ" {
		t.Fatalf("tick must publish to its exchange channel, got %q", received.Params.Channel)
	}
	if received.Params.Data.Stock != "AAPL" {
		t.Fatalf("unexpected stock: %q", received.Params.Data.Stock)
	}
	if received.Params.Data.Price != 220.45 {
		t.Fatalf("unexpected price: %v", received.Params.Data.Price)
	}
}

func TestForwardHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCentrifugo(Options{APIURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if err := c.Forward(context.Background(), sampleTick()); err == nil {
		t.Fatal("HTTP 502 should return an error")
	}
}

func TestForwardConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewCentrifugo(Options{APIURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if err := c.Forward(context.Background(), sampleTick()); err == nil {
		t.Fatal("unreachable server should return an error")
	}
}
