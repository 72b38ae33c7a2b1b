// Package forwarder pushes ticks to the real-time fan-out transport.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tickflow/internal/model"
)

// Options parameterise the Centrifugo forwarder.
type Options struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

// Centrifugo publishes ticks to the Centrifugo HTTP API, one real-time
// channel per exchange. Delivery is attempted immediately, independent of
// the persistence path.
type Centrifugo struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// NewCentrifugo constructs a Centrifugo forwarder.
func NewCentrifugo(opts Options, logger zerolog.Logger) *Centrifugo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Centrifugo{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "forwarder").Logger(),
	}
}

type publishRequest struct {
	Method string        `json:"method"`
	Params publishParams `json:"params"`
}

type publishParams struct {
	Channel string      `json:"channel"`
	Data    tickPayload `json:"data"`
}

type tickPayload struct {
	Stock     string  `json:"stock"`
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp"`
}

// Forward publishes one tick to the channel named after its exchange.
func (c *Centrifugo) Forward(ctx context.Context, tick model.Tick) error {
	payload := publishRequest{
		Method: "publish",
		Params: publishParams{
			Channel: tick.Exchange,
			Data: tickPayload{
				Stock:     tick.Symbol,
				Price:     tick.Price.InexactFloat64(),
				Timestamp: float64(tick.Timestamp.UnixNano()) / float64(time.Second),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.opts.APIKey); key != "" {
		req.Header.Set("Authorization", "apikey "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to centrifugo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("centrifugo responded with status %d", resp.StatusCode)
	}

	c.logger.Debug().
		Str("channel", tick.Exchange).
		Str("symbol", tick.Symbol).
		Msg("tick forwarded")
	return nil
}
