// Package api serves the historical price query API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tickflow/internal/config"
	"tickflow/internal/storage"
)

// Pinger verifies backing-store connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes persisted tick history over HTTP.
type Server struct {
	cfg    config.APIConfig
	reader storage.PriceReader
	pinger Pinger
	logger zerolog.Logger
	http   *http.Server
}

// NewServer constructs the query API server.
func NewServer(cfg config.APIConfig, reader storage.PriceReader, pinger Pinger, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		reader: reader,
		pinger: pinger,
		logger: logger.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/api/prices/:stock_name", s.prices)
	router.GET("/api/average/:stock_name", s.average)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("query api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

type pricePointResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

func (s *Server) health(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// prices returns all rows for a symbol within the requested range, ordered
// by timestamp ascending. Both bounds are inclusive.
func (s *Server) prices(c *gin.Context) {
	symbol := c.Param("stock_name")
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points, err := s.reader.ListPrices(c.Request.Context(), symbol, from, to)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("list prices failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	response := make([]pricePointResponse, 0, len(points))
	for _, point := range points {
		response = append(response, pricePointResponse{
			Timestamp: point.Timestamp,
			Price:     point.Price.InexactFloat64(),
		})
	}
	c.JSON(http.StatusOK, response)
}

// average returns the arithmetic mean price over the same filter as prices,
// or an explicit null when no rows match.
func (s *Server) average(c *gin.Context) {
	symbol := c.Param("stock_name")
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	avg, ok, err := s.reader.AveragePrice(c.Request.Context(), symbol, from, to)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("average price failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"average_price": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"average_price": avg.InexactFloat64()})
}

func timeRange(c *gin.Context) (*time.Time, *time.Time, error) {
	from, err := parseTimeParam(c, "start_time")
	if err != nil {
		return nil, nil, err
	}
	to, err := parseTimeParam(c, "end_time")
	if err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, errors.New("start_time must not be after end_time")
	}
	return from, to, nil
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: must be RFC3339", name)
	}
	return &parsed, nil
}
