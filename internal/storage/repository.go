package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tickflow/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertTickSQL = `INSERT INTO stock_prices (
        timestamp,
        stock_name,
        exchange,
        price
    ) VALUES (
        $1,$2,$3,$4
    );`

	insertTelemetrySQL = `INSERT INTO telemetry (
        timestamp,
        service,
        event,
        metric,
        value,
        unit
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	listRecentTicksSQL = `SELECT
        timestamp,
        stock_name,
        exchange,
        price::text
    FROM stock_prices
    ORDER BY timestamp DESC
    LIMIT $1;`

	countTicksSQL = `SELECT COUNT(*) FROM stock_prices;`
)

// TickStore defines persistence operations for the ingestion path.
type TickStore interface {
	InsertTicks(ctx context.Context, ticks []model.Tick) error
}

// TelemetryStore defines the append-only telemetry sink.
type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, rows []TelemetryRow) error
}

// PriceReader defines the historical query operations.
type PriceReader interface {
	ListPrices(ctx context.Context, symbol string, from, to *time.Time) ([]PricePoint, error)
	AveragePrice(ctx context.Context, symbol string, from, to *time.Time) (decimal.Decimal, bool, error)
}

// Store aggregates access to tick and telemetry persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertTicks writes all ticks in one transaction. Either every row is
// durably recorded or the call fails as a whole.
func (s *Store) InsertTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tick insert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tick := range ticks {
		batch.Queue(insertTickSQL, tick.Timestamp, tick.Symbol, tick.Exchange, tick.Price.String())
	}

	results := tx.SendBatch(ctx, batch)
	for range ticks {
		if _, execErr := results.Exec(); execErr != nil {
			_ = results.Close()
			return fmt.Errorf("insert tick batch: %w", execErr)
		}
	}
	if closeErr := results.Close(); closeErr != nil {
		return fmt.Errorf("close tick batch: %w", closeErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("commit tick batch: %w", commitErr)
	}
	return nil
}

// InsertTelemetry appends telemetry rows. Rows are never updated in place so
// replaying an emission cannot corrupt downstream aggregates.
func (s *Store) InsertTelemetry(ctx context.Context, rows []TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertTelemetrySQL, row.Timestamp, row.Service, row.Event, row.Metric, row.Value, row.Unit)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert telemetry: %w", execErr)
		}
	}
	return nil
}

// ListPrices lists price points for a symbol ordered by timestamp ascending.
// Both bounds are inclusive when present.
func (s *Store) ListPrices(ctx context.Context, symbol string, from, to *time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := pricesQuery("SELECT timestamp, price::text FROM stock_prices", symbol, from, to)
	query += " ORDER BY timestamp ASC"

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list prices: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var (
			ts       time.Time
			priceStr string
		)
		if scanErr := rows.Scan(&ts, &priceStr); scanErr != nil {
			return nil, scanErr
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		points = append(points, PricePoint{Timestamp: ts, Price: price})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// AveragePrice computes the arithmetic mean price over the same filter as
// ListPrices. The second return is false when no rows match.
func (s *Store) AveragePrice(ctx context.Context, symbol string, from, to *time.Time) (decimal.Decimal, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	query, args := pricesQuery("SELECT AVG(price)::text FROM stock_prices", symbol, from, to)

	var avgStr *string
	if scanErr := pool.QueryRow(ctx, query, args...).Scan(&avgStr); scanErr != nil {
		return decimal.Decimal{}, false, fmt.Errorf("average price: %w", scanErr)
	}
	if avgStr == nil {
		return decimal.Decimal{}, false, nil
	}

	avg, convErr := decimal.NewFromString(*avgStr)
	if convErr != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse average price: %w", convErr)
	}
	return avg, true, nil
}

// ListRecentTicks lists the most recent ticks, newest first.
func (s *Store) ListRecentTicks(ctx context.Context, limit int) ([]TickRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTicksSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent ticks: %w", queryErr)
	}
	defer rows.Close()

	ticks := make([]TickRow, 0, limit)
	for rows.Next() {
		var (
			row      TickRow
			priceStr string
		)
		if scanErr := rows.Scan(&row.Timestamp, &row.Symbol, &row.Exchange, &priceStr); scanErr != nil {
			return nil, scanErr
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		row.Price = price
		ticks = append(ticks, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ticks, nil
}

// CountTicks counts stored ticks.
func (s *Store) CountTicks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countTicksSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count ticks: %w", scanErr)
	}
	return count, nil
}

func pricesQuery(base, symbol string, from, to *time.Time) (string, []interface{}) {
	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString(" WHERE stock_name = $1")
	args := []interface{}{symbol}

	if from != nil {
		args = append(args, *from)
		builder.WriteString(fmt.Sprintf(" AND timestamp >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		builder.WriteString(fmt.Sprintf(" AND timestamp <= $%d", len(args)))
	}

	return builder.String(), args
}
