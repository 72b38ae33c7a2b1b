package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one persisted price observation returned by range queries.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// TickRow is a fully qualified persisted tick.
type TickRow struct {
	Timestamp time.Time
	Symbol    string
	Exchange  string
	Price     decimal.Decimal
}

// TelemetryRow is one append-only telemetry record.
type TelemetryRow struct {
	Timestamp time.Time
	Service   string
	Event     string
	Metric    string
	Value     float64
	Unit      string
}
