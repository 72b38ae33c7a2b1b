package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single observed price point. Ticks are immutable once parsed;
// downstream stages copy them into batches or forward them, never mutate.
type Tick struct {
	Timestamp time.Time
	Symbol    string
	Exchange  string
	Price     decimal.Decimal
}

// FlushOutcome classifies the result of one persistence flush attempt.
type FlushOutcome string

const (
	FlushSuccess FlushOutcome = "success"
	FlushFailure FlushOutcome = "failure"
)

// FlushEvent is the telemetry record for one flush attempt. It is created
// once per attempt and written once; it is never mutated afterwards.
type FlushEvent struct {
	BatchSize int
	StartedAt time.Time
	Duration  time.Duration
	Outcome   FlushOutcome
	Attempts  int
	// Reason carries the terminal failure description when Outcome is
	// FlushFailure.
	Reason string
}
