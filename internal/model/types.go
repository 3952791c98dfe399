package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Relational Types
// -----------------------------------------------------------------------------

// Instrument is an underlying whose option chain is sampled (e.g., "NIFTY").
// Created lazily on first successful ingestion, never mutated afterwards.
type Instrument struct {
	ID        int64     // Surrogate key; list order for the rotation
	Symbol    string    // Unique upstream symbol
	CreatedAt time.Time // First ingestion
}

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// Snapshot is one sampling event for an instrument, with changes computed
// against the instrument's previous snapshot (by ID, not by time).
type Snapshot struct {
	ID           int64     // Monotonic surrogate key
	InstrumentID int64     // Foreign key to Instrument
	Symbol       string    // Denormalized for readers
	TradeDate    time.Time // Market-local date (midnight)
	CapturedAt   time.Time // Wall-clock capture time

	LTP         decimal.Decimal // Underlying last traded price
	ChangeInLTP decimal.Decimal

	CallOI         int64 // Nearest-expiry aggregate call open interest
	ChangeInCallOI int64
	PutOI          int64 // Nearest-expiry aggregate put open interest
	ChangeInPutOI  int64
	Volume         int64 // Call + put traded volume
	ChangeInVolume int64

	Classification Classification
	MaxPain        decimal.NullDecimal // Absent when the strike table was unusable
}

// TimeOfDay renders the capture time as HH:MM in its own location.
func (s Snapshot) TimeOfDay() string {
	return s.CapturedAt.Format("15:04")
}

// StrikeSnapshot is one strike of the nearest expiry at one sampling event.
type StrikeSnapshot struct {
	ID           int64
	InstrumentID int64
	SnapshotID   int64 // Parent Snapshot written in the same transaction
	TradeDate    time.Time
	CapturedAt   time.Time
	Expiry       string // Upstream expiry label (e.g., "26-Dec-2024")
	Strike       decimal.Decimal

	CallOI       int64
	CallOIChange int64 // Upstream-reported change for the session
	CallVolume   int64
	PutOI        int64
	PutOIChange  int64
	PutVolume    int64
}

// DateOf returns midnight of t's calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
