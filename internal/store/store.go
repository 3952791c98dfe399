// Package store persists instruments, snapshots and strike snapshots.
//
// Writes happen inside WithTx so a snapshot and its strike rows become
// visible together. Postgres is the production implementation; Memory has
// the same contract and backs tests and dry runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Tx is the write side of a single scoped transaction.
type Tx interface {
	// ResolveInstrument returns the instrument for symbol, creating it if needed.
	ResolveInstrument(ctx context.Context, symbol string) (model.Instrument, error)
	// LockInstrument serializes snapshot creation for one instrument until commit.
	LockInstrument(ctx context.Context, instrumentID int64) error
	// LastSnapshot returns the snapshot with the highest ID, if any.
	LastSnapshot(ctx context.Context, instrumentID int64) (model.Snapshot, bool, error)
	// InsertSnapshot stores s and sets s.ID.
	InsertSnapshot(ctx context.Context, s *model.Snapshot) error
	// InsertStrikes stores strike rows for an already inserted snapshot.
	InsertStrikes(ctx context.Context, rows []model.StrikeSnapshot) error
}

// Reader is the read side used by the scheduler, aggregator and API.
type Reader interface {
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
	CountInstruments(ctx context.Context) (int, error)
	// InstrumentRange returns up to limit instruments in ID order starting at offset.
	InstrumentRange(ctx context.Context, offset, limit int) ([]model.Instrument, error)
	InstrumentBySymbol(ctx context.Context, symbol string) (model.Instrument, error)
	// SnapshotsForDay returns the day's snapshots in ID order.
	SnapshotsForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.Snapshot, error)
	// SnapshotsSince returns snapshots captured at or after since, in ID order.
	SnapshotsSince(ctx context.Context, instrumentID int64, since time.Time) ([]model.Snapshot, error)
	// StrikesForDay returns the day's strike rows ordered by capture time then strike.
	StrikesForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.StrikeSnapshot, error)
}

// Store is the full storage contract.
type Store interface {
	Reader
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back on error or panic.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// PruneBefore deletes snapshots and strike rows with a trade date before
	// day and returns the number of snapshots removed.
	PruneBefore(ctx context.Context, day time.Time) (int64, error)
	Ping(ctx context.Context) error
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
