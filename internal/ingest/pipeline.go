// Package ingest turns a fetched option chain into a persisted snapshot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/api"
	"github.com/rickgao/oi-gatherer/internal/maxpain"
	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/store"
)

// ErrPersistence matches every *PersistenceError.
var ErrPersistence = errors.New("snapshot persistence failed")

// PersistenceError wraps a failed snapshot transaction.
type PersistenceError struct {
	Symbol string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist snapshot %s: %v", e.Symbol, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Publisher receives snapshots after they commit.
type Publisher interface {
	Publish(model.Snapshot)
}

// Pipeline validates, derives and stores snapshots.
type Pipeline struct {
	store     store.Store
	loc       *time.Location
	now       func() time.Time
	publisher Publisher
	logger    *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the capture time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithPublisher sets where committed snapshots are announced.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline writing to st. Trade dates are taken in loc.
func New(st store.Store, loc *time.Location, opts ...Option) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	p := &Pipeline{
		store:  st,
		loc:    loc,
		now:    time.Now,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest validates chain and stores a snapshot for symbol with its
// nearest-expiry strike rows. An invalid chain records nothing.
func (p *Pipeline) Ingest(ctx context.Context, symbol string, chain *api.OptionChain) (*model.Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if chain == nil {
		return nil, &api.PayloadError{Field: "body"}
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}

	unlock := p.lock(symbol)
	defer unlock()

	capturedAt := p.now().In(p.loc)
	snap := model.Snapshot{
		Symbol:     symbol,
		TradeDate:  model.DateOf(capturedAt, p.loc),
		CapturedAt: capturedAt,
		LTP:        chain.LTP(),
		CallOI:     chain.CallOI(),
		PutOI:      chain.PutOI(),
		Volume:     chain.Volume(),
	}

	rows := chain.NearestStrikes()
	if mp, ok := maxpain.Calculate(painTable(rows)); ok {
		snap.MaxPain = decimal.NewNullDecimal(mp)
	}

	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		in, err := tx.ResolveInstrument(ctx, symbol)
		if err != nil {
			return err
		}
		if err := tx.LockInstrument(ctx, in.ID); err != nil {
			return err
		}
		snap.InstrumentID = in.ID

		prev, ok, err := tx.LastSnapshot(ctx, in.ID)
		if err != nil {
			return err
		}
		applyChanges(&snap, prev, ok)

		if err := tx.InsertSnapshot(ctx, &snap); err != nil {
			return err
		}
		return tx.InsertStrikes(ctx, strikeRows(&snap, chain.NearestExpiry(), rows))
	})
	if err != nil {
		return nil, &PersistenceError{Symbol: symbol, Err: err}
	}

	p.logger.Debug("snapshot stored",
		"symbol", symbol,
		"id", snap.ID,
		"ltp", snap.LTP.String(),
		"call_oi_change", snap.ChangeInCallOI,
		"classification", string(snap.Classification),
		"strikes", len(rows),
	)

	if p.publisher != nil {
		p.publisher.Publish(snap)
	}
	return &snap, nil
}

// applyChanges fills the change fields against the previous snapshot.
// Without one every change is zero and the move is unclassified.
func applyChanges(snap *model.Snapshot, prev model.Snapshot, ok bool) {
	snap.ChangeInLTP = decimal.Zero
	if ok {
		snap.ChangeInLTP = snap.LTP.Sub(prev.LTP)
		snap.ChangeInCallOI = snap.CallOI - prev.CallOI
		snap.ChangeInPutOI = snap.PutOI - prev.PutOI
		snap.ChangeInVolume = snap.Volume - prev.Volume
	}
	snap.Classification = model.Classify(snap.ChangeInLTP, snap.ChangeInCallOI)
}

func painTable(rows []api.StrikeRow) []maxpain.Strike {
	table := make([]maxpain.Strike, 0, len(rows))
	for _, r := range rows {
		table = append(table, maxpain.Strike{
			Price:  r.StrikePrice,
			CallOI: r.CallOI(),
			PutOI:  r.PutOI(),
		})
	}
	return table
}

func strikeRows(snap *model.Snapshot, expiry string, rows []api.StrikeRow) []model.StrikeSnapshot {
	out := make([]model.StrikeSnapshot, 0, len(rows))
	for _, r := range rows {
		e := r.ExpiryDate
		if e == "" {
			e = expiry
		}
		out = append(out, model.StrikeSnapshot{
			InstrumentID: snap.InstrumentID,
			SnapshotID:   snap.ID,
			TradeDate:    snap.TradeDate,
			CapturedAt:   snap.CapturedAt,
			Expiry:       e,
			Strike:       r.StrikePrice,
			CallOI:       r.CallOI(),
			CallOIChange: r.CallOIChange(),
			CallVolume:   r.CallVolume(),
			PutOI:        r.PutOI(),
			PutOIChange:  r.PutOIChange(),
			PutVolume:    r.PutVolume(),
		})
	}
	return out
}

// lock serializes ingestion per symbol within the process.
func (p *Pipeline) lock(symbol string) func() {
	p.locksMu.Lock()
	mu, ok := p.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		p.locks[symbol] = mu
	}
	p.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
