package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// Numeric columns travel as text so decimals keep their exact digits.
const snapshotColumns = `
	s.id, s.instrument_id, i.symbol, s.trade_date, s.captured_at,
	s.ltp::text, s.change_in_ltp::text,
	s.call_oi, s.change_in_call_oi, s.put_oi, s.change_in_put_oi,
	s.volume, s.change_in_volume, s.classification, s.max_pain::text`

const strikeColumns = `
	id, instrument_id, snapshot_id, trade_date, captured_at, expiry, strike::text,
	call_oi, call_oi_change, call_volume, put_oi, put_oi_change, put_volume`

// Postgres implements Store on a pgx pool.
type Postgres struct {
	db     *pgxpool.Pool
	loc    *time.Location
	logger *slog.Logger
}

// NewPostgres creates a Postgres store. Dates read back are placed in loc.
func NewPostgres(db *pgxpool.Pool, loc *time.Location, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Postgres{db: db, loc: loc, logger: logger}
}

// Ping checks the pool.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// WithTx runs fn in a transaction.
func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, loc: p.loc})
	})
}

// ListInstruments returns every instrument in ID order.
func (p *Postgres) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := p.db.Query(ctx, `SELECT id, symbol, created_at FROM instruments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	return collectInstruments(rows)
}

// CountInstruments returns the number of instruments.
func (p *Postgres) CountInstruments(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM instruments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instruments: %w", err)
	}
	return n, nil
}

// InstrumentRange returns a window of instruments in ID order.
func (p *Postgres) InstrumentRange(ctx context.Context, offset, limit int) ([]model.Instrument, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, symbol, created_at FROM instruments ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query instrument range: %w", err)
	}
	return collectInstruments(rows)
}

// InstrumentBySymbol looks up one instrument.
func (p *Postgres) InstrumentBySymbol(ctx context.Context, symbol string) (model.Instrument, error) {
	var in model.Instrument
	err := p.db.QueryRow(ctx,
		`SELECT id, symbol, created_at FROM instruments WHERE symbol = $1`, symbol,
	).Scan(&in.ID, &in.Symbol, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Instrument{}, ErrNotFound
	}
	if err != nil {
		return model.Instrument{}, fmt.Errorf("query instrument %s: %w", symbol, err)
	}
	return in, nil
}

// SnapshotsForDay returns one instrument-day of snapshots in ID order.
func (p *Postgres) SnapshotsForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.Snapshot, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots s JOIN instruments i ON i.id = s.instrument_id
		WHERE s.instrument_id = $1 AND s.trade_date = $2::date
		ORDER BY s.id`,
		instrumentID, dateKey(day))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return p.collectSnapshots(rows)
}

// SnapshotsSince returns snapshots captured at or after since in ID order.
func (p *Postgres) SnapshotsSince(ctx context.Context, instrumentID int64, since time.Time) ([]model.Snapshot, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots s JOIN instruments i ON i.id = s.instrument_id
		WHERE s.instrument_id = $1 AND s.captured_at >= $2
		ORDER BY s.id`,
		instrumentID, since)
	if err != nil {
		return nil, fmt.Errorf("query snapshots since: %w", err)
	}
	return p.collectSnapshots(rows)
}

func (p *Postgres) collectSnapshots(rows pgx.Rows) ([]model.Snapshot, error) {
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows, p.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StrikesForDay returns one instrument-day of strike rows.
func (p *Postgres) StrikesForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.StrikeSnapshot, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+strikeColumns+`
		FROM strike_snapshots
		WHERE instrument_id = $1 AND trade_date = $2::date
		ORDER BY captured_at, snapshot_id, strike`,
		instrumentID, dateKey(day))
	if err != nil {
		return nil, fmt.Errorf("query strike snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.StrikeSnapshot
	for rows.Next() {
		var (
			r      model.StrikeSnapshot
			strike string
		)
		if err := rows.Scan(&r.ID, &r.InstrumentID, &r.SnapshotID, &r.TradeDate, &r.CapturedAt,
			&r.Expiry, &strike, &r.CallOI, &r.CallOIChange, &r.CallVolume,
			&r.PutOI, &r.PutOIChange, &r.PutVolume); err != nil {
			return nil, fmt.Errorf("scan strike snapshot: %w", err)
		}
		if r.Strike, err = decimal.NewFromString(strike); err != nil {
			return nil, fmt.Errorf("parse strike %q: %w", strike, err)
		}
		r.TradeDate = inLoc(r.TradeDate, p.loc)
		r.CapturedAt = r.CapturedAt.In(p.loc)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneBefore removes history older than day.
func (p *Postgres) PruneBefore(ctx context.Context, day time.Time) (int64, error) {
	var deleted int64
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM strike_snapshots WHERE trade_date < $1::date`, dateKey(day)); err != nil {
			return fmt.Errorf("delete strike snapshots: %w", err)
		}
		ct, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE trade_date < $1::date`, dateKey(day))
		if err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		deleted = ct.RowsAffected()
		return nil
	})
	return deleted, err
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	tx  pgx.Tx
	loc *time.Location
}

// ResolveInstrument returns the instrument for symbol, inserting it on first
// sight. Existing rows are never rewritten, and the id sequence only moves
// when a row is actually created.
func (t *pgTx) ResolveInstrument(ctx context.Context, symbol string) (model.Instrument, error) {
	in, err := t.instrumentBySymbol(ctx, symbol)
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return in, wrapResolve(symbol, err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO instruments (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO NOTHING
		RETURNING id, symbol, created_at`, symbol,
	).Scan(&in.ID, &in.Symbol, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Another transaction inserted it first.
		in, err = t.instrumentBySymbol(ctx, symbol)
	}
	return in, wrapResolve(symbol, err)
}

func (t *pgTx) instrumentBySymbol(ctx context.Context, symbol string) (model.Instrument, error) {
	var in model.Instrument
	err := t.tx.QueryRow(ctx,
		`SELECT id, symbol, created_at FROM instruments WHERE symbol = $1`, symbol,
	).Scan(&in.ID, &in.Symbol, &in.CreatedAt)
	return in, err
}

func wrapResolve(symbol string, err error) error {
	if err != nil {
		return fmt.Errorf("resolve instrument %s: %w", symbol, err)
	}
	return nil
}

func (t *pgTx) LockInstrument(ctx context.Context, instrumentID int64) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, instrumentID); err != nil {
		return fmt.Errorf("lock instrument %d: %w", instrumentID, err)
	}
	return nil
}

func (t *pgTx) LastSnapshot(ctx context.Context, instrumentID int64) (model.Snapshot, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots s JOIN instruments i ON i.id = s.instrument_id
		WHERE s.instrument_id = $1
		ORDER BY s.id DESC
		LIMIT 1`, instrumentID)
	s, err := scanSnapshot(row, t.loc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	return s, true, nil
}

func (t *pgTx) InsertSnapshot(ctx context.Context, s *model.Snapshot) error {
	var maxPain *string
	if s.MaxPain.Valid {
		v := s.MaxPain.Decimal.String()
		maxPain = &v
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO snapshots (
			instrument_id, trade_date, captured_at, ltp, change_in_ltp,
			call_oi, change_in_call_oi, put_oi, change_in_put_oi,
			volume, change_in_volume, classification, max_pain)
		VALUES ($1, $2::date, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13::numeric)
		RETURNING id`,
		s.InstrumentID, dateKey(s.TradeDate), s.CapturedAt, s.LTP.String(), s.ChangeInLTP.String(),
		s.CallOI, s.ChangeInCallOI, s.PutOI, s.ChangeInPutOI,
		s.Volume, s.ChangeInVolume, string(s.Classification), maxPain,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// InsertStrikes queues one insert per strike in a single batch.
func (t *pgTx) InsertStrikes(ctx context.Context, rows []model.StrikeSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO strike_snapshots (
				instrument_id, snapshot_id, trade_date, captured_at, expiry, strike,
				call_oi, call_oi_change, call_volume, put_oi, put_oi_change, put_volume)
			VALUES ($1, $2, $3::date, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		`, r.InstrumentID, r.SnapshotID, dateKey(r.TradeDate), r.CapturedAt, r.Expiry, r.Strike.String(),
			r.CallOI, r.CallOIChange, r.CallVolume, r.PutOI, r.PutOIChange, r.PutVolume)
	}

	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert strike snapshot: %w", err)
		}
	}
	return nil
}

func collectInstruments(rows pgx.Rows) ([]model.Instrument, error) {
	defer rows.Close()
	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		if err := rows.Scan(&in.ID, &in.Symbol, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row, loc *time.Location) (model.Snapshot, error) {
	var (
		s                model.Snapshot
		ltp, changeInLTP string
		classification   string
		maxPain          *string
	)
	err := row.Scan(&s.ID, &s.InstrumentID, &s.Symbol, &s.TradeDate, &s.CapturedAt,
		&ltp, &changeInLTP,
		&s.CallOI, &s.ChangeInCallOI, &s.PutOI, &s.ChangeInPutOI,
		&s.Volume, &s.ChangeInVolume, &classification, &maxPain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scan snapshot: %w", err)
	}

	if s.LTP, err = decimal.NewFromString(ltp); err != nil {
		return s, fmt.Errorf("parse ltp %q: %w", ltp, err)
	}
	if s.ChangeInLTP, err = decimal.NewFromString(changeInLTP); err != nil {
		return s, fmt.Errorf("parse change_in_ltp %q: %w", changeInLTP, err)
	}
	if maxPain != nil {
		d, err := decimal.NewFromString(*maxPain)
		if err != nil {
			return s, fmt.Errorf("parse max_pain %q: %w", *maxPain, err)
		}
		s.MaxPain = decimal.NewNullDecimal(d)
	}
	s.Classification = model.Classification(classification)
	s.TradeDate = inLoc(s.TradeDate, loc)
	s.CapturedAt = s.CapturedAt.In(loc)
	return s, nil
}

// inLoc reinterprets a DATE value (UTC midnight) as midnight in loc.
func inLoc(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}
