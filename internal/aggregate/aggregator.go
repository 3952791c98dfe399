package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/store"
)

// ErrInvalidArgument is returned for windows and buckets out of range.
var ErrInvalidArgument = errors.New("invalid argument")

// MaxWindowMinutes bounds every minutes argument: rolling windows, buckets
// and strike lookbacks.
const MaxWindowMinutes = 7 * 24 * 60

func checkMinutes(name string, v, lo int) error {
	if v < lo || v > MaxWindowMinutes {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidArgument, name, lo, MaxWindowMinutes, v)
	}
	return nil
}

// Aggregator answers time-series queries from durable storage. It never
// reads the snapshot cache.
type Aggregator struct {
	reader store.Reader
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Aggregator. Trading days are computed in loc.
func New(reader store.Reader, loc *time.Location, opts ...Option) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	a := &Aggregator{
		reader: reader,
		loc:    loc,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshots returns an instrument's snapshots for day in ID order.
func (a *Aggregator) Snapshots(ctx context.Context, symbol string, day time.Time) ([]model.Snapshot, error) {
	in, err := a.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return a.reader.SnapshotsForDay(ctx, in.ID, model.DateOf(day, a.loc))
}

// RollingDelta returns the OI change over the last minutes.
func (a *Aggregator) RollingDelta(ctx context.Context, symbol string, minutes int) (OIDelta, error) {
	if err := checkMinutes("minutes", minutes, 0); err != nil {
		return OIDelta{}, err
	}
	in, err := a.instrument(ctx, symbol)
	if err != nil {
		return OIDelta{}, err
	}

	now := a.now()
	window := time.Duration(minutes) * time.Minute
	records, err := a.reader.SnapshotsSince(ctx, in.ID, now.Add(-window))
	if err != nil {
		return OIDelta{}, err
	}
	return RollingDelta(records, now, window), nil
}

// Resample returns today's snapshots resampled into bucketMinutes bins.
func (a *Aggregator) Resample(ctx context.Context, symbol string, bucketMinutes int) ([]model.Snapshot, error) {
	if err := checkMinutes("bucket", bucketMinutes, 1); err != nil {
		return nil, err
	}
	records, err := a.today(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return Resample(records, time.Duration(bucketMinutes)*time.Minute, a.loc), nil
}

// StrikeChanges compares today's latest strike set with the set captured
// lookbackMinutes ago. Zero compares with the start of the day.
func (a *Aggregator) StrikeChanges(ctx context.Context, symbol string, lookbackMinutes int) (StrikeComparison, error) {
	if err := checkMinutes("lookback", lookbackMinutes, 0); err != nil {
		return StrikeComparison{}, err
	}
	in, err := a.instrument(ctx, symbol)
	if err != nil {
		return StrikeComparison{}, err
	}

	now := a.now()
	today := model.DateOf(now, a.loc)
	rows, err := a.reader.StrikesForDay(ctx, in.ID, today)
	if err != nil {
		return StrikeComparison{}, err
	}

	target := today
	if lookbackMinutes > 0 {
		target = now.Add(-time.Duration(lookbackMinutes) * time.Minute)
	}
	cmp, ok := CompareStrikes(rows, target)
	if !ok {
		return StrikeComparison{}, store.ErrNotFound
	}
	return cmp, nil
}

// DayChange returns today's snapshots measured against the first of the day.
func (a *Aggregator) DayChange(ctx context.Context, symbol string) ([]DayPoint, error) {
	records, err := a.today(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return DayChange(records), nil
}

// Summary builds the quadrant view over every instrument with data today.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	instruments, err := a.reader.ListInstruments(ctx)
	if err != nil {
		return Summary{}, err
	}
	today := model.DateOf(a.now(), a.loc)

	var rows []SummaryRow
	for _, in := range instruments {
		records, err := a.reader.SnapshotsForDay(ctx, in.ID, today)
		if err != nil {
			return Summary{}, err
		}
		row, ok := SummarizeInstrument(records)
		if !ok {
			continue
		}
		if row.Symbol == "" {
			row.Symbol = in.Symbol
		}
		rows = append(rows, row)
	}
	a.logger.Debug("summary built", "instruments", len(instruments), "rows", len(rows))
	return GroupSummary(rows), nil
}

func (a *Aggregator) today(ctx context.Context, symbol string) ([]model.Snapshot, error) {
	in, err := a.instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return a.reader.SnapshotsForDay(ctx, in.ID, model.DateOf(a.now(), a.loc))
}

func (a *Aggregator) instrument(ctx context.Context, symbol string) (model.Instrument, error) {
	return a.reader.InstrumentBySymbol(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}
