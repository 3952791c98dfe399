package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/store"
)

func strike(snapshotID int64, ts time.Time, expiry, price string, callOI, putOI int64) model.StrikeSnapshot {
	return model.StrikeSnapshot{
		InstrumentID: 1,
		SnapshotID:   snapshotID,
		TradeDate:    model.DateOf(ts, ist),
		CapturedAt:   ts,
		Expiry:       expiry,
		Strike:       decimal.RequireFromString(price),
		CallOI:       callOI,
		PutOI:        putOI,
	}
}

func strikeRows() []model.StrikeSnapshot {
	const exp = "25-Apr-2024"
	late := strike(3, at(9, 25), exp, "22200", 10, 5)
	late.CallOIChange, late.PutOIChange = 4, 2
	return []model.StrikeSnapshot{
		strike(9, at(9, 10), "18-Apr-2024", "22000", 1, 1),
		strike(1, at(9, 15), exp, "22000", 100, 200),
		strike(1, at(9, 15), exp, "22100", 50, 60),
		strike(2, at(9, 20), exp, "22000", 120, 190),
		strike(2, at(9, 20), exp, "22100", 80, 60),
		strike(3, at(9, 25), exp, "22000", 130, 180),
		strike(3, at(9, 25), exp, "22100", 90, 70),
		late,
	}
}

func TestCompareStrikes(t *testing.T) {
	type change struct {
		call, put int64
		upstream  bool
	}
	tests := []struct {
		name         string
		target       time.Time
		wantBaseline time.Time
		want         []change
	}{
		{
			name:         "closest set before target",
			target:       at(9, 21),
			wantBaseline: at(9, 20),
			want:         []change{{10, -10, false}, {10, 10, false}, {4, 2, true}},
		},
		{
			name:         "exact match",
			target:       at(9, 20),
			wantBaseline: at(9, 20),
			want:         []change{{10, -10, false}, {10, 10, false}, {4, 2, true}},
		},
		{
			name:         "before any set of the expiry",
			target:       at(9, 12),
			wantBaseline: at(9, 15),
			want:         []change{{30, -20, false}, {40, 10, false}, {4, 2, true}},
		},
		{
			name:         "target after latest",
			target:       at(9, 40),
			wantBaseline: at(9, 25),
			want:         []change{{0, 0, false}, {0, 0, false}, {0, 0, false}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CompareStrikes(strikeRows(), tt.target)
			if !ok {
				t.Fatal("CompareStrikes() ok = false")
			}
			if got.Expiry != "25-Apr-2024" {
				t.Errorf("Expiry = %q, want 25-Apr-2024", got.Expiry)
			}
			if !got.BaselineAt.Equal(tt.wantBaseline) {
				t.Errorf("BaselineAt = %v, want %v", got.BaselineAt, tt.wantBaseline)
			}
			if len(got.Strikes) != len(tt.want) {
				t.Fatalf("len(Strikes) = %d, want %d", len(got.Strikes), len(tt.want))
			}
			for i, w := range tt.want {
				s := got.Strikes[i]
				if s.CallOIChange != w.call || s.PutOIChange != w.put || s.Upstream != w.upstream {
					t.Errorf("strike %s = (%d, %d, %v), want (%d, %d, %v)",
						s.Strike, s.CallOIChange, s.PutOIChange, s.Upstream, w.call, w.put, w.upstream)
				}
			}
		})
	}

	if _, ok := CompareStrikes(nil, at(9, 0)); ok {
		t.Error("CompareStrikes(nil) ok = true, want false")
	}
}

func TestSummarizeInstrument(t *testing.T) {
	t.Run("trending", func(t *testing.T) {
		var records []model.Snapshot
		for i := 0; i <= 15; i++ {
			s := snap(int64(i+1), at(9, i), decimal.NewFromInt(int64(100+i)).String(), int64(1000+10*i), 500)
			records = append(records, s)
		}
		last := &records[len(records)-1]
		last.ChangeInCallOI = 10
		last.Classification = model.LongBuildup

		row, ok := SummarizeInstrument(records)
		if !ok {
			t.Fatal("SummarizeInstrument() ok = false")
		}
		for _, it := range row.Intervals {
			if it.Trend != string(model.LongBuildup) {
				t.Errorf("%dm trend = %q, want %q", it.Minutes, it.Trend, model.LongBuildup)
			}
		}
		// 10 / (1150 - 10) * 100
		if want := decimal.RequireFromString("0.88"); !row.PctCallOIChange.Equal(want) {
			t.Errorf("PctCallOIChange = %s, want %s", row.PctCallOIChange, want)
		}
	})

	t.Run("sparse and flat", func(t *testing.T) {
		records := []model.Snapshot{
			snap(1, at(9, 8), "100", 1000, 500),
			snap(2, at(9, 15), "100", 1200, 500),
		}
		row, _ := SummarizeInstrument(records)
		want := map[int]string{3: TrendNotAvailable, 5: TrendNeutral, 15: TrendNotAvailable}
		for _, it := range row.Intervals {
			if it.Trend != want[it.Minutes] {
				t.Errorf("%dm trend = %q, want %q", it.Minutes, it.Trend, want[it.Minutes])
			}
		}
	})

	if _, ok := SummarizeInstrument(nil); ok {
		t.Error("SummarizeInstrument(nil) ok = true, want false")
	}
}

func TestPctChange(t *testing.T) {
	tests := []struct {
		oi, change int64
		want       string
	}{
		{1100, 100, "10"},
		{900, -100, "-10"},
		{400, 100, "33.33"},
		{100, 100, "0"},
		{0, 0, "0"},
	}
	for _, tt := range tests {
		got := pctChange(tt.oi, tt.change)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("pctChange(%d, %d) = %s, want %s", tt.oi, tt.change, got, tt.want)
		}
	}
}

func TestGroupSummary(t *testing.T) {
	row := func(sym string, c model.Classification, pct string) SummaryRow {
		return SummaryRow{Symbol: sym, Classification: c, PctCallOIChange: decimal.RequireFromString(pct)}
	}
	s := GroupSummary([]SummaryRow{
		row("A", model.LongBuildup, "5"),
		row("B", model.LongBuildup, "-20"),
		row("C", model.LongBuildup, "10"),
		row("D", model.ShortCovering, "1"),
		row("E", model.Unclassified, "0"),
	})

	if len(s.Groups) != len(model.Classifications) {
		t.Fatalf("len(Groups) = %d, want %d", len(s.Groups), len(model.Classifications))
	}
	for i, g := range s.Groups {
		if g.Label != model.Classifications[i] {
			t.Errorf("Groups[%d].Label = %q, want %q", i, g.Label, model.Classifications[i])
		}
	}
	var order []string
	for _, r := range s.Groups[0].Rows {
		order = append(order, r.Symbol)
	}
	if len(order) != 3 || order[0] != "B" || order[1] != "C" || order[2] != "A" {
		t.Errorf("Long Buildup order = %v, want [B C A]", order)
	}
	if len(s.Other) != 1 || s.Other[0].Symbol != "E" {
		t.Errorf("Other = %+v, want [E]", s.Other)
	}
}

// seed writes snapshots and their strike rows for symbol.
func seed(t *testing.T, st *store.Memory, symbol string, snaps []model.Snapshot, strikes map[int][]model.StrikeSnapshot) {
	t.Helper()
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		in, err := tx.ResolveInstrument(context.Background(), symbol)
		if err != nil {
			return err
		}
		for i := range snaps {
			s := snaps[i]
			s.ID = 0
			s.InstrumentID = in.ID
			s.Symbol = symbol
			if err := tx.InsertSnapshot(context.Background(), &s); err != nil {
				return err
			}
			var rows []model.StrikeSnapshot
			for _, r := range strikes[i] {
				r.InstrumentID = in.ID
				r.SnapshotID = s.ID
				rows = append(rows, r)
			}
			if err := tx.InsertStrikes(context.Background(), rows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newTestAggregator(t *testing.T, now time.Time) (*Aggregator, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return New(st, ist, WithClock(func() time.Time { return now })), st
}

func TestAggregator(t *testing.T) {
	ctx := context.Background()
	agg, st := newTestAggregator(t, at(9, 26))

	const exp = "25-Apr-2024"
	seed(t, st, "NIFTY", []model.Snapshot{
		snap(0, at(9, 15), "100", 100, 200),
		snap(0, at(9, 20), "101", 150, 260),
		snap(0, at(9, 25), "102", 170, 250),
	}, map[int][]model.StrikeSnapshot{
		0: {strike(0, at(9, 15), exp, "22000", 100, 200)},
		2: {strike(0, at(9, 25), exp, "22000", 130, 150)},
	})
	seed(t, st, "BANKNIFTY", nil, nil)

	t.Run("rolling delta", func(t *testing.T) {
		got, err := agg.RollingDelta(ctx, "nifty", 10)
		if err != nil {
			t.Fatalf("RollingDelta() error = %v", err)
		}
		if want := (OIDelta{CallOI: 20, PutOI: -10}); got != want {
			t.Errorf("RollingDelta() = %+v, want %+v", got, want)
		}
	})

	t.Run("resample", func(t *testing.T) {
		got, err := agg.Resample(ctx, "NIFTY", 5)
		if err != nil {
			t.Fatalf("Resample() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("len(Resample()) = %d, want 3", len(got))
		}
	})

	t.Run("day change", func(t *testing.T) {
		got, err := agg.DayChange(ctx, "NIFTY")
		if err != nil {
			t.Fatalf("DayChange() error = %v", err)
		}
		if len(got) != 3 || got[2].CallOIChange != 70 || got[2].PutOIChange != 50 {
			t.Errorf("DayChange() = %+v", got)
		}
	})

	t.Run("strike changes since open", func(t *testing.T) {
		got, err := agg.StrikeChanges(ctx, "NIFTY", 0)
		if err != nil {
			t.Fatalf("StrikeChanges() error = %v", err)
		}
		if len(got.Strikes) != 1 || got.Strikes[0].CallOIChange != 30 || got.Strikes[0].PutOIChange != -50 {
			t.Errorf("StrikeChanges() = %+v", got)
		}
	})

	t.Run("no strikes", func(t *testing.T) {
		_, err := agg.StrikeChanges(ctx, "BANKNIFTY", 5)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("StrikeChanges() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := agg.RollingDelta(ctx, "NOPE", 5)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("RollingDelta() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		if _, err := agg.RollingDelta(ctx, "NIFTY", -1); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("RollingDelta(-1) error = %v, want ErrInvalidArgument", err)
		}
		if _, err := agg.Resample(ctx, "NIFTY", 0); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Resample(0) error = %v, want ErrInvalidArgument", err)
		}
		if _, err := agg.StrikeChanges(ctx, "NIFTY", -5); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("StrikeChanges(-5) error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("summary", func(t *testing.T) {
		got, err := agg.Summary(ctx)
		if err != nil {
			t.Fatalf("Summary() error = %v", err)
		}
		if len(got.Groups) != 4 {
			t.Fatalf("len(Groups) = %d, want 4", len(got.Groups))
		}
		if len(got.Other) != 1 || got.Other[0].Symbol != "NIFTY" {
			t.Errorf("Other = %+v, want NIFTY only", got.Other)
		}
	})
}

func TestAggregatorRollingDeltaAcrossMidnight(t *testing.T) {
	now := time.Date(2024, 4, 19, 0, 5, 0, 0, ist)
	agg, st := newTestAggregator(t, now)
	seed(t, st, "NIFTY", []model.Snapshot{
		snap(0, time.Date(2024, 4, 18, 23, 50, 0, 0, ist), "1", 10, 10),
		snap(0, time.Date(2024, 4, 18, 23, 55, 0, 0, ist), "1", 20, 30),
		snap(0, time.Date(2024, 4, 19, 0, 4, 0, 0, ist), "1", 50, 40),
	}, nil)

	got, err := agg.RollingDelta(context.Background(), "NIFTY", 15)
	if err != nil {
		t.Fatalf("RollingDelta() error = %v", err)
	}
	if want := (OIDelta{CallOI: 40, PutOI: 30}); got != want {
		t.Errorf("RollingDelta() = %+v, want %+v", got, want)
	}
}

// countingReader counts snapshot queries against the wrapped store.
type countingReader struct {
	*store.Memory
	queries int
}

func (c *countingReader) SnapshotsForDay(ctx context.Context, id int64, day time.Time) ([]model.Snapshot, error) {
	c.queries++
	return c.Memory.SnapshotsForDay(ctx, id, day)
}

func (c *countingReader) SnapshotsSince(ctx context.Context, id int64, since time.Time) ([]model.Snapshot, error) {
	c.queries++
	return c.Memory.SnapshotsSince(ctx, id, since)
}

func TestAggregatorRollingDeltaWindowBounds(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "NIFTY", []model.Snapshot{
		snap(0, at(9, 15), "100", 100, 200),
		snap(0, at(9, 20), "101", 150, 260),
		snap(0, at(9, 25), "102", 170, 250),
	}, nil)
	reader := &countingReader{Memory: st}
	agg := New(reader, ist, WithClock(func() time.Time { return at(9, 26) }))
	ctx := context.Background()

	got, err := agg.RollingDelta(ctx, "NIFTY", MaxWindowMinutes)
	if err != nil {
		t.Fatalf("RollingDelta() error = %v", err)
	}
	if want := (OIDelta{CallOI: 70, PutOI: 50}); got != want {
		t.Errorf("RollingDelta() = %+v, want %+v", got, want)
	}
	if reader.queries != 1 {
		t.Errorf("snapshot queries = %d, want 1", reader.queries)
	}

	for _, minutes := range []int{MaxWindowMinutes + 1, 200_000_000} {
		if _, err := agg.RollingDelta(ctx, "NIFTY", minutes); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("RollingDelta(%d) error = %v, want ErrInvalidArgument", minutes, err)
		}
	}
	if _, err := agg.Resample(ctx, "NIFTY", MaxWindowMinutes+1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Resample() error = %v, want ErrInvalidArgument", err)
	}
	if _, err := agg.StrikeChanges(ctx, "NIFTY", MaxWindowMinutes+1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("StrikeChanges() error = %v, want ErrInvalidArgument", err)
	}
}
