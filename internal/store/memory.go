package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/oi-gatherer/internal/model"
)

type memState struct {
	instruments []model.Instrument
	snapshots   []model.Snapshot
	strikes     []model.StrikeSnapshot

	nextInstrumentID int64
	nextSnapshotID   int64
	nextStrikeID     int64
}

func (s *memState) clone() *memState {
	c := *s
	c.instruments = append([]model.Instrument(nil), s.instruments...)
	c.snapshots = append([]model.Snapshot(nil), s.snapshots...)
	c.strikes = append([]model.StrikeSnapshot(nil), s.strikes...)
	return &c
}

// Memory implements Store in process memory. Transactions are serialized;
// each works on a copy of the state that replaces the original on commit.
type Memory struct {
	txMu sync.Mutex // held for the lifetime of a transaction
	mu   sync.RWMutex
	st   *memState
	now  func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: &memState{}, now: time.Now}
}

// SetClock overrides the time source used for instrument creation.
func (m *Memory) SetClock(now func() time.Time) {
	m.now = now
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// WithTx runs fn against a private copy of the state.
func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	work := m.st.clone()
	m.mu.RUnlock()

	if err := fn(&memTx{st: work, now: m.now}); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = work
	m.mu.Unlock()
	return nil
}

func (m *Memory) read() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

func (m *Memory) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return append([]model.Instrument(nil), m.read().instruments...), nil
}

func (m *Memory) CountInstruments(ctx context.Context) (int, error) {
	return len(m.read().instruments), nil
}

func (m *Memory) InstrumentRange(ctx context.Context, offset, limit int) ([]model.Instrument, error) {
	all := m.read().instruments
	if offset >= len(all) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]model.Instrument(nil), all[offset:end]...), nil
}

func (m *Memory) InstrumentBySymbol(ctx context.Context, symbol string) (model.Instrument, error) {
	for _, in := range m.read().instruments {
		if in.Symbol == symbol {
			return in, nil
		}
	}
	return model.Instrument{}, ErrNotFound
}

func (m *Memory) SnapshotsForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.Snapshot, error) {
	key := dateKey(day)
	var out []model.Snapshot
	for _, s := range m.read().snapshots {
		if s.InstrumentID == instrumentID && dateKey(s.TradeDate) == key {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SnapshotsSince(ctx context.Context, instrumentID int64, since time.Time) ([]model.Snapshot, error) {
	var out []model.Snapshot
	for _, s := range m.read().snapshots {
		if s.InstrumentID == instrumentID && !s.CapturedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) StrikesForDay(ctx context.Context, instrumentID int64, day time.Time) ([]model.StrikeSnapshot, error) {
	key := dateKey(day)
	var out []model.StrikeSnapshot
	for _, r := range m.read().strikes {
		if r.InstrumentID == instrumentID && dateKey(r.TradeDate) == key {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		if out[i].SnapshotID != out[j].SnapshotID {
			return out[i].SnapshotID < out[j].SnapshotID
		}
		return out[i].Strike.LessThan(out[j].Strike)
	})
	return out, nil
}

func (m *Memory) PruneBefore(ctx context.Context, day time.Time) (int64, error) {
	key := dateKey(day)
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.st.clone()
	var deleted int64
	snaps := next.snapshots[:0]
	for _, s := range next.snapshots {
		if dateKey(s.TradeDate) < key {
			deleted++
			continue
		}
		snaps = append(snaps, s)
	}
	next.snapshots = snaps

	strikes := next.strikes[:0]
	for _, r := range next.strikes {
		if dateKey(r.TradeDate) >= key {
			strikes = append(strikes, r)
		}
	}
	next.strikes = strikes

	m.st = next
	return deleted, nil
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) ResolveInstrument(ctx context.Context, symbol string) (model.Instrument, error) {
	for _, in := range t.st.instruments {
		if in.Symbol == symbol {
			return in, nil
		}
	}
	t.st.nextInstrumentID++
	in := model.Instrument{ID: t.st.nextInstrumentID, Symbol: symbol, CreatedAt: t.now()}
	t.st.instruments = append(t.st.instruments, in)
	return in, nil
}

func (t *memTx) LockInstrument(context.Context, int64) error { return nil }

func (t *memTx) LastSnapshot(ctx context.Context, instrumentID int64) (model.Snapshot, bool, error) {
	for i := len(t.st.snapshots) - 1; i >= 0; i-- {
		if t.st.snapshots[i].InstrumentID == instrumentID {
			return t.st.snapshots[i], true, nil
		}
	}
	return model.Snapshot{}, false, nil
}

func (t *memTx) InsertSnapshot(ctx context.Context, s *model.Snapshot) error {
	t.st.nextSnapshotID++
	s.ID = t.st.nextSnapshotID
	if s.Symbol == "" {
		for _, in := range t.st.instruments {
			if in.ID == s.InstrumentID {
				s.Symbol = in.Symbol
				break
			}
		}
	}
	t.st.snapshots = append(t.st.snapshots, *s)
	return nil
}

func (t *memTx) InsertStrikes(ctx context.Context, rows []model.StrikeSnapshot) error {
	for _, r := range rows {
		t.st.nextStrikeID++
		r.ID = t.st.nextStrikeID
		t.st.strikes = append(t.st.strikes, r)
	}
	return nil
}
