// Package aggregate derives time-series views from stored snapshots.
//
// The functions in this file are pure and operate on snapshots already
// loaded in ID order. Aggregator wraps them with storage lookups.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// OIDelta is a call/put open interest change over a window.
type OIDelta struct {
	CallOI int64 `json:"call_oi"`
	PutOI  int64 `json:"put_oi"`
}

// RollingDelta returns the OI change between the earliest snapshot captured
// at or after now-window and the latest snapshot in records. It returns the
// zero delta when no snapshot falls inside the window.
func RollingDelta(records []model.Snapshot, now time.Time, window time.Duration) OIDelta {
	if len(records) == 0 {
		return OIDelta{}
	}
	cutoff := now.Add(-window)

	var earliest *model.Snapshot
	latest := &records[0]
	for i := range records {
		r := &records[i]
		if r.ID > latest.ID {
			latest = r
		}
		if r.CapturedAt.Before(cutoff) {
			continue
		}
		if earliest == nil || r.CapturedAt.Before(earliest.CapturedAt) {
			earliest = r
		}
	}
	if earliest == nil {
		return OIDelta{}
	}
	return OIDelta{
		CallOI: latest.CallOI - earliest.CallOI,
		PutOI:  latest.PutOI - earliest.PutOI,
	}
}

// Resample keeps the last snapshot of every width-wide bin. Bins are aligned
// to multiples of width counted from midnight in loc. The last raw record is
// always part of the result. When everything collapses into a single bin
// while several records exist, the raw records are returned instead.
func Resample(records []model.Snapshot, width time.Duration, loc *time.Location) []model.Snapshot {
	if len(records) == 0 {
		return nil
	}
	raw := sortedByTime(records)
	if width <= 0 {
		return raw
	}

	type bin struct {
		start time.Time
		rec   model.Snapshot
	}
	var bins []bin
	for _, r := range raw {
		start := binStart(r.CapturedAt, width, loc)
		if n := len(bins); n > 0 && bins[n-1].start.Equal(start) {
			bins[n-1].rec = r
			continue
		}
		bins = append(bins, bin{start: start, rec: r})
	}

	out := make([]model.Snapshot, 0, len(bins)+1)
	for _, b := range bins {
		out = append(out, b.rec)
	}
	last := raw[len(raw)-1]
	if out[len(out)-1].ID != last.ID || !out[len(out)-1].CapturedAt.Equal(last.CapturedAt) {
		out = append(out, last)
	}

	if len(bins) == 1 && len(raw) > 1 {
		return raw
	}
	return out
}

func binStart(t time.Time, width time.Duration, loc *time.Location) time.Time {
	midnight := model.DateOf(t, loc)
	offset := t.Sub(midnight)
	return midnight.Add(offset - offset%width)
}

// sortedByTime copies records ordered by capture time, ties by ID.
func sortedByTime(records []model.Snapshot) []model.Snapshot {
	out := make([]model.Snapshot, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DayPoint is one snapshot expressed against the first snapshot of its day.
type DayPoint struct {
	SnapshotID   int64           `json:"snapshot_id"`
	CapturedAt   time.Time       `json:"captured_at"`
	LTP          decimal.Decimal `json:"ltp"`
	CallOI       int64           `json:"call_oi"`
	PutOI        int64           `json:"put_oi"`
	CallOIChange int64           `json:"call_oi_change"`
	PutOIChange  int64           `json:"put_oi_change"`
}

// DayChange measures every record against the first record of the slice,
// which callers load for a single trading day in ID order.
func DayChange(records []model.Snapshot) []DayPoint {
	if len(records) == 0 {
		return nil
	}
	base := records[0]
	out := make([]DayPoint, len(records))
	for i, r := range records {
		out[i] = DayPoint{
			SnapshotID:   r.ID,
			CapturedAt:   r.CapturedAt,
			LTP:          r.LTP,
			CallOI:       r.CallOI,
			PutOI:        r.PutOI,
			CallOIChange: r.CallOI - base.CallOI,
			PutOIChange:  r.PutOI - base.PutOI,
		}
	}
	return out
}
