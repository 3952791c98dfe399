package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// Trend labels used in summaries besides the four quadrants.
const (
	TrendNeutral      = "Neutral"
	TrendNotAvailable = "N/A"
)

// SummaryIntervals are the lookbacks, in minutes, reported per instrument.
var SummaryIntervals = []int{3, 5, 15}

// pastTolerance bounds how far a past record may be from its target time.
const pastTolerance = 2 * time.Minute

// IntervalTrend is the quadrant of the move over one lookback.
type IntervalTrend struct {
	Minutes int    `json:"minutes"`
	Trend   string `json:"trend"`
}

// SummaryRow describes the latest state of one instrument.
type SummaryRow struct {
	Symbol          string               `json:"symbol"`
	CapturedAt      time.Time            `json:"captured_at"`
	LTP             decimal.Decimal      `json:"ltp"`
	ChangeInLTP     decimal.Decimal      `json:"change_in_ltp"`
	PctCallOIChange decimal.Decimal      `json:"pct_call_oi_change"`
	Classification  model.Classification `json:"classification"`
	Intervals       []IntervalTrend      `json:"intervals"`
}

// SummaryGroup holds the rows of one quadrant, biggest movers first.
type SummaryGroup struct {
	Label model.Classification `json:"label"`
	Rows  []SummaryRow         `json:"rows"`
}

// Summary is the per-quadrant view across all instruments. Instruments whose
// latest snapshot is unclassified are listed in Other.
type Summary struct {
	Groups []SummaryGroup `json:"groups"`
	Other  []SummaryRow   `json:"other"`
}

// SummarizeInstrument builds the row for the last record in records, which
// are one instrument's snapshots in ID order. It reports false when records
// is empty.
func SummarizeInstrument(records []model.Snapshot) (SummaryRow, bool) {
	if len(records) == 0 {
		return SummaryRow{}, false
	}
	current := records[len(records)-1]
	row := SummaryRow{
		Symbol:          current.Symbol,
		CapturedAt:      current.CapturedAt,
		LTP:             current.LTP,
		ChangeInLTP:     current.ChangeInLTP,
		PctCallOIChange: pctChange(current.CallOI, current.ChangeInCallOI),
		Classification:  current.Classification,
	}
	for _, m := range SummaryIntervals {
		past, ok := findPast(records, current.CapturedAt.Add(-time.Duration(m)*time.Minute))
		row.Intervals = append(row.Intervals, IntervalTrend{Minutes: m, Trend: trend(current, past, ok)})
	}
	return row, true
}

// GroupSummary arranges rows into the four quadrants in display order.
func GroupSummary(rows []SummaryRow) Summary {
	var s Summary
	byLabel := make(map[model.Classification][]SummaryRow)
	for _, r := range rows {
		if r.Classification == model.Unclassified {
			s.Other = append(s.Other, r)
			continue
		}
		byLabel[r.Classification] = append(byLabel[r.Classification], r)
	}
	for _, label := range model.Classifications {
		group := byLabel[label]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].PctCallOIChange.Abs().GreaterThan(group[j].PctCallOIChange.Abs())
		})
		s.Groups = append(s.Groups, SummaryGroup{Label: label, Rows: group})
	}
	return s
}

// pctChange is change relative to the previous value oi-change, in percent.
func pctChange(oi, change int64) decimal.Decimal {
	prev := oi - change
	if prev == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(change).
		Div(decimal.NewFromInt(prev)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

// findPast returns the record closest to target within pastTolerance,
// preferring the newer record on ties.
func findPast(records []model.Snapshot, target time.Time) (model.Snapshot, bool) {
	var (
		best  model.Snapshot
		found bool
		diff  time.Duration
	)
	for i := len(records) - 1; i >= 0; i-- {
		d := records[i].CapturedAt.Sub(target)
		if d < 0 {
			d = -d
		}
		if d > pastTolerance {
			continue
		}
		if !found || d < diff {
			best, diff, found = records[i], d, true
		}
	}
	return best, found
}

func trend(current, past model.Snapshot, ok bool) string {
	if !ok {
		return TrendNotAvailable
	}
	c := model.Classify(current.LTP.Sub(past.LTP), current.CallOI-past.CallOI)
	if c == model.Unclassified {
		return TrendNeutral
	}
	return string(c)
}
