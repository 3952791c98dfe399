package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// StrikeChange is the OI change of one strike between two captured sets.
type StrikeChange struct {
	Strike       decimal.Decimal `json:"strike"`
	CallOIChange int64           `json:"call_oi_change"`
	PutOIChange  int64           `json:"put_oi_change"`
	// Upstream is set when the strike was missing from the baseline set and
	// the session change reported by the exchange was used instead.
	Upstream bool `json:"upstream"`
}

// StrikeComparison is the latest strike set of a day compared to a baseline.
type StrikeComparison struct {
	Expiry     string         `json:"expiry"`
	CurrentAt  time.Time      `json:"current_at"`
	BaselineAt time.Time      `json:"baseline_at"`
	Strikes    []StrikeChange `json:"strikes"`
}

type strikeSet struct {
	snapshotID int64
	capturedAt time.Time
	expiry     string
	rows       map[string]model.StrikeSnapshot
}

// CompareStrikes compares the latest strike set in rows with the latest set
// of the same expiry captured at or before target, or with the first such set
// of the day when none qualifies. It reports false when rows is empty.
func CompareStrikes(rows []model.StrikeSnapshot, target time.Time) (StrikeComparison, bool) {
	sets := groupSets(rows)
	if len(sets) == 0 {
		return StrikeComparison{}, false
	}
	current := sets[len(sets)-1]

	var baseline *strikeSet
	for i := range sets {
		s := &sets[i]
		if s.expiry == current.expiry && !s.capturedAt.After(target) {
			baseline = s
		}
	}
	if baseline == nil {
		baseline = firstOfExpiry(sets, current.expiry)
	}

	cmp := StrikeComparison{
		Expiry:     current.expiry,
		CurrentAt:  current.capturedAt,
		BaselineAt: baseline.capturedAt,
	}
	for _, key := range sortedStrikeKeys(current.rows) {
		cur := current.rows[key]
		ch := StrikeChange{Strike: cur.Strike}
		if past, ok := baseline.rows[key]; ok {
			ch.CallOIChange = cur.CallOI - past.CallOI
			ch.PutOIChange = cur.PutOI - past.PutOI
		} else {
			ch.CallOIChange = cur.CallOIChange
			ch.PutOIChange = cur.PutOIChange
			ch.Upstream = true
		}
		cmp.Strikes = append(cmp.Strikes, ch)
	}
	return cmp, true
}

// groupSets splits rows by parent snapshot, ordered by capture time.
func groupSets(rows []model.StrikeSnapshot) []strikeSet {
	byID := make(map[int64]int)
	var sets []strikeSet
	for _, r := range rows {
		i, ok := byID[r.SnapshotID]
		if !ok {
			i = len(sets)
			byID[r.SnapshotID] = i
			sets = append(sets, strikeSet{
				snapshotID: r.SnapshotID,
				capturedAt: r.CapturedAt,
				expiry:     r.Expiry,
				rows:       make(map[string]model.StrikeSnapshot),
			})
		}
		if r.Expiry != sets[i].expiry {
			continue
		}
		sets[i].rows[r.Strike.String()] = r
	}
	sort.SliceStable(sets, func(i, j int) bool {
		if !sets[i].capturedAt.Equal(sets[j].capturedAt) {
			return sets[i].capturedAt.Before(sets[j].capturedAt)
		}
		return sets[i].snapshotID < sets[j].snapshotID
	})
	return sets
}

func firstOfExpiry(sets []strikeSet, expiry string) *strikeSet {
	for i := range sets {
		if sets[i].expiry == expiry {
			return &sets[i]
		}
	}
	return nil
}

func sortedStrikeKeys(rows map[string]model.StrikeSnapshot) []string {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return rows[keys[i]].Strike.LessThan(rows[keys[j]].Strike)
	})
	return keys
}
