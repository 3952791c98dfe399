// Package maxpain computes the option-writer equilibrium ("max pain") strike
// of a single expiry.
package maxpain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Strike is one row of the strike table.
type Strike struct {
	Price  decimal.Decimal
	CallOI int64
	PutOI  int64
}

// Calculate returns the strike minimizing the aggregate payout owed by
// option writers, or false when the table is empty or malformed (duplicate
// or non-positive strike, negative open interest).
//
// For a candidate k the loss is the sum over every strike s of
// (k-s)*callOI[s] for s < k plus (s-k)*putOI[s] for s > k. Ties resolve to
// the lowest strike.
func Calculate(table []Strike) (decimal.Decimal, bool) {
	if len(table) == 0 {
		return decimal.Zero, false
	}

	strikes := make([]Strike, len(table))
	copy(strikes, table)
	sort.SliceStable(strikes, func(i, j int) bool {
		return strikes[i].Price.LessThan(strikes[j].Price)
	})

	for i, s := range strikes {
		if s.Price.Sign() <= 0 || s.CallOI < 0 || s.PutOI < 0 {
			return decimal.Zero, false
		}
		if i > 0 && strikes[i-1].Price.Equal(s.Price) {
			return decimal.Zero, false
		}
	}

	best := 0
	bestLoss := loss(strikes, 0)
	for i := 1; i < len(strikes); i++ {
		// Strictly less keeps the first (lowest) strike on ties.
		if l := loss(strikes, i); l.LessThan(bestLoss) {
			best, bestLoss = i, l
		}
	}

	return strikes[best].Price, true
}

// loss is the total writer payout if the expiry settles at strikes[k].
func loss(strikes []Strike, k int) decimal.Decimal {
	settle := strikes[k].Price
	total := decimal.Zero
	for i, s := range strikes {
		switch {
		case i < k:
			total = total.Add(settle.Sub(s.Price).Mul(decimal.NewFromInt(s.CallOI)))
		case i > k:
			total = total.Add(s.Price.Sub(settle).Mul(decimal.NewFromInt(s.PutOI)))
		}
	}
	return total
}
