package model

import "github.com/shopspring/decimal"

// Classification is the price/open-interest quadrant of a move.
type Classification string

const (
	Unclassified  Classification = ""
	LongBuildup   Classification = "Long Buildup"
	ShortBuildup  Classification = "Short Buildup"
	LongUnwinding Classification = "Long Unwinding"
	ShortCovering Classification = "Short Covering"
)

// Classifications lists the four labelled quadrants in display order.
var Classifications = []Classification{LongBuildup, ShortBuildup, ShortCovering, LongUnwinding}

// Classify maps the sign pair (price change, OI change) to a quadrant.
// A zero on either axis is unclassified.
func Classify(priceChange decimal.Decimal, oiChange int64) Classification {
	p := priceChange.Sign()
	switch {
	case p > 0 && oiChange > 0:
		return LongBuildup
	case p < 0 && oiChange > 0:
		return ShortBuildup
	case p < 0 && oiChange < 0:
		return LongUnwinding
	case p > 0 && oiChange < 0:
		return ShortCovering
	}
	return Unclassified
}
