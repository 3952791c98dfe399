package api

import (
	"github.com/shopspring/decimal"
)

// OptionChain is the upstream option-chain document.
type OptionChain struct {
	Records  Records  `json:"records"`
	Filtered Filtered `json:"filtered"`
}

// Records holds every listed expiry.
type Records struct {
	UnderlyingValue *decimal.Decimal `json:"underlyingValue"`
	ExpiryDates     []string         `json:"expiryDates"`
	Timestamp       string           `json:"timestamp"`
	Data            []StrikeRow      `json:"data"`
}

// Filtered holds the nearest expiry only, with per-side totals.
type Filtered struct {
	Data []StrikeRow `json:"data"`
	CE   *SideTotals `json:"CE"`
	PE   *SideTotals `json:"PE"`
}

// SideTotals are aggregate call or put figures for the nearest expiry.
type SideTotals struct {
	TotOI  *decimal.Decimal `json:"totOI"`
	TotVol *decimal.Decimal `json:"totVol"`
}

// StrikeRow is one strike of one expiry. Either leg may be absent.
type StrikeRow struct {
	StrikePrice decimal.Decimal `json:"strikePrice"`
	ExpiryDate  string          `json:"expiryDate"`
	CE          *Leg            `json:"CE"`
	PE          *Leg            `json:"PE"`
}

// Leg is the call or put side of a strike.
type Leg struct {
	OpenInterest         decimal.Decimal `json:"openInterest"`
	ChangeInOpenInterest decimal.Decimal `json:"changeinOpenInterest"`
	TotalTradedVolume    decimal.Decimal `json:"totalTradedVolume"`
	LastPrice            decimal.Decimal `json:"lastPrice"`
}

// Validate performs the minimum-fields check.
func (c *OptionChain) Validate() error {
	switch {
	case c.Records.UnderlyingValue == nil:
		return &PayloadError{Field: "records.underlyingValue"}
	case c.Filtered.CE == nil || c.Filtered.CE.TotOI == nil:
		return &PayloadError{Field: "filtered.CE.totOI"}
	case c.Filtered.PE == nil || c.Filtered.PE.TotOI == nil:
		return &PayloadError{Field: "filtered.PE.totOI"}
	case len(c.Records.ExpiryDates) == 0:
		return &PayloadError{Field: "records.expiryDates"}
	}
	return nil
}

// LTP returns the underlying's last traded price.
func (c *OptionChain) LTP() decimal.Decimal {
	if c.Records.UnderlyingValue == nil {
		return decimal.Zero
	}
	return *c.Records.UnderlyingValue
}

// CallOI returns the nearest-expiry aggregate call open interest.
func (c *OptionChain) CallOI() int64 { return c.Filtered.CE.oi() }

// PutOI returns the nearest-expiry aggregate put open interest.
func (c *OptionChain) PutOI() int64 { return c.Filtered.PE.oi() }

// Volume returns call plus put traded volume for the nearest expiry.
func (c *OptionChain) Volume() int64 {
	return c.Filtered.CE.vol() + c.Filtered.PE.vol()
}

// NearestExpiry returns the first listed expiry label.
func (c *OptionChain) NearestExpiry() string {
	if len(c.Records.ExpiryDates) == 0 {
		return ""
	}
	return c.Records.ExpiryDates[0]
}

// NearestStrikes returns the strike rows of the nearest expiry, falling back
// to the filtered section when the full record set has none.
func (c *OptionChain) NearestStrikes() []StrikeRow {
	expiry := c.NearestExpiry()
	var rows []StrikeRow
	for _, r := range c.Records.Data {
		if r.ExpiryDate == expiry {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, c.Filtered.Data...)
	}
	return rows
}

func (s *SideTotals) oi() int64 {
	if s == nil || s.TotOI == nil {
		return 0
	}
	return s.TotOI.IntPart()
}

func (s *SideTotals) vol() int64 {
	if s == nil || s.TotVol == nil {
		return 0
	}
	return s.TotVol.IntPart()
}

// CallOI returns the call open interest, zero when the leg is absent.
func (r StrikeRow) CallOI() int64 { return r.CE.oi() }

// CallOIChange returns the upstream-reported call OI change.
func (r StrikeRow) CallOIChange() int64 { return r.CE.oiChange() }

// CallVolume returns the call traded volume.
func (r StrikeRow) CallVolume() int64 { return r.CE.volume() }

// PutOI returns the put open interest, zero when the leg is absent.
func (r StrikeRow) PutOI() int64 { return r.PE.oi() }

// PutOIChange returns the upstream-reported put OI change.
func (r StrikeRow) PutOIChange() int64 { return r.PE.oiChange() }

// PutVolume returns the put traded volume.
func (r StrikeRow) PutVolume() int64 { return r.PE.volume() }

func (l *Leg) oi() int64 {
	if l == nil {
		return 0
	}
	return l.OpenInterest.IntPart()
}

func (l *Leg) oiChange() int64 {
	if l == nil {
		return 0
	}
	return l.ChangeInOpenInterest.IntPart()
}

func (l *Leg) volume() int64 {
	if l == nil {
		return 0
	}
	return l.TotalTradedVolume.IntPart()
}
