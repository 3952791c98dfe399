package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/version"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9&_-]{1,32}$`)

type instrumentDTO struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

type snapshotDTO struct {
	ID             int64                `json:"id"`
	Symbol         string               `json:"symbol"`
	TradeDate      string               `json:"trade_date"`
	CapturedAt     time.Time            `json:"captured_at"`
	TimeOfDay      string               `json:"time_of_day"`
	LTP            decimal.Decimal      `json:"ltp"`
	ChangeInLTP    decimal.Decimal      `json:"change_in_ltp"`
	CallOI         int64                `json:"call_oi"`
	ChangeInCallOI int64                `json:"change_in_call_oi"`
	PutOI          int64                `json:"put_oi"`
	ChangeInPutOI  int64                `json:"change_in_put_oi"`
	Volume         int64                `json:"volume"`
	ChangeInVolume int64                `json:"change_in_volume"`
	Classification model.Classification `json:"classification"`
	MaxPain        *decimal.Decimal     `json:"max_pain"`
}

func toSnapshotDTO(s model.Snapshot) snapshotDTO {
	dto := snapshotDTO{
		ID:             s.ID,
		Symbol:         s.Symbol,
		TradeDate:      s.TradeDate.Format(time.DateOnly),
		CapturedAt:     s.CapturedAt,
		TimeOfDay:      s.TimeOfDay(),
		LTP:            s.LTP,
		ChangeInLTP:    s.ChangeInLTP,
		CallOI:         s.CallOI,
		ChangeInCallOI: s.ChangeInCallOI,
		PutOI:          s.PutOI,
		ChangeInPutOI:  s.ChangeInPutOI,
		Volume:         s.Volume,
		ChangeInVolume: s.ChangeInVolume,
		Classification: s.Classification,
	}
	if s.MaxPain.Valid {
		mp := s.MaxPain.Decimal
		dto.MaxPain = &mp
	}
	return dto
}

func toSnapshotDTOs(snaps []model.Snapshot) []snapshotDTO {
	out := make([]snapshotDTO, len(snaps))
	for i, s := range snaps {
		out[i] = toSnapshotDTO(s)
	}
	return out
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get()})
}

func (s *Server) ready(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.DB.Ping(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) listInstruments(c *gin.Context) {
	if s.deps.Instruments == nil {
		fail(c, http.StatusServiceUnavailable, "instruments unavailable")
		return
	}
	items, err := s.deps.Instruments.ListInstruments(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]instrumentDTO, len(items))
	for i, in := range items {
		out[i] = instrumentDTO{ID: in.ID, Symbol: in.Symbol, CreatedAt: in.CreatedAt}
	}
	ok(c, out)
}

func (s *Server) snapshots(c *gin.Context) {
	symbol, valid := s.symbolParam(c)
	if !valid || !s.requireAnalytics(c) {
		return
	}
	day := s.now().In(s.deps.Location)
	if v := strings.TrimSpace(c.Query("date")); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, s.deps.Location)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		day = d
	}
	snaps, err := s.deps.Analytics.Snapshots(c.Request.Context(), symbol, day)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, toSnapshotDTOs(snaps))
}

func (s *Server) rollingDelta(c *gin.Context) {
	symbol, valid := s.symbolParam(c)
	if !valid || !s.requireAnalytics(c) {
		return
	}
	minutes, valid := intParam(c, "minutes", 15)
	if !valid {
		return
	}
	delta, err := s.deps.Analytics.RollingDelta(c.Request.Context(), symbol, minutes)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"symbol": symbol, "minutes": minutes, "call_oi": delta.CallOI, "put_oi": delta.PutOI})
}

func (s *Server) resample(c *gin.Context) {
	symbol, valid := s.symbolParam(c)
	if !valid || !s.requireAnalytics(c) {
		return
	}
	bucket, valid := intParam(c, "bucket", 5)
	if !valid {
		return
	}
	snaps, err := s.deps.Analytics.Resample(c.Request.Context(), symbol, bucket)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, toSnapshotDTOs(snaps))
}

func (s *Server) strikeChanges(c *gin.Context) {
	symbol, valid := s.symbolParam(c)
	if !valid || !s.requireAnalytics(c) {
		return
	}
	lookback, valid := intParam(c, "lookback", 15)
	if !valid {
		return
	}
	cmp, err := s.deps.Analytics.StrikeChanges(c.Request.Context(), symbol, lookback)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, cmp)
}

func (s *Server) dayChange(c *gin.Context) {
	symbol, valid := s.symbolParam(c)
	if !valid || !s.requireAnalytics(c) {
		return
	}
	points, err := s.deps.Analytics.DayChange(c.Request.Context(), symbol)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, points)
}

func (s *Server) summary(c *gin.Context) {
	if !s.requireAnalytics(c) {
		return
	}
	sum, err := s.deps.Analytics.Summary(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, sum)
}

func (s *Server) refresh(c *gin.Context) {
	symbol, valid := s.symbolParam(c)
	if !valid {
		return
	}
	if s.deps.Refresher == nil {
		fail(c, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RefreshTimeout)
	defer cancel()

	snap, err := s.deps.Refresher.Refresh(ctx, symbol)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, toSnapshotDTO(*snap))
}

func (s *Server) requireAnalytics(c *gin.Context) bool {
	if s.deps.Analytics == nil {
		fail(c, http.StatusServiceUnavailable, "analytics unavailable")
		return false
	}
	return true
}

// symbolParam returns the normalized :symbol path parameter.
func (s *Server) symbolParam(c *gin.Context) (string, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if !symbolPattern.MatchString(symbol) {
		fail(c, http.StatusBadRequest, "invalid symbol")
		return "", false
	}
	return symbol, true
}

// intParam parses a non-negative integer query parameter.
func intParam(c *gin.Context, key string, def int) (int, bool) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return def, true
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}
