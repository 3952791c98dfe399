package httpapi

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/oi-gatherer/internal/feed"
	"github.com/rickgao/oi-gatherer/internal/metastore"
)

type runtimeDTO struct {
	CycleIntervalSeconds float64 `json:"cycle_interval_seconds"`
	BatchSize            int     `json:"batch_size"`
}

func toRuntimeDTO(t metastore.Tunables) runtimeDTO {
	return runtimeDTO{CycleIntervalSeconds: t.CycleInterval.Seconds(), BatchSize: t.BatchSize}
}

type putRuntimeRequest struct {
	CycleIntervalSeconds *float64 `json:"cycle_interval_seconds"`
	BatchSize            *int     `json:"batch_size"`
}

type statusDTO struct {
	Phase                string      `json:"phase"`
	TotalInstruments     int         `json:"total_instruments"`
	Cursor               int         `json:"cursor"`
	LastCycleID          string      `json:"last_cycle_id,omitempty"`
	LastCycleStartedAt   *time.Time  `json:"last_cycle_started_at,omitempty"`
	LastCycleCompletedAt *time.Time  `json:"last_cycle_completed_at,omitempty"`
	CycleIntervalSeconds float64     `json:"cycle_interval_seconds"`
	BatchSize            int         `json:"batch_size"`
	Cycles               int64       `json:"cycles"`
	FailedCycles         int64       `json:"failed_cycles"`
	ItemsOK              int64       `json:"items_ok"`
	ItemsFailed          int64       `json:"items_failed"`
	Feed                 *feed.Stats `json:"feed,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) getRuntime(c *gin.Context) {
	if s.deps.Runtime == nil {
		fail(c, http.StatusServiceUnavailable, "runtime config unavailable")
		return
	}
	ok(c, toRuntimeDTO(s.deps.Runtime.Load(c.Request.Context(), s.deps.Defaults)))
}

func (s *Server) putRuntime(c *gin.Context) {
	if s.deps.Runtime == nil {
		fail(c, http.StatusServiceUnavailable, "runtime config unavailable")
		return
	}
	var req putRuntimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	if req.CycleIntervalSeconds == nil && req.BatchSize == nil {
		fail(c, http.StatusBadRequest, "nothing to update")
		return
	}

	ctx := c.Request.Context()
	if v := req.CycleIntervalSeconds; v != nil {
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v > math.MaxInt64/float64(time.Second) {
			fail(c, http.StatusBadRequest, "invalid cycle_interval_seconds")
			return
		}
		if err := s.deps.Runtime.SetCycleInterval(ctx, time.Duration(*v*float64(time.Second))); err != nil {
			failErr(c, err)
			return
		}
	}
	if v := req.BatchSize; v != nil {
		if err := s.deps.Runtime.SetBatchSize(ctx, *v); err != nil {
			failErr(c, err)
			return
		}
	}

	t := s.deps.Runtime.Load(ctx, s.deps.Defaults)
	s.logger.Info("runtime config updated",
		"cycle_interval", t.CycleInterval,
		"batch_size", t.BatchSize,
	)
	ok(c, toRuntimeDTO(t))
}

func (s *Server) schedulerStatus(c *gin.Context) {
	if s.deps.Scheduler == nil {
		fail(c, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	st, err := s.deps.Scheduler.Status(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	dto := statusDTO{
		Phase:                string(st.Phase),
		TotalInstruments:     st.TotalInstruments,
		Cursor:               st.Cursor,
		LastCycleID:          st.LastCycleID,
		LastCycleStartedAt:   timePtr(st.LastCycleStartedAt),
		LastCycleCompletedAt: timePtr(st.LastCycleCompletedAt),
		CycleIntervalSeconds: st.CycleInterval.Seconds(),
		BatchSize:            st.BatchSize,
		Cycles:               st.Cycles,
		FailedCycles:         st.FailedCycles,
		ItemsOK:              st.ItemsOK,
		ItemsFailed:          st.ItemsFailed,
	}
	if s.deps.Feed != nil {
		fs := s.deps.Feed.Stats()
		dto.Feed = &fs
	}
	ok(c, dto)
}
