package scheduler

import (
	"context"
	"time"
)

// Status is a read-only view of the scheduler.
type Status struct {
	Phase                Phase
	TotalInstruments     int
	Cursor               int
	LastCycleID          string
	LastCycleStartedAt   time.Time
	LastCycleCompletedAt time.Time // From the meta store; survives restarts
	CycleInterval        time.Duration
	BatchSize            int

	Cycles       int64
	FailedCycles int64
	ItemsOK      int64
	ItemsFailed  int64
}

// Status returns counters from this process plus the persisted rotation state.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	s.statusMu.Lock()
	st := s.status
	s.statusMu.Unlock()

	total, err := s.instruments.CountInstruments(ctx)
	if err != nil {
		return st, err
	}
	st.TotalInstruments = total

	cursor, err := s.state.Cursor(ctx)
	if err != nil {
		return st, err
	}
	if total > 0 {
		cursor %= total
	}
	st.Cursor = cursor

	if at, ok, err := s.state.LastCycleCompletedAt(ctx); err != nil {
		return st, err
	} else if ok {
		st.LastCycleCompletedAt = at
	}
	return st, nil
}

func (s *Scheduler) setPhase(p Phase) {
	s.statusMu.Lock()
	s.status.Phase = p
	s.statusMu.Unlock()
}

func (s *Scheduler) recordCycle(res CycleResult, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.status.Cycles++
	s.status.LastCycleID = res.ID
	s.status.LastCycleStartedAt = res.StartedAt
	s.status.CycleInterval = res.Tunables.CycleInterval
	s.status.BatchSize = res.Tunables.BatchSize
	s.status.ItemsOK += int64(res.Processed - res.Failed)
	s.status.ItemsFailed += int64(res.Failed)
	if err != nil {
		s.status.FailedCycles++
		s.logger.Error("scheduler cycle failed", "cycle_id", res.ID, "err", err)
	}
}
