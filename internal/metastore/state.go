package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SchedulerState holds the rotation cursor and last completion time.
type SchedulerState struct {
	store  Store
	logger *slog.Logger
}

// NewSchedulerState creates a SchedulerState over store.
func NewSchedulerState(store Store, logger *slog.Logger) *SchedulerState {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerState{store: store, logger: logger}
}

// Cursor returns the stored rotation cursor. Absent or unreadable values
// read as 0; callers normalize it against the current instrument count.
func (s *SchedulerState) Cursor(ctx context.Context) (int, error) {
	raw, ok, err := s.store.Get(ctx, KeyRotationCursor)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err == nil && n < 0 {
		err = fmt.Errorf("negative cursor")
	}
	if err != nil {
		s.logger.Warn("rotation cursor invalid, restarting at 0",
			"err", &ParseError{Key: KeyRotationCursor, Value: raw, Err: err})
		return 0, nil
	}
	return n, nil
}

// LastCycleCompletedAt returns when the last cycle committed.
func (s *SchedulerState) LastCycleCompletedAt(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.store.Get(ctx, KeyLastCycleCompleted)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		s.logger.Warn("last cycle time invalid",
			"err", &ParseError{Key: KeyLastCycleCompleted, Value: raw, Err: err})
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// Commit records the end of a cycle in one atomic write.
func (s *SchedulerState) Commit(ctx context.Context, cursor int, at time.Time) error {
	if cursor < 0 {
		return fmt.Errorf("cursor must be >= 0, got %d", cursor)
	}
	return s.store.SetMany(ctx, map[string]string{
		KeyRotationCursor:     strconv.Itoa(cursor),
		KeyLastCycleCompleted: at.UTC().Format(time.RFC3339Nano),
	})
}
