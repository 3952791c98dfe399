// Package retention prunes old snapshots on a cron schedule.
//
// Schedules use six fields with seconds ("0 30 20 * * *") and run in the
// market timezone. The cutoff is midnight of the market-local day KeepDays
// before today; trade dates before it are deleted.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rickgao/oi-gatherer/internal/model"
)

// Pruner deletes data older than a trade date.
type Pruner interface {
	PruneBefore(ctx context.Context, day time.Time) (int64, error)
}

// Config holds retention configuration.
type Config struct {
	Schedule string        // Cron spec with seconds
	KeepDays int           // Trading days to keep; 0 disables pruning
	Timeout  time.Duration // Deadline for one prune run (default: 5m)
}

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron spec in the format the runner accepts.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", spec, err)
	}
	return s, nil
}

// Runner executes the prune job.
type Runner struct {
	cfg    Config
	pruner Pruner
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source used for the cutoff.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New validates cfg and creates a Runner.
func New(cfg Config, pruner Pruner, loc *time.Location, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.KeepDays < 0 {
		return nil, fmt.Errorf("keep days must be >= 0, got %d", cfg.KeepDays)
	}
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		pruner: pruner,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	cl := cronLogger{logger: logger}
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := r.cron.AddFunc(cfg.Schedule, r.job); err != nil {
		return nil, fmt.Errorf("schedule prune job: %w", err)
	}
	return r, nil
}

// Cutoff returns the first trade date that is kept.
func (r *Runner) Cutoff() time.Time {
	return model.DateOf(r.now(), r.loc).AddDate(0, 0, -r.cfg.KeepDays)
}

// RunOnce prunes immediately.
func (r *Runner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.Cutoff()
	n, err := r.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	r.logger.Info("retention prune complete",
		"cutoff", cutoff.Format(time.DateOnly),
		"snapshots_deleted", n,
	)
	return n, nil
}

func (r *Runner) job() {
	r.mu.Lock()
	base := r.ctx
	r.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	ctx, cancel := context.WithTimeout(base, r.cfg.Timeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("retention prune failed", "err", err)
	}
}

// Start schedules the job. It does nothing when pruning is disabled.
func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.KeepDays == 0 {
		r.logger.Info("retention disabled")
		return nil
	}

	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info("retention started",
		"schedule", r.cfg.Schedule,
		"keep_days", r.cfg.KeepDays,
		"timezone", r.loc.String(),
	)
	return nil
}

// Stop cancels a running prune and waits for it to return.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	if !started {
		return nil
	}

	r.logger.Info("stopping retention")
	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("retention stopped")
	case <-ctx.Done():
		r.logger.Warn("retention stop timed out")
	}
	return nil
}

// Next returns the next scheduled run, or zero when not started.
func (r *Runner) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
