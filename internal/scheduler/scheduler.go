package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/oi-gatherer/internal/api"
	"github.com/rickgao/oi-gatherer/internal/metastore"
	"github.com/rickgao/oi-gatherer/internal/model"
)

// Instruments provides the ordered instrument list.
type Instruments interface {
	CountInstruments(ctx context.Context) (int, error)
	InstrumentRange(ctx context.Context, offset, limit int) ([]model.Instrument, error)
}

// Tunables loads the runtime parameters for a cycle. It never fails.
type Tunables interface {
	Load(ctx context.Context, defaults metastore.Tunables) metastore.Tunables
}

// State persists the rotation cursor.
type State interface {
	Cursor(ctx context.Context) (int, error)
	LastCycleCompletedAt(ctx context.Context) (time.Time, bool, error)
	Commit(ctx context.Context, cursor int, at time.Time) error
}

// Handler processes one instrument.
type Handler interface {
	HandleInstrument(ctx context.Context, in model.Instrument) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, in model.Instrument) error

func (f HandlerFunc) HandleInstrument(ctx context.Context, in model.Instrument) error {
	return f(ctx, in)
}

// ChainSource returns a possibly cached option chain.
type ChainSource interface {
	GetOrFetch(ctx context.Context, symbol string) (*api.OptionChain, error)
}

// Ingester stores a chain as a snapshot.
type Ingester interface {
	Ingest(ctx context.Context, symbol string, chain *api.OptionChain) (*model.Snapshot, error)
}

// FetchAndIngest is the production handler: cache, then pipeline.
func FetchAndIngest(source ChainSource, ing Ingester) Handler {
	return HandlerFunc(func(ctx context.Context, in model.Instrument) error {
		chain, err := source.GetOrFetch(ctx, in.Symbol)
		if err != nil {
			return err
		}
		_, err = ing.Ingest(ctx, in.Symbol, chain)
		return err
	})
}

// Config holds scheduler configuration.
type Config struct {
	Interval       time.Duration // Default cycle interval (default: 15s)
	BatchSize      int           // Default batch size (default: 25)
	MinItemDelay   time.Duration // Gap between instruments, lower bound (default: 0.5s)
	MaxItemDelay   time.Duration // Gap between instruments, upper bound (default: 2s)
	MaxSleepJitter time.Duration // Random addend to the sleep (default: 1s)
	ItemTimeout    time.Duration // Per-instrument deadline (default: 45s)
	InitialDelay   time.Duration // Wait before the first cycle (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Second,
		BatchSize:      25,
		MinItemDelay:   500 * time.Millisecond,
		MaxItemDelay:   2 * time.Second,
		MaxSleepJitter: time.Second,
		ItemTimeout:    45 * time.Second,
		InitialDelay:   5 * time.Second,
	}
}

// Phase is the scheduler's current state.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseSelectingBatch Phase = "selecting_batch"
	PhaseProcessing     Phase = "processing"
	PhaseCommitting     Phase = "committing"
	PhaseSleeping       Phase = "sleeping"
)

// CycleResult summarizes one cycle.
type CycleResult struct {
	ID          string
	StartedAt   time.Time
	Tunables    metastore.Tunables
	Total       int
	Window      Window
	Processed   int
	Failed      int
	Committed   bool
	Interrupted bool
}

// Scheduler rotates through instruments in fixed-size batches.
type Scheduler struct {
	cfg         Config
	instruments Instruments
	tunables    Tunables
	state       State
	handler     Handler
	logger      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand

	statusMu sync.Mutex
	status   Status

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRand sets the random source for shuffling and delays.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) {
		s.rng = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithSleeper overrides how the scheduler waits. The sleeper must return
// ctx.Err() when ctx ends first.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleep = sleep
	}
}

// New creates a new Scheduler.
func New(cfg Config, instruments Instruments, tunables Tunables, state State, handler Handler, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:         cfg,
		instruments: instruments,
		tunables:    tunables,
		state:       state,
		handler:     handler,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepCtx,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		status:      Status{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("rotation scheduler started",
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize,
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight instrument to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("rotation scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main scheduling loop.
func (s *Scheduler) run() {
	defer s.wg.Done()

	if err := s.sleep(s.ctx, s.cfg.InitialDelay); err != nil {
		return
	}

	for {
		res, err := s.RunCycle(s.ctx)
		s.recordCycle(res, err)

		if s.ctx.Err() != nil {
			return
		}

		interval := res.Tunables.CycleInterval
		if interval <= 0 {
			interval = s.cfg.Interval
		}
		d := sleepDuration(interval, s.now().Sub(res.StartedAt), s.randDuration(0, s.cfg.MaxSleepJitter))
		s.setPhase(PhaseSleeping)
		if err := s.sleep(s.ctx, d); err != nil {
			return
		}
	}
}

// RunCycle selects, processes and commits one batch. Panics are recovered
// and returned as errors.
func (s *Scheduler) RunCycle(ctx context.Context) (res CycleResult, err error) {
	res.ID = uuid.NewString()
	res.StartedAt = s.now()
	res.Tunables = metastore.Tunables{CycleInterval: s.cfg.Interval, BatchSize: s.cfg.BatchSize}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			s.logger.Error("scheduler cycle panicked",
				"cycle_id", res.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	s.setPhase(PhaseSelectingBatch)
	res.Tunables = s.tunables.Load(ctx, res.Tunables)

	total, err := s.instruments.CountInstruments(ctx)
	if err != nil {
		return res, fmt.Errorf("count instruments: %w", err)
	}
	res.Total = total
	if total == 0 {
		s.logger.Debug("no instruments to rotate", "cycle_id", res.ID)
		return res, nil
	}

	cursor, err := s.state.Cursor(ctx)
	if err != nil {
		return res, fmt.Errorf("read cursor: %w", err)
	}
	res.Window = SelectBatch(total, res.Tunables.BatchSize, cursor)

	batch, err := s.loadWindow(ctx, res.Window, total)
	if err != nil {
		return res, err
	}
	s.shuffle(batch)

	s.setPhase(PhaseProcessing)
	for i, in := range batch {
		if i > 0 {
			if err := s.sleep(ctx, s.randDuration(s.cfg.MinItemDelay, s.cfg.MaxItemDelay)); err != nil {
				res.Interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		if err := s.processItem(ctx, in); err != nil {
			res.Failed++
			s.logger.Warn("instrument failed",
				"cycle_id", res.ID,
				"symbol", in.Symbol,
				"err", err,
			)
		}
		res.Processed++
	}

	if res.Interrupted {
		s.logger.Info("cycle interrupted, cursor not advanced",
			"cycle_id", res.ID,
			"processed", res.Processed,
			"batch", len(batch),
		)
		return res, nil
	}

	s.setPhase(PhaseCommitting)
	next := res.Window.Next(res.Processed, total)
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.state.Commit(commitCtx, next, s.now()); err != nil {
		return res, fmt.Errorf("commit cursor: %w", err)
	}
	res.Committed = true

	s.logger.Info("cycle complete",
		"cycle_id", res.ID,
		"total", total,
		"start", res.Window.Start,
		"processed", res.Processed,
		"failed", res.Failed,
		"next_cursor", next,
		"duration", s.now().Sub(res.StartedAt),
	)
	return res, nil
}

// loadWindow reads the window's instruments, in two ranges when it wraps.
func (s *Scheduler) loadWindow(ctx context.Context, w Window, total int) ([]model.Instrument, error) {
	head := min(w.Size, total-w.Start)
	batch, err := s.instruments.InstrumentRange(ctx, w.Start, head)
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	if rest := w.Size - head; rest > 0 {
		wrapped, err := s.instruments.InstrumentRange(ctx, 0, rest)
		if err != nil {
			return nil, fmt.Errorf("load wrapped instruments: %w", err)
		}
		batch = append(batch, wrapped...)
	}
	return batch, nil
}

// processItem runs the handler on a context detached from shutdown so the
// write in progress can finish. A handler panic becomes the item's error so
// the rest of the batch still runs and the cursor moves past it.
func (s *Scheduler) processItem(ctx context.Context, in model.Instrument) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("instrument %s panic: %v", in.Symbol, r)
			s.logger.Error("instrument handler panicked",
				"symbol", in.Symbol,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ItemTimeout)
	defer cancel()
	return s.handler.HandleInstrument(itemCtx, in)
}

func (s *Scheduler) shuffle(batch []model.Instrument) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(batch), func(i, j int) {
		batch[i], batch[j] = batch[j], batch[i]
	})
}

// randDuration returns a uniform duration in [lo, hi).
func (s *Scheduler) randDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)))
}

// sleepDuration is the rest of the interval plus jitter.
func sleepDuration(interval, elapsed, jitter time.Duration) time.Duration {
	return max(0, interval-elapsed) + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
