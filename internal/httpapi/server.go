// Package httpapi exposes the query layer over HTTP using gin.
//
// Every JSON response uses the envelope {code, message, data}; code is 0 on
// success and the HTTP status otherwise. /api/v1/stream upgrades to a
// websocket that pushes each newly ingested snapshot.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/oi-gatherer/internal/aggregate"
	"github.com/rickgao/oi-gatherer/internal/feed"
	"github.com/rickgao/oi-gatherer/internal/metastore"
	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/scheduler"
)

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InstrumentLister lists tracked instruments.
type InstrumentLister interface {
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
}

// Analytics answers time-series queries. *aggregate.Aggregator implements it.
type Analytics interface {
	Snapshots(ctx context.Context, symbol string, day time.Time) ([]model.Snapshot, error)
	RollingDelta(ctx context.Context, symbol string, minutes int) (aggregate.OIDelta, error)
	Resample(ctx context.Context, symbol string, bucketMinutes int) ([]model.Snapshot, error)
	StrikeChanges(ctx context.Context, symbol string, lookbackMinutes int) (aggregate.StrikeComparison, error)
	DayChange(ctx context.Context, symbol string) ([]aggregate.DayPoint, error)
	Summary(ctx context.Context) (aggregate.Summary, error)
}

// Refresher fetches and ingests one instrument on demand.
type Refresher interface {
	Refresh(ctx context.Context, symbol string) (*model.Snapshot, error)
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc func(ctx context.Context, symbol string) (*model.Snapshot, error)

func (f RefreshFunc) Refresh(ctx context.Context, symbol string) (*model.Snapshot, error) {
	return f(ctx, symbol)
}

// Runtime reads and writes the scheduler tunables.
type Runtime interface {
	Load(ctx context.Context, defaults metastore.Tunables) metastore.Tunables
	SetCycleInterval(ctx context.Context, d time.Duration) error
	SetBatchSize(ctx context.Context, n int) error
}

// StatusReporter reports scheduler status.
type StatusReporter interface {
	Status(ctx context.Context) (scheduler.Status, error)
}

// Subscriber hands out live snapshot subscriptions.
type Subscriber interface {
	Subscribe() (<-chan model.Snapshot, func())
	Stats() feed.Stats
}

// Deps are the collaborators behind the routes. A nil dependency makes its
// routes answer 503.
type Deps struct {
	DB          Pinger
	Instruments InstrumentLister
	Analytics   Analytics
	Refresher   Refresher
	Runtime     Runtime
	Defaults    metastore.Tunables
	Scheduler   StatusReporter
	Feed        Subscriber
	Location    *time.Location
}

// Config holds server configuration.
type Config struct {
	Addr            string        // Listen address (e.g., ":8080")
	ReadTimeout     time.Duration // default: 10s
	RefreshTimeout  time.Duration // Deadline for on-demand refreshes (default: 60s)
	StreamPing      time.Duration // Websocket ping period (default: 30s)
	StreamWriteWait time.Duration // Websocket write deadline (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		RefreshTimeout:  60 * time.Second,
		StreamPing:      30 * time.Second,
		StreamWriteWait: 10 * time.Second,
	}
}

// Server is the query API.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	engine *gin.Engine
	srv    *http.Server

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the server and its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	if cfg.StreamPing <= 0 {
		cfg.StreamPing = def.StreamPing
	}
	if cfg.StreamWriteWait <= 0 {
		cfg.StreamWriteWait = def.StreamWriteWait
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	s.engine = gin.New()
	s.engine.Use(recovery(logger), accessLog(logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", s.health)
	r.GET("/readyz", s.ready)

	v1 := r.Group("/api/v1")
	v1.GET("/instruments", s.listInstruments)
	v1.GET("/summary", s.summary)
	v1.GET("/runtime", s.getRuntime)
	v1.PUT("/runtime", s.putRuntime)
	v1.GET("/scheduler/status", s.schedulerStatus)
	v1.GET("/stream", s.stream)

	in := v1.Group("/instruments/:symbol")
	in.GET("/snapshots", s.snapshots)
	in.GET("/rolling-delta", s.rollingDelta)
	in.GET("/resample", s.resample)
	in.GET("/strike-changes", s.strikeChanges)
	in.GET("/day-change", s.dayChange)
	in.POST("/refresh", s.refresh)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "err", err)
		}
	}()

	s.logger.Info("http server started", "addr", ln.Addr().String())
	return nil
}

// Stop closes open streams and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	s.doneOnce.Do(func() { close(s.done) })

	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("http server stopped")
	case <-ctx.Done():
		s.logger.Warn("http server stop timed out")
	}
	return err
}
