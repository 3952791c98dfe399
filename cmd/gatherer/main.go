package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/oi-gatherer/internal/aggregate"
	"github.com/rickgao/oi-gatherer/internal/api"
	"github.com/rickgao/oi-gatherer/internal/cache"
	"github.com/rickgao/oi-gatherer/internal/config"
	"github.com/rickgao/oi-gatherer/internal/database"
	"github.com/rickgao/oi-gatherer/internal/feed"
	"github.com/rickgao/oi-gatherer/internal/httpapi"
	"github.com/rickgao/oi-gatherer/internal/ingest"
	"github.com/rickgao/oi-gatherer/internal/logging"
	"github.com/rickgao/oi-gatherer/internal/metastore"
	"github.com/rickgao/oi-gatherer/internal/model"
	"github.com/rickgao/oi-gatherer/internal/retention"
	"github.com/rickgao/oi-gatherer/internal/scheduler"
	"github.com/rickgao/oi-gatherer/internal/store"
	"github.com/rickgao/oi-gatherer/internal/version"
)

// component is anything started at boot and stopped at shutdown.
type component struct {
	name string
	stop func(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/gatherer.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		fmt.Fprintln(os.Stderr, "gatherer:", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	if err := config.LoadEnv(envPath); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	loc := cfg.Market.Location()
	logger.Info("starting gatherer",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", configPath,
		"timezone", loc.String(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("database ready")

	st := store.NewPostgres(pool, loc, logger)
	meta := metastore.NewPostgres(pool)
	runtimeCfg := metastore.NewRuntimeConfig(meta, logger)
	state := metastore.NewSchedulerState(meta, logger)

	// Acquisition
	client := api.NewClient(cfg.Source.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Source.Timeout),
		api.WithRetries(cfg.Source.MaxAttempts, cfg.Source.Backoff, cfg.Source.MaxJitter),
		api.WithRateLimit(cfg.Source.RateLimit, cfg.Source.RateBurst),
		api.WithHomePath(cfg.Source.HomePath),
		api.WithUserAgent(cfg.Source.UserAgent),
		api.WithIndexSymbols(cfg.Source.IndexSymbols...),
	)
	chains := cache.New(client, cfg.Cache.TTL, cache.WithLogger(logger))

	hub := feed.NewHub(feed.DefaultQueueSize, logger)
	pipeline := ingest.New(st, loc,
		ingest.WithPublisher(hub),
		ingest.WithLogger(logger),
	)

	sched := scheduler.New(
		scheduler.Config{
			Interval:       cfg.Scheduler.Interval,
			BatchSize:      cfg.Scheduler.BatchSize,
			MinItemDelay:   cfg.Scheduler.MinItemDelay,
			MaxItemDelay:   cfg.Scheduler.MaxItemDelay,
			MaxSleepJitter: cfg.Scheduler.MaxSleepJitter,
			ItemTimeout:    cfg.Scheduler.ItemTimeout,
			InitialDelay:   cfg.Scheduler.InitialDelay,
		},
		st, runtimeCfg, state,
		scheduler.FetchAndIngest(chains, pipeline),
		logger,
	)

	pruner, err := retention.New(retention.Config{
		Schedule: cfg.Retention.Schedule,
		KeepDays: cfg.Retention.KeepDays,
	}, st, loc, logger)
	if err != nil {
		return err
	}

	// Query layer
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Addr = fmt.Sprintf(":%d", cfg.HTTP.Port)
	server := httpapi.New(httpCfg, httpapi.Deps{
		DB:          st,
		Instruments: st,
		Analytics:   aggregate.New(st, loc, aggregate.WithLogger(logger)),
		Refresher: httpapi.RefreshFunc(func(ctx context.Context, symbol string) (*model.Snapshot, error) {
			chain, err := chains.GetOrFetch(ctx, symbol)
			if err != nil {
				return nil, err
			}
			return pipeline.Ingest(ctx, symbol, chain)
		}),
		Runtime:   runtimeCfg,
		Defaults:  metastore.Tunables{CycleInterval: cfg.Scheduler.Interval, BatchSize: cfg.Scheduler.BatchSize},
		Scheduler: sched,
		Feed:      hub,
		Location:  loc,
	}, logger)

	// Start in dependency order; stop in reverse.
	var started []component
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		for i := len(started) - 1; i >= 0; i-- {
			c := started[i]
			if err := c.stop(shutdownCtx); err != nil {
				logger.Warn("component stop failed", "component", c.name, "err", err)
			}
		}
		logger.Info("gatherer stopped")
	}()

	start := func(name string, startFn func(context.Context) error, stopFn func(context.Context) error) error {
		if err := startFn(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		started = append(started, component{name: name, stop: stopFn})
		return nil
	}

	started = append(started, component{name: "feed", stop: func(context.Context) error {
		hub.Close()
		return nil
	}})
	if err := start("http", server.Start, server.Stop); err != nil {
		return err
	}
	if err := start("scheduler", sched.Start, sched.Stop); err != nil {
		return err
	}
	if err := start("retention", pruner.Start, pruner.Stop); err != nil {
		return err
	}

	logger.Info("gatherer running",
		"http_port", cfg.HTTP.Port,
		"batch_size", cfg.Scheduler.BatchSize,
		"interval", cfg.Scheduler.Interval,
		"retention_next", pruner.Next(),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}
