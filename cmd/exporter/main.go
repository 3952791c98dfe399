package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/oi-gatherer/internal/config"
	"github.com/rickgao/oi-gatherer/internal/database"
	"github.com/rickgao/oi-gatherer/internal/export"
	"github.com/rickgao/oi-gatherer/internal/logging"
	"github.com/rickgao/oi-gatherer/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file")
	symbol := flag.String("symbol", "", "instrument symbol (required)")
	date := flag.String("date", "", "trade date YYYY-MM-DD (default: today in the market timezone)")
	out := flag.String("out", "", "output file (default: <SYMBOL>_<DATE>.xlsx)")
	flag.Parse()

	if err := run(*configPath, *envPath, *symbol, *date, *out); err != nil {
		fmt.Fprintln(os.Stderr, "exporter:", err)
		os.Exit(1)
	}
}

func run(configPath, envPath, symbol, date, out string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("-symbol is required")
	}

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

	loc := cfg.Market.Location()
	day := time.Now().In(loc)
	if date != "" {
		if day, err = time.ParseInLocation(time.DateOnly, date, loc); err != nil {
			return fmt.Errorf("invalid -date %q: %w", date, err)
		}
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	if out == "" {
		out = fmt.Sprintf("%s_%s.xlsx", symbol, day.Format(time.DateOnly))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Write to a temp file in the target directory so a failed export never
	// leaves a truncated workbook at out.
	tmp, err := os.CreateTemp(filepath.Dir(out), ".export-*.xlsx")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	res, err := export.WriteDay(ctx, store.NewPostgres(pool, loc, logger), symbol, day, tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return err
	}

	logger.Info("export complete",
		"symbol", res.Symbol,
		"date", day.Format(time.DateOnly),
		"snapshots", res.Snapshots,
		"strikes", res.Strikes,
		"out", out,
	)
	return nil
}
