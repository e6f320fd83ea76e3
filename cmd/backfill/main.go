package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"OptionPull/internal/di"
	"OptionPull/internal/domain/service"
	"OptionPull/internal/repository"
	"OptionPull/internal/usecase"
	"OptionPull/pkg/config"
	applogger "OptionPull/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	file := flag.String("file", "", "CSV export to import (default stdin)")
	reprice := flag.Bool("reprice", false, "recompute analytics for liquid rows")
	policy := flag.String("policy", string(repository.KeepFirst), "conflict policy: keep_first or last_write_wins")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfg.Database.ConflictPolicy = *policy
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	l, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rep, err := run(ctx, cfg, l, *file, *reprice)
	stop()
	if err != nil {
		l.Error("backfill failed", applogger.Error(err), applogger.Int("imported", rep.Imported))
		os.Exit(1)
	}
}

// run owns every resource it opens so they are released before main exits.
func run(ctx context.Context, cfg *config.Config, l *applogger.Logger, file string, reprice bool) (usecase.BackfillReport, error) {
	store, err := di.ProvideSnapshotStore(cfg, l)
	if err != nil {
		return usecase.BackfillReport{}, fmt.Errorf("store: %w", err)
	}
	defer store.Close()

	var in io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return usecase.BackfillReport{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var pricer service.Enricher
	if reprice {
		pricer = di.ProvidePricingEngine(cfg)
	}
	return usecase.NewBackfill(store, pricer, cfg.Upstream.Symbol, cfg.Database.BatchSize, l).Import(ctx, in)
}
