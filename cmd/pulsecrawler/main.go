// Command pulsecrawler runs one scraping pass over the activities platform.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/api"
	"github.com/esnpulse/pulse-crawler/internal/clock/system"
	"github.com/esnpulse/pulse-crawler/internal/config"
	"github.com/esnpulse/pulse-crawler/internal/coordinator"
	"github.com/esnpulse/pulse-crawler/internal/crawler"
	"github.com/esnpulse/pulse-crawler/internal/fetch"
	collyfetcher "github.com/esnpulse/pulse-crawler/internal/fetcher/colly"
	uuidgen "github.com/esnpulse/pulse-crawler/internal/id/uuid"
	"github.com/esnpulse/pulse-crawler/internal/ingest"
	"github.com/esnpulse/pulse-crawler/internal/logging"
	"github.com/esnpulse/pulse-crawler/internal/metrics"
	"github.com/esnpulse/pulse-crawler/internal/policy/ratelimit"
	"github.com/esnpulse/pulse-crawler/internal/scheduler"
	"github.com/esnpulse/pulse-crawler/internal/scrape"
	"github.com/esnpulse/pulse-crawler/internal/store/postgres"
	"github.com/esnpulse/pulse-crawler/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars work too)")
	sectionSlug := flag.String("section", "", "crawl only this section slug")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *sectionSlug, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, sectionSlug string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		UpsertBatchSize: cfg.Ingestion.UpsertBatchSize,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}

	clock := system.New()
	gate := ratelimit.New(ratelimit.Config{MinInterval: cfg.RequestDelay()})
	transport := collyfetcher.New(collyfetcher.Config{Timeout: cfg.RequestTimeout()})
	fetcher := fetch.New(transport, gate, fetch.Config{
		MaxAttempts: cfg.HTTP.MaxRetries,
	}, logger)

	sched := scheduler.New(store, logger)
	crawl := crawler.New(fetcher, store, store, clock, crawler.Config{
		BaseURL:   cfg.Platform.BaseURL,
		ChunkSize: cfg.Scraper.PageChunkSize,
	}, logger)
	pipeline := ingest.New(validate.New(clock), store, clock, logger)

	coord := coordinator.New(sched, crawl, pipeline, store, store, clock, uuidgen.New(),
		coordinator.Config{
			BatchSize:   cfg.Scraper.BatchSize,
			Concurrency: cfg.Scraper.Concurrency,
			Budget:      cfg.RunBudget(),
		}, logger)

	ops := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(store, api.NewOutboundProbe(nil, cfg.Platform.BaseURL), logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", zap.String("addr", ops.Addr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	status, err := coord.Run(ctx, coordinator.Scope{SectionSlug: sectionSlug})
	logger.Info("scrape run summary",
		zap.String("run_id", status.ID),
		zap.String("state", string(status.State)),
		zap.Int("sections_completed", status.SectionsProcessed),
		zap.Int("sections_failed", status.SectionsFailed),
		zap.String("error_summary", status.ErrorSummary))
	if err != nil {
		return err
	}
	if status.State == scrape.RunStateFailed {
		return fmt.Errorf("run %s failed: %s", status.ID, status.ErrorSummary)
	}
	return nil
}
