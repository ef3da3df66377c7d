// Package coordinator orchestrates one full scraping run.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// Module is the run-status tag for the activities engine.
const Module = "activities"

// Scheduler yields the next sections to crawl, most stale first.
type Scheduler interface {
	NextBatch(ctx context.Context, n int) ([]scrape.Section, error)
}

// Crawler fetches every page of one section.
type Crawler interface {
	Crawl(ctx context.Context, section scrape.Section) (scrape.CrawlOutcome, error)
}

// Ingester validates and commits one crawl outcome.
type Ingester interface {
	Ingest(ctx context.Context, outcome scrape.CrawlOutcome) (scrape.CommitBatch, error)
}

// SectionLookup resolves a single section for scoped runs.
type SectionLookup interface {
	GetSectionBySlug(ctx context.Context, slug string) (scrape.Section, error)
}

// Scope narrows a run to one named section. The zero value means every
// eligible section.
type Scope struct {
	SectionSlug string
}

// Config bounds one run.
type Config struct {
	// BatchSize is how many sections one scheduler call may return.
	BatchSize int
	// Concurrency caps simultaneous section crawls.
	Concurrency int
	// Budget bounds the whole run; zero means no deadline. In-flight crawls
	// finish normally once the budget expires, only dispatch stops.
	Budget time.Duration
}

// Coordinator drives scheduler batches through crawler/ingester pairs under
// a global concurrency cap and reports one RunStatus per run.
type Coordinator struct {
	scheduler Scheduler
	crawler   Crawler
	ingester  Ingester
	lookup    SectionLookup
	runs      scrape.RunStore
	clock     scrape.Clock
	ids       scrape.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

func New(scheduler Scheduler, crawler Crawler, ingester Ingester, lookup SectionLookup, runs scrape.RunStore, clock scrape.Clock, ids scrape.IDGenerator, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		scheduler: scheduler,
		crawler:   crawler,
		ingester:  ingester,
		lookup:    lookup,
		runs:      runs,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// tally accumulates per-section results across workers.
type tally struct {
	mu        sync.Mutex
	completed int
	failed    int
}

func (t *tally) done(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if failed {
		t.failed++
	} else {
		t.completed++
	}
}

// Run executes one full scraping run and always returns a RunStatus, even on
// fatal infrastructure errors. A single section's failure never aborts the
// run; scheduler and run-store errors do.
func (c *Coordinator) Run(ctx context.Context, scope Scope) (scrape.RunStatus, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return scrape.RunStatus{}, fmt.Errorf("generate run id: %w", err)
	}

	run := scrape.RunStatus{
		ID:        id,
		Module:    Module,
		State:     scrape.RunStateRunning,
		StartedAt: c.clock.Now(),
	}
	if err := c.runs.CreateRun(ctx, run); err != nil {
		run.State = scrape.RunStateFailed
		run.ErrorSummary = err.Error()
		return run, fmt.Errorf("create run: %w", err)
	}

	log := c.logger.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.String("scope", scope.SectionSlug))

	runCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Budget)
		defer cancel()
	}

	var counts tally
	runErr := c.dispatch(runCtx, scope, &counts, log)

	run.SectionsProcessed = counts.completed
	run.SectionsFailed = counts.failed
	finished := c.clock.Now()
	run.FinishedAt = &finished

	switch {
	case runErr != nil:
		run.State = scrape.RunStateFailed
		run.ErrorSummary = runErr.Error()
	case runCtx.Err() != nil && ctx.Err() == nil:
		run.State = scrape.RunStateCompleted
		run.ErrorSummary = "run budget exhausted before pool drained"
	default:
		run.State = scrape.RunStateCompleted
	}

	// The final status row must land even when the run was cancelled.
	if err := c.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("finish run: %w", err)
			run.State = scrape.RunStateFailed
			run.ErrorSummary = runErr.Error()
		} else {
			log.Error("finish run", zap.Error(err))
		}
	}

	log.Info("run finished",
		zap.String("state", string(run.State)),
		zap.Int("completed", run.SectionsProcessed),
		zap.Int("failed", run.SectionsFailed))
	return run, runErr
}

// dispatch feeds sections to the worker pool until the eligible pool drains,
// the budget expires, or an infrastructure error surfaces.
func (c *Coordinator) dispatch(ctx context.Context, scope Scope, counts *tally, log *zap.Logger) error {
	if scope.SectionSlug != "" {
		section, err := c.lookup.GetSectionBySlug(ctx, scope.SectionSlug)
		if err != nil {
			return fmt.Errorf("resolve scope: %w", err)
		}
		if !section.Eligible() {
			return fmt.Errorf("section %q is not eligible for crawling", scope.SectionSlug)
		}
		c.processSection(ctx, section, counts, log)
		return nil
	}

	claimed := make(map[int64]bool)
	for ctx.Err() == nil {
		// Already-claimed sections that failed are still the stalest entries,
		// so over-request by the claimed count to keep making progress.
		batch, err := c.scheduler.NextBatch(ctx, c.cfg.BatchSize+len(claimed))
		if err != nil {
			return fmt.Errorf("schedule batch: %w", err)
		}

		fresh := batch[:0]
		for _, section := range batch {
			if !claimed[section.ID] && len(fresh) < c.cfg.BatchSize {
				claimed[section.ID] = true
				fresh = append(fresh, section)
			}
		}
		if len(fresh) == 0 {
			return nil
		}

		g := new(errgroup.Group)
		g.SetLimit(c.cfg.Concurrency)
		for _, section := range fresh {
			g.Go(func() error {
				c.processSection(ctx, section, counts, log)
				return nil
			})
		}
		_ = g.Wait()
	}
	return nil
}

// processSection runs one crawl/ingest pair. Every error here is a section
// failure, not a run failure: the crawl or commit simply did not happen and
// the section stays stale for the next run.
func (c *Coordinator) processSection(ctx context.Context, section scrape.Section, counts *tally, log *zap.Logger) {
	outcome, err := c.crawler.Crawl(ctx, section)
	if err != nil {
		log.Warn("section crawl aborted",
			zap.String("section", section.ActivitiesSlug),
			zap.Error(err))
		counts.done(true)
		return
	}

	batch, err := c.ingester.Ingest(ctx, outcome)
	if err != nil {
		log.Warn("section commit failed",
			zap.String("section", section.ActivitiesSlug),
			zap.Error(err))
		counts.done(true)
		return
	}
	counts.done(batch.Outcome != scrape.SectionStatusCompleted)
}
