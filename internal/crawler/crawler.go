// Package crawler drives one section's pagination discovery and page fetches.
package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/esnpulse/pulse-crawler/internal/fetch"
	"github.com/esnpulse/pulse-crawler/internal/metrics"
	"github.com/esnpulse/pulse-crawler/internal/parse"
	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// Config controls one Crawler instance.
type Config struct {
	// BaseURL is the activities platform root, without a trailing slash.
	BaseURL string
	// ChunkSize is how many pages fetch concurrently per chunk.
	ChunkSize int
	// MaxPages caps sequential discovery so a broken pager cannot loop forever.
	MaxPages int
}

const (
	defaultChunkSize = 5
	defaultMaxPages  = 300
)

// Crawler fetches every listing page of one section and aggregates the raw
// records. It claims the section before starting; the terminal status write
// belongs to the ingestion pipeline.
type Crawler struct {
	fetcher  scrape.Fetcher
	sections scrape.SectionStore
	fetchLog scrape.FetchLog
	clock    scrape.Clock
	cfg      Config
	logger   *zap.Logger
}

func New(fetcher scrape.Fetcher, sections scrape.SectionStore, fetchLog scrape.FetchLog, clock scrape.Clock, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		fetcher:  fetcher,
		sections: sections,
		fetchLog: fetchLog,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// pageResult is one page's fetch-and-parse outcome within a chunk. A page is
// either parsed (ok), skipped (pagination ran out under it), or failed.
type pageResult struct {
	listing parse.Listing
	ok      bool
	skipped bool
}

// Crawl walks every listing page of the section. Individual page failures are
// logged and absorbed; only infrastructure errors and cancellation propagate.
func (c *Crawler) Crawl(ctx context.Context, section scrape.Section) (scrape.CrawlOutcome, error) {
	outcome := scrape.CrawlOutcome{Section: section}

	if err := c.sections.MarkInProgress(ctx, section.ID); err != nil {
		return outcome, fmt.Errorf("claim section %q: %w", section.ActivitiesSlug, err)
	}
	outcome.StartedAt = c.clock.Now()

	metrics.CrawlStarted()
	defer metrics.CrawlFinished()

	log := c.logger.With(
		zap.String("section", section.ActivitiesSlug),
		zap.Int64("section_id", section.ID))

	first, err := c.fetchPage(ctx, &outcome, 0)
	if err != nil {
		return outcome, err
	}
	if !first.ok {
		log.Warn("first listing page unavailable",
			zap.Int("pages_failed", outcome.PagesFailed))
		return outcome, nil
	}
	if !first.listing.HasNext {
		log.Info("crawl finished",
			zap.Int("pages", outcome.PagesSucceeded),
			zap.Int("records", len(outcome.Records)))
		return outcome, nil
	}

	// The pager "last" link gives a total-page hint we can pre-plan chunks
	// from; the missing-next indicator stays authoritative, so after the
	// planned pages we keep walking sequentially if a next link remains.
	nextPage := 1
	if hint := first.listing.TotalPagesHint; hint > 1 {
		last, err := c.crawlChunks(ctx, &outcome, 1, hint)
		if err != nil {
			return outcome, err
		}
		nextPage = hint
		if last.ok && !last.listing.HasNext {
			nextPage = -1
		}
	}

	if nextPage > 0 {
		if err := c.crawlSequential(ctx, &outcome, nextPage); err != nil {
			return outcome, err
		}
	}

	log.Info("crawl finished",
		zap.Int("pages", outcome.PagesSucceeded),
		zap.Int("pages_failed", outcome.PagesFailed),
		zap.Int("records", len(outcome.Records)))
	return outcome, nil
}

// crawlChunks fetches pages [from, to) in chunks of ChunkSize. Every page of
// a chunk completes before the next chunk starts. Returns the result of the
// highest-numbered page so the caller can honor its next indicator.
func (c *Crawler) crawlChunks(ctx context.Context, outcome *scrape.CrawlOutcome, from, to int) (pageResult, error) {
	var last pageResult
	for start := from; start < to; start += c.cfg.ChunkSize {
		end := min(start+c.cfg.ChunkSize, to)

		results := make([]pageResult, end-start)
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := c.fetchChunkPage(gctx, outcome.Section, i)
				if err != nil {
					return err
				}
				results[i-start] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return pageResult{}, err
		}

		for _, res := range results {
			c.absorb(outcome, res)
		}
		last = results[len(results)-1]
	}
	return last, nil
}

// crawlSequential walks pages one at a time until the next indicator
// disappears, a page fails terminally, or the safety cap is hit.
func (c *Crawler) crawlSequential(ctx context.Context, outcome *scrape.CrawlOutcome, from int) error {
	for page := from; page < c.cfg.MaxPages; page++ {
		res, err := c.fetchPage(ctx, outcome, page)
		if err != nil {
			return err
		}
		if !res.ok || !res.listing.HasNext {
			return nil
		}
	}
	c.logger.Warn("page cap reached during sequential discovery",
		zap.String("section", outcome.Section.ActivitiesSlug),
		zap.Int("max_pages", c.cfg.MaxPages))
	return nil
}

// fetchPage fetches and parses one page during sequential discovery, folding
// the result into the outcome. A 404 here means the pagination ran out.
func (c *Crawler) fetchPage(ctx context.Context, outcome *scrape.CrawlOutcome, page int) (pageResult, error) {
	url := c.pageURL(outcome.Section.ActivitiesSlug, page)

	result, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		var perm *fetch.PermanentError
		if errors.As(err, &perm) && perm.Status == 404 && page > 0 {
			outcome.PagesSkipped++
			return pageResult{}, nil
		}
		return pageResult{}, c.absorbFetchError(ctx, outcome, err)
	}

	listing, err := parse.ParseListing(result.Body)
	if err != nil {
		outcome.PagesFailed++
		c.logger.Warn("unparseable listing page", zap.String("url", url), zap.Error(err))
		return pageResult{}, nil
	}

	res := pageResult{listing: listing, ok: true}
	c.absorb(outcome, res)
	return res, nil
}

// fetchChunkPage fetches and parses one page inside a concurrent chunk. The
// caller absorbs the result after the chunk barrier; only failure records are
// written here. A 404 on a planned page means the hint overshot the real page
// count, which is not an error.
func (c *Crawler) fetchChunkPage(ctx context.Context, section scrape.Section, page int) (pageResult, error) {
	url := c.pageURL(section.ActivitiesSlug, page)

	result, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		var perm *fetch.PermanentError
		if errors.As(err, &perm) && perm.Status == 404 {
			return pageResult{skipped: true}, nil
		}
		failure, terminal := c.asFailure(section, err)
		if !terminal {
			return pageResult{}, err
		}
		if logErr := c.fetchLog.RecordFailedFetch(ctx, failure); logErr != nil {
			return pageResult{}, fmt.Errorf("record failed fetch: %w", logErr)
		}
		return pageResult{}, nil
	}

	listing, err := parse.ParseListing(result.Body)
	if err != nil {
		c.logger.Warn("unparseable listing page", zap.String("url", url), zap.Error(err))
		return pageResult{}, nil
	}
	return pageResult{listing: listing, ok: true}, nil
}

// absorb folds one parsed page into the aggregate. Record order follows page
// order inside a chunk, which keeps tests deterministic even though consumers
// treat the collection as a set.
func (c *Crawler) absorb(outcome *scrape.CrawlOutcome, res pageResult) {
	if res.skipped {
		outcome.PagesSkipped++
		return
	}
	if !res.ok {
		outcome.PagesFailed++
		return
	}
	outcome.PagesSucceeded++
	outcome.Records = append(outcome.Records, res.listing.Records...)
	if res.listing.Skipped > 0 {
		c.logger.Debug("skipped malformed entries",
			zap.String("section", outcome.Section.ActivitiesSlug),
			zap.Int("skipped", res.listing.Skipped))
	}
}

// absorbFetchError records a terminal fetch failure or propagates an
// infrastructure error.
func (c *Crawler) absorbFetchError(ctx context.Context, outcome *scrape.CrawlOutcome, err error) error {
	failure, terminal := c.asFailure(outcome.Section, err)
	if !terminal {
		return err
	}
	outcome.PagesFailed++
	if logErr := c.fetchLog.RecordFailedFetch(ctx, failure); logErr != nil {
		return fmt.Errorf("record failed fetch: %w", logErr)
	}
	return nil
}

// asFailure converts a fetch error into a FailedFetch row. Terminal is false
// for cancellation and anything else that should propagate instead of being
// absorbed.
func (c *Crawler) asFailure(section scrape.Section, err error) (scrape.FailedFetch, bool) {
	failure := scrape.FailedFetch{
		SectionID:  section.ID,
		Message:    err.Error(),
		OccurredAt: c.clock.Now(),
	}

	var exhausted *fetch.ExhaustedError
	var perm *fetch.PermanentError
	switch {
	case errors.As(err, &exhausted):
		failure.URL = exhausted.URL
		failure.RetryCount = exhausted.Attempts
		if exhausted.LastStatus != 0 {
			status := exhausted.LastStatus
			failure.StatusCode = &status
		}
		return failure, true
	case errors.As(err, &perm):
		failure.URL = perm.URL
		status := perm.Status
		failure.StatusCode = &status
		return failure, true
	default:
		return scrape.FailedFetch{}, false
	}
}

func (c *Crawler) pageURL(slug string, page int) string {
	return fmt.Sprintf("%s/organisation/%s/activities?page=%d", c.cfg.BaseURL, slug, page)
}
