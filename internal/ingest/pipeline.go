// Package ingest validates crawled records and commits them per section.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/metrics"
	"github.com/esnpulse/pulse-crawler/internal/scrape"
	"github.com/esnpulse/pulse-crawler/internal/validate"
)

// Pipeline turns one crawl outcome into a single atomic commit: validated
// activities upsert, rejections land in the validation log, and the section's
// freshness metadata flips to its terminal state, all in one transaction.
type Pipeline struct {
	validator *validate.Validator
	store     scrape.BatchStore
	clock     scrape.Clock
	logger    *zap.Logger
}

func New(validator *validate.Validator, store scrape.BatchStore, clock scrape.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{validator: validator, store: store, clock: clock, logger: logger}
}

// Ingest validates every raw record and commits the batch. A rejected record
// is dropped from the commit but never blocks its siblings. Only store errors
// propagate; the caller treats them as a retriable section failure because
// the rollback leaves freshness metadata untouched.
func (p *Pipeline) Ingest(ctx context.Context, outcome scrape.CrawlOutcome) (scrape.CommitBatch, error) {
	attempted := p.clock.Now()

	batch := scrape.CommitBatch{
		Section:      outcome.Section,
		Outcome:      scrape.SectionStatusFailed,
		CrawlStarted: outcome.StartedAt,
		AttemptedAt:  attempted,
	}
	if outcome.Succeeded() {
		batch.Outcome = scrape.SectionStatusCompleted
	}

	for _, raw := range outcome.Records {
		activity, rej := p.validator.Validate(raw)
		if rej != nil {
			batch.Rejections = append(batch.Rejections, scrape.ValidationFailure{
				SectionID:  outcome.Section.ID,
				EventSlug:  raw.Slug,
				Field:      rej.Field,
				Message:    rej.Reason,
				Raw:        raw,
				OccurredAt: attempted,
			})
			continue
		}
		activity.SectionID = outcome.Section.ID
		batch.Activities = append(batch.Activities, activity)
	}

	metrics.ObserveRecords("upserted", len(batch.Activities))
	metrics.ObserveRecords("rejected", len(batch.Rejections))

	if err := p.store.CommitBatch(ctx, batch); err != nil {
		return batch, fmt.Errorf("commit section %q: %w", outcome.Section.ActivitiesSlug, err)
	}
	metrics.ObserveSection(string(batch.Outcome))

	p.logger.Info("section batch committed",
		zap.String("section", outcome.Section.ActivitiesSlug),
		zap.String("outcome", string(batch.Outcome)),
		zap.Int("accepted", len(batch.Activities)),
		zap.Int("rejected", len(batch.Rejections)))
	return batch, nil
}
