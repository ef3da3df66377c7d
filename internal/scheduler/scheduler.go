// Package scheduler decides which sections to crawl next, most stale first.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// Scheduler orders eligible sections by staleness. It never mutates section
// state; claiming a section is the crawler's job.
type Scheduler struct {
	sections scrape.SectionStore
	logger   *zap.Logger
}

func New(sections scrape.SectionStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{sections: sections, logger: logger}
}

// NextBatch returns up to n sections in crawl priority order: sections never
// scraped come first, then ascending last_scraped, with last_attempt and id
// breaking ties so repeated calls over the same snapshot agree.
func (s *Scheduler) NextBatch(ctx context.Context, n int) ([]scrape.Section, error) {
	if n <= 0 {
		return nil, nil
	}

	sections, err := s.sections.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("load eligible sections: %w", err)
	}

	eligible := sections[:0]
	for _, sec := range sections {
		if sec.Eligible() {
			eligible = append(eligible, sec)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return staler(eligible[i], eligible[j])
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}
	s.logger.Debug("scheduled section batch",
		zap.Int("requested", n),
		zap.Int("returned", len(eligible)))
	return eligible, nil
}

// staler reports whether a should be crawled before b.
func staler(a, b scrape.Section) bool {
	switch {
	case a.LastScraped == nil && b.LastScraped != nil:
		return true
	case a.LastScraped != nil && b.LastScraped == nil:
		return false
	case a.LastScraped != nil && b.LastScraped != nil && !a.LastScraped.Equal(*b.LastScraped):
		return a.LastScraped.Before(*b.LastScraped)
	}

	switch {
	case a.LastAttempt == nil && b.LastAttempt != nil:
		return true
	case a.LastAttempt != nil && b.LastAttempt == nil:
		return false
	case a.LastAttempt != nil && b.LastAttempt != nil && !a.LastAttempt.Equal(*b.LastAttempt):
		return a.LastAttempt.Before(*b.LastAttempt)
	}

	return a.ID < b.ID
}
