package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

type fakeSectionStore struct {
	sections []scrape.Section
	err      error
}

func (f *fakeSectionStore) ListEligible(context.Context) ([]scrape.Section, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]scrape.Section, len(f.sections))
	copy(out, f.sections)
	return out, nil
}

func (f *fakeSectionStore) MarkInProgress(context.Context, int64) error { return nil }

func ts(day int) *time.Time {
	t := time.Date(2026, 5, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestNextBatchOrdersByStaleness(t *testing.T) {
	t.Parallel()

	store := &fakeSectionStore{sections: []scrape.Section{
		{ID: 1, ActivitiesSlug: "esn-uppsala", LastScraped: ts(20)},
		{ID: 2, ActivitiesSlug: "esn-porto"},
		{ID: 3, ActivitiesSlug: "esn-madrid", LastScraped: ts(5)},
		{ID: 4, ActivitiesSlug: "esn-milano"},
	}}

	sched := New(store, zap.NewNop())
	batch, err := sched.NextBatch(context.Background(), 10)
	require.NoError(t, err)

	var order []int64
	for _, sec := range batch {
		order = append(order, sec.ID)
	}
	// Never-scraped sections lead, then oldest last_scraped.
	require.Equal(t, []int64{2, 4, 3, 1}, order)
}

func TestNextBatchBreaksTiesByAttemptThenID(t *testing.T) {
	t.Parallel()

	store := &fakeSectionStore{sections: []scrape.Section{
		{ID: 9, LastScraped: ts(1), LastAttempt: ts(12)},
		{ID: 3, LastScraped: ts(1), LastAttempt: ts(10)},
		{ID: 5, LastScraped: ts(1), LastAttempt: ts(10)},
		{ID: 2, LastScraped: ts(1), LastAttempt: ts(10)},
	}}

	sched := New(store, zap.NewNop())
	batch, err := sched.NextBatch(context.Background(), 10)
	require.NoError(t, err)

	var order []int64
	for _, sec := range batch {
		order = append(order, sec.ID)
	}
	require.Equal(t, []int64{2, 3, 5, 9}, order)
}

func TestNextBatchTruncatesAndFilters(t *testing.T) {
	t.Parallel()

	no := false
	store := &fakeSectionStore{sections: []scrape.Section{
		{ID: 1},
		{ID: 2, CanScrape: &no},
		{ID: 3},
		{ID: 4},
	}}

	sched := New(store, zap.NewNop())
	batch, err := sched.NextBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, sec := range batch {
		require.NotEqual(t, int64(2), sec.ID)
	}
}

func TestNextBatchZeroRequest(t *testing.T) {
	t.Parallel()

	sched := New(&fakeSectionStore{}, zap.NewNop())
	batch, err := sched.NextBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestNextBatchPropagatesStoreError(t *testing.T) {
	t.Parallel()

	sched := New(&fakeSectionStore{err: errors.New("db down")}, zap.NewNop())
	_, err := sched.NextBatch(context.Background(), 5)
	require.ErrorContains(t, err, "db down")
}

func TestNextBatchDeterministicAcrossCalls(t *testing.T) {
	t.Parallel()

	store := &fakeSectionStore{sections: []scrape.Section{
		{ID: 7, LastScraped: ts(2)},
		{ID: 1},
		{ID: 4, LastScraped: ts(2)},
	}}

	sched := New(store, zap.NewNop())
	first, err := sched.NextBatch(context.Background(), 3)
	require.NoError(t, err)
	second, err := sched.NextBatch(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
