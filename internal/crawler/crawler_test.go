package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/fetch"
	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

const testBase = "https://activities.example.org"

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
}

type fakeResponse struct {
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (scrape.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	resp, ok := f.responses[url]
	f.mu.Unlock()

	if !ok {
		return scrape.FetchResult{}, &fetch.PermanentError{URL: url, Status: 404}
	}
	if resp.err != nil {
		return scrape.FetchResult{}, resp.err
	}
	return scrape.FetchResult{URL: url, StatusCode: 200, Body: resp.body, Attempts: 1}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSections struct {
	mu      sync.Mutex
	claimed []int64
	err     error
}

func (f *fakeSections) ListEligible(context.Context) ([]scrape.Section, error) { return nil, nil }

func (f *fakeSections) MarkInProgress(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.claimed = append(f.claimed, id)
	return nil
}

type fakeFetchLog struct {
	mu       sync.Mutex
	failures []scrape.FailedFetch
	err      error
}

func (f *fakeFetchLog) RecordFailedFetch(_ context.Context, failure scrape.FailedFetch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.failures = append(f.failures, failure)
	return nil
}

func (f *fakeFetchLog) recorded() []scrape.FailedFetch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scrape.FailedFetch, len(f.failures))
	copy(out, f.failures)
	return out
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// listingPage renders a minimal listing page with the given activity slugs.
// lastPage, when non-negative, adds the pager "last" link carrying the
// zero-based page hint; hasNext adds the next link.
func listingPage(slugs []string, hasNext bool, lastPage int) []byte {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, slug := range slugs {
		fmt.Fprintf(&b, `
<article class="activities-mini-preview">
  <span class="activity-label">Event %s</span>
  <a class="url" href="/activity/%s"></a>
  <div class="highlight-dates-single"><span>10/07/2026</span></div>
  <div class="highlight-data-text"><span>Uppsala, Sweden</span></div>
</article>`, slug, slug)
	}
	b.WriteString(`<ul class="pager">`)
	if hasNext {
		b.WriteString(`<li class="pager__item--next"><a href="?page=1">Next</a></li>`)
	}
	if lastPage >= 0 {
		fmt.Fprintf(&b, `<li class="pager__item--last"><a href="?page=%d">Last</a></li>`, lastPage)
	}
	b.WriteString(`</ul></body></html>`)
	return []byte(b.String())
}

func pageURLFor(slug string, page int) string {
	return fmt.Sprintf("%s/organisation/%s/activities?page=%d", testBase, slug, page)
}

func newTestCrawler(fetcher *fakeFetcher, sections *fakeSections, log *fakeFetchLog) *Crawler {
	return New(fetcher, sections, log,
		fixedClock{at: time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)},
		Config{BaseURL: testBase, ChunkSize: 2},
		zap.NewNop())
}

func TestCrawlSinglePage(t *testing.T) {
	t.Parallel()

	section := scrape.Section{ID: 1, ActivitiesSlug: "esn-uppsala"}
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURLFor("esn-uppsala", 0): {body: listingPage([]string{"fika", "hike"}, false, -1)},
	}}
	sections := &fakeSections{}
	log := &fakeFetchLog{}

	outcome, err := newTestCrawler(fetcher, sections, log).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.Equal(t, []int64{1}, sections.claimed)
	require.Equal(t, 1, outcome.PagesSucceeded)
	require.Zero(t, outcome.PagesFailed)
	require.Len(t, outcome.Records, 2)
	require.True(t, outcome.Succeeded())
	require.Equal(t, 1, fetcher.callCount())
	require.Empty(t, log.recorded())
}

func TestCrawlChunkedWithHint(t *testing.T) {
	t.Parallel()

	section := scrape.Section{ID: 2, ActivitiesSlug: "esn-porto"}
	responses := map[string]fakeResponse{
		pageURLFor("esn-porto", 0): {body: listingPage([]string{"p0a", "p0b"}, true, 2)},
		pageURLFor("esn-porto", 1): {body: listingPage([]string{"p1a", "p1b"}, true, 2)},
		pageURLFor("esn-porto", 2): {body: listingPage([]string{"p2a"}, false, 2)},
	}
	fetcher := &fakeFetcher{responses: responses}
	log := &fakeFetchLog{}

	outcome, err := newTestCrawler(fetcher, &fakeSections{}, log).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.Equal(t, 3, outcome.PagesSucceeded)
	require.Len(t, outcome.Records, 5)
	require.Equal(t, 3, fetcher.callCount())

	var slugs []string
	for _, rec := range outcome.Records {
		slugs = append(slugs, rec.Slug)
	}
	require.ElementsMatch(t, []string{"p0a", "p0b", "p1a", "p1b", "p2a"}, slugs)
}

func TestCrawlMidPageFailureStillCompletes(t *testing.T) {
	t.Parallel()

	section := scrape.Section{ID: 3, ActivitiesSlug: "esn-milano"}
	failedURL := pageURLFor("esn-milano", 1)
	responses := map[string]fakeResponse{
		pageURLFor("esn-milano", 0): {body: listingPage([]string{"a", "b"}, true, 2)},
		failedURL: {err: &fetch.ExhaustedError{
			URL: failedURL, LastStatus: 502, Attempts: 3,
		}},
		pageURLFor("esn-milano", 2): {body: listingPage([]string{"c"}, false, 2)},
	}
	fetcher := &fakeFetcher{responses: responses}
	log := &fakeFetchLog{}

	outcome, err := newTestCrawler(fetcher, &fakeSections{}, log).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.Equal(t, 2, outcome.PagesSucceeded)
	require.Equal(t, 1, outcome.PagesFailed)
	require.True(t, outcome.Succeeded())
	require.Len(t, outcome.Records, 3)

	failures := log.recorded()
	require.Len(t, failures, 1)
	require.Equal(t, failedURL, failures[0].URL)
	require.Equal(t, 3, failures[0].RetryCount)
	require.NotNil(t, failures[0].StatusCode)
	require.Equal(t, 502, *failures[0].StatusCode)
	require.Equal(t, int64(3), failures[0].SectionID)
}

func TestCrawlAllPagesFail(t *testing.T) {
	t.Parallel()

	section := scrape.Section{ID: 4, ActivitiesSlug: "esn-ghost"}
	url0 := pageURLFor("esn-ghost", 0)
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		url0: {err: &fetch.ExhaustedError{URL: url0, Attempts: 3}},
	}}
	log := &fakeFetchLog{}

	outcome, err := newTestCrawler(fetcher, &fakeSections{}, log).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.False(t, outcome.Succeeded())
	require.Equal(t, 1, outcome.PagesFailed)
	require.Empty(t, outcome.Records)

	failures := log.recorded()
	require.Len(t, failures, 1)
	require.Nil(t, failures[0].StatusCode)
}

func TestCrawlSequentialWithoutHint(t *testing.T) {
	t.Parallel()

	section := scrape.Section{ID: 5, ActivitiesSlug: "esn-madrid"}
	responses := map[string]fakeResponse{
		pageURLFor("esn-madrid", 0): {body: listingPage([]string{"a"}, true, -1)},
		pageURLFor("esn-madrid", 1): {body: listingPage([]string{"b"}, true, -1)},
		pageURLFor("esn-madrid", 2): {body: listingPage([]string{"c"}, false, -1)},
	}
	fetcher := &fakeFetcher{responses: responses}

	outcome, err := newTestCrawler(fetcher, &fakeSections{}, &fakeFetchLog{}).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.Equal(t, 3, outcome.PagesSucceeded)
	require.Len(t, outcome.Records, 3)
	// Sequential discovery fetches in order and never overshoots.
	require.Equal(t, []string{
		pageURLFor("esn-madrid", 0),
		pageURLFor("esn-madrid", 1),
		pageURLFor("esn-madrid", 2),
	}, fetcher.calls)
}

func TestCrawlSequential404EndsPagination(t *testing.T) {
	t.Parallel()

	// The page claims a next link but the following page 404s, which ends
	// pagination without failing the section.
	section := scrape.Section{ID: 6, ActivitiesSlug: "esn-lyon"}
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURLFor("esn-lyon", 0): {body: listingPage([]string{"a"}, true, -1)},
	}}
	log := &fakeFetchLog{}

	outcome, err := newTestCrawler(fetcher, &fakeSections{}, log).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.True(t, outcome.Succeeded())
	require.Equal(t, 1, outcome.PagesSucceeded)
	require.Equal(t, 1, outcome.PagesSkipped)
	require.Empty(t, log.recorded())
}

func TestCrawlHintOvershootSkipsPlannedPage(t *testing.T) {
	t.Parallel()

	// Hint says three pages, but only two exist; planned page 2 404s and is
	// skipped rather than recorded as a failure.
	section := scrape.Section{ID: 7, ActivitiesSlug: "esn-oslo"}
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURLFor("esn-oslo", 0): {body: listingPage([]string{"a"}, true, 2)},
		pageURLFor("esn-oslo", 1): {body: listingPage([]string{"b"}, false, 2)},
	}}
	log := &fakeFetchLog{}

	outcome, err := newTestCrawler(fetcher, &fakeSections{}, log).Crawl(context.Background(), section)
	require.NoError(t, err)

	require.Equal(t, 2, outcome.PagesSucceeded)
	require.Zero(t, outcome.PagesFailed)
	require.Empty(t, log.recorded())
	require.Len(t, outcome.Records, 2)
}

func TestCrawlClaimFailureIsFatal(t *testing.T) {
	t.Parallel()

	sections := &fakeSections{err: errors.New("db down")}
	fetcher := &fakeFetcher{}

	_, err := newTestCrawler(fetcher, sections, &fakeFetchLog{}).Crawl(
		context.Background(), scrape.Section{ID: 8, ActivitiesSlug: "esn-bern"})
	require.ErrorContains(t, err, "db down")
	require.Zero(t, fetcher.callCount())
}

func TestCrawlFetchLogErrorPropagates(t *testing.T) {
	t.Parallel()

	section := scrape.Section{ID: 9, ActivitiesSlug: "esn-kiel"}
	url0 := pageURLFor("esn-kiel", 0)
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		url0: {err: &fetch.ExhaustedError{URL: url0, Attempts: 3}},
	}}
	log := &fakeFetchLog{err: errors.New("insert failed")}

	_, err := newTestCrawler(fetcher, &fakeSections{}, log).Crawl(context.Background(), section)
	require.ErrorContains(t, err, "insert failed")
}

func TestCrawlContextCancellationPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	section := scrape.Section{ID: 10, ActivitiesSlug: "esn-riga"}
	url0 := pageURLFor("esn-riga", 0)
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		url0: {err: context.Canceled},
	}}

	_, err := newTestCrawler(fetcher, &fakeSections{}, &fakeFetchLog{}).Crawl(ctx, section)
	require.ErrorIs(t, err, context.Canceled)
}
