// Package validate enforces structural and semantic correctness of raw
// records before they are eligible for commit. Validation is pure: no I/O,
// no retries, and parsing failures never share an error path with fetch
// failures.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// slugShape matches the platform's event slugs: lowercase alphanumerics
// joined by hyphens or underscores.
var slugShape = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// dateLayouts are the start-date renderings observed on listing cards.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"2 January 2006",
	"02 Jan 2006",
}

// Rejection describes why a specific field of a record was refused.
type Rejection struct {
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("invalid %s: %s", r.Field, r.Reason)
}

// Validator turns raw records into committable activities.
type Validator struct {
	clock scrape.Clock
}

// New constructs a Validator. The clock only feeds the future-event flag.
func New(clock scrape.Clock) *Validator {
	return &Validator{clock: clock}
}

// Validate checks one raw record. On success it returns the activity ready
// for upsert; on failure it returns a *Rejection naming the offending field.
// Rejections never silently coerce: a negative participant count is refused,
// not clamped to zero.
func (v *Validator) Validate(rec scrape.RawRecord) (scrape.Activity, *Rejection) {
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		return scrape.Activity{}, &Rejection{Field: "title", Reason: "empty after trimming"}
	}

	slug := strings.TrimSpace(rec.Slug)
	if slug == "" {
		return scrape.Activity{}, &Rejection{Field: "event_slug", Reason: "missing"}
	}
	if !slugShape.MatchString(slug) {
		return scrape.Activity{}, &Rejection{Field: "event_slug", Reason: fmt.Sprintf("malformed slug %q", slug)}
	}

	participants, rej := parseParticipants(rec.Participants)
	if rej != nil {
		return scrape.Activity{}, rej
	}

	startDate, rej := parseStartDate(rec)
	if rej != nil {
		return scrape.Activity{}, rej
	}

	activity := scrape.Activity{
		EventSlug:    slug,
		URL:          strings.TrimSpace(rec.URL),
		Title:        title,
		Description:  strings.TrimSpace(rec.Description),
		City:         strings.TrimSpace(rec.City),
		CountryCode:  CountryCode(rec.Country),
		Participants: participants,
		ActivityType: strings.TrimSpace(rec.ActivityType),
		StartDate:    startDate,
	}
	if startDate != nil {
		activity.IsFuture = startDate.After(v.clock.Now())
	}
	return activity, nil
}

// parseParticipants accepts an absent count and refuses anything that is not
// a non-negative integer.
func parseParticipants(raw string) (*int, *Rejection) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, &Rejection{Field: "participants", Reason: fmt.Sprintf("not an integer: %q", trimmed)}
	}
	if n < 0 {
		return nil, &Rejection{Field: "participants", Reason: fmt.Sprintf("negative count %d", n)}
	}
	return &n, nil
}

// parseStartDate requires a parseable calendar date unless the card carried
// no dates block at all.
func parseStartDate(rec scrape.RawRecord) (*time.Time, *Rejection) {
	trimmed := strings.TrimSpace(rec.StartDate)
	if trimmed == "" {
		if rec.Undated {
			return nil, nil
		}
		return nil, &Rejection{Field: "start_date", Reason: "missing on a dated record"}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, &Rejection{Field: "start_date", Reason: fmt.Sprintf("unparseable date %q", trimmed)}
}
