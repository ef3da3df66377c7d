// Package parse extracts raw activity records and pagination metadata from
// fetched listing pages. It performs no validation: malformed field values
// pass through as raw strings for the validator to judge.
package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// Selectors for the activities platform listing markup. The platform renders
// two card variants (physical and online activities) with shared classes.
const (
	selCard         = "article.activities-mini-preview"
	selTitle        = ".activity-label, .eg-c-card-title a"
	selLink         = "a.url"
	selDescription  = ".ct-physical-activity__field-ct-act-description .field__item, .ct-online-activity__field-ct-act-description .field__item"
	selDates        = ".highlight-dates-single span"
	selLocation     = ".highlight-data-text span"
	selParticipants = ".highlight-data-number .highlight-data-text-big"
	selActivityType = ".activity-types .activity-type a"
	selPagerNext    = ".pager__item--next a"
	selPagerLast    = ".pager__item--last a"
)

// Listing is the parsed content of one listing page.
type Listing struct {
	Records []scrape.RawRecord
	// HasNext reports the presence of the "next page" pager item; its absence
	// is the authoritative end-of-pagination signal.
	HasNext bool
	// TotalPagesHint is the page count derived from the pager "last" link, or
	// zero when the pager offers none. It is an optimization only.
	TotalPagesHint int
	// Skipped counts entries abandoned because no identity could be read.
	Skipped int
}

// ParseListing extracts every activity card from page body. A malformed card
// never aborts the rest of the page; it is counted in Skipped instead.
func ParseListing(body []byte) (Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Listing{}, fmt.Errorf("parse listing html: %w", err)
	}

	var listing Listing
	doc.Find(selCard).Each(func(_ int, card *goquery.Selection) {
		rec, ok := parseCard(card)
		if !ok {
			listing.Skipped++
			return
		}
		listing.Records = append(listing.Records, rec)
	})

	listing.HasNext = doc.Find(selPagerNext).Length() > 0
	listing.TotalPagesHint = totalPagesHint(doc)
	return listing, nil
}

// parseCard reads one activity card. A card with neither a slug nor a title
// has no usable identity and is reported as unparseable.
func parseCard(card *goquery.Selection) (scrape.RawRecord, bool) {
	rec := scrape.RawRecord{
		Title:        strings.TrimSpace(card.Find(selTitle).First().Text()),
		Description:  strings.TrimSpace(card.Find(selDescription).First().Text()),
		Participants: strings.TrimSpace(card.Find(selParticipants).First().Text()),
		ActivityType: strings.TrimSpace(card.Find(selActivityType).First().Text()),
	}

	if href, ok := card.Find(selLink).First().Attr("href"); ok {
		rec.URL = strings.TrimSpace(href)
		rec.Slug = slugFromHref(rec.URL)
	}

	dates := card.Find(selDates)
	if dates.Length() == 0 {
		rec.Undated = true
	} else {
		rec.StartDate = strings.TrimSpace(dates.First().Text())
	}

	rec.City, rec.Country = splitLocation(strings.TrimSpace(card.Find(selLocation).First().Text()))

	if rec.Slug == "" && rec.Title == "" {
		return scrape.RawRecord{}, false
	}
	return rec, true
}

// slugFromHref extracts the trailing path segment of an activity link.
func slugFromHref(href string) string {
	trimmed := href
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// splitLocation splits the "City, Country" text the cards render. A single
// token is taken as the city; the country stays raw for downstream mapping.
func splitLocation(text string) (city, country string) {
	if text == "" {
		return "", ""
	}
	parts := strings.Split(text, ",")
	city = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		country = strings.TrimSpace(parts[len(parts)-1])
	}
	return city, country
}

// totalPagesHint reads the pager "last" link. Its href carries a zero-based
// page query parameter, so the hinted count is that value plus one.
func totalPagesHint(doc *goquery.Document) int {
	href, ok := doc.Find(selPagerLast).First().Attr("href")
	if !ok {
		return 0
	}
	u, err := url.Parse(href)
	if err != nil {
		return 0
	}
	raw := u.Query().Get("page")
	if raw == "" {
		return 0
	}
	last, err := strconv.Atoi(raw)
	if err != nil || last < 0 {
		return 0
	}
	return last + 1
}
