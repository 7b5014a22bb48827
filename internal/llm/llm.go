// Package llm extracts structured event candidates from raw chat messages.
package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"

	"github.com/event-radar/event-radar/internal/config"
)

// Candidate is a structured event parsed out of a message, before dedup
// and venue resolution.
type Candidate struct {
	Title        string     `json:"title"`
	Category     string     `json:"category"`
	Date         *time.Time `json:"-"`
	DateRaw      string     `json:"date"`
	Time         string     `json:"time"`
	LocationName string     `json:"location_name"`
	PriceTHB     int        `json:"price_thb"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description"`
}

// Client turns message text into at most one event candidate.
// A (nil, nil) return means the message does not announce an event.
type Client interface {
	ExtractEvent(ctx context.Context, text, chatTitle string) (*Candidate, error)
}

// New selects the client implementation. An empty or "mock" API key yields
// the deterministic offline extractor used in tests and local runs.
func New(cfg *config.Config, logger *zerolog.Logger) Client {
	if cfg.LLMAPIKey == "" || cfg.LLMAPIKey == "mock" {
		return &mockClient{}
	}

	return NewOpenAI(cfg, logger)
}

// parseCandidateDate resolves the fuzzy date string the extractor returns
// into a calendar date. Unparseable or empty strings leave the event undated.
func parseCandidateDate(raw string, now time.Time) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "tbd") || strings.EqualFold(raw, "unknown") {
		return nil
	}

	t, err := dateparse.ParseIn(raw, now.Location())
	if err != nil {
		return nil
	}

	// Year-less dates parse into year 0; anchor them to the current year,
	// rolling forward when the day already passed.
	if t.Year() == 0 {
		t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
		if t.Before(now.AddDate(0, 0, -1)) {
			t = t.AddDate(1, 0, 0)
		}
	}

	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	return &d
}

// mockClient is a deterministic keyword extractor for offline runs.
type mockClient struct{}

var (
	mockTitlePattern = regexp.MustCompile(`(?i)^[^\n.!?]{3,80}`)
	mockPricePattern = regexp.MustCompile(`(?i)(\d{2,6})\s*(?:thb|baht|бат)`)
	mockDatePattern  = regexp.MustCompile(`(?i)\b(\d{1,2}[./]\d{1,2}(?:[./]\d{2,4})?|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2})\b`)
	mockTimePattern  = regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2})\b`)
	mockVenuePattern = regexp.MustCompile(`(?i)(?:at|@|в)\s+([A-ZА-Я][\w'&-]*(?:\s+[A-ZА-Я][\w'&-]*){0,4})`)
)

var mockEventKeywords = []string{
	"party", "festival", "concert", "workshop", "retreat", "market",
	"вечеринка", "фестиваль", "концерт", "воркшоп", "маркет",
}

func (c *mockClient) ExtractEvent(_ context.Context, text, _ string) (*Candidate, error) {
	lower := strings.ToLower(text)

	var hit bool

	for _, kw := range mockEventKeywords {
		if strings.Contains(lower, kw) {
			hit = true
			break
		}
	}

	if !hit {
		return nil, nil
	}

	cand := &Candidate{
		Title:    strings.TrimSpace(mockTitlePattern.FindString(text)),
		Category: "party",
		Summary:  strings.TrimSpace(mockTitlePattern.FindString(text)),
	}

	if m := mockDatePattern.FindString(text); m != "" {
		cand.DateRaw = m
		cand.Date = parseCandidateDate(m, time.Now())
	}

	if m := mockTimePattern.FindString(text); m != "" {
		cand.Time = m
	}

	if m := mockPricePattern.FindStringSubmatch(text); m != nil {
		price, err := strconv.Atoi(m[1])
		if err == nil {
			cand.PriceTHB = price
		}
	}

	if m := mockVenuePattern.FindStringSubmatch(text); m != nil {
		cand.LocationName = strings.TrimSpace(m[1])
	}

	if err := validateCandidate(cand); err != nil {
		return nil, nil
	}

	return cand, nil
}
