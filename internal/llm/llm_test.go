package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidateDate(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "iso", raw: "2026-03-14", want: "2026-03-14"},
		{name: "us style", raw: "March 14, 2026", want: "2026-03-14"},
		{name: "tbd", raw: "TBD", want: ""},
		{name: "empty", raw: "", want: ""},
		{name: "garbage", raw: "next full moon-ish", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCandidateDate(tt.raw, now)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}

func TestValidateCandidate(t *testing.T) {
	cand := &Candidate{Title: "  Full Moon Party  ", Category: " Party ", PriceTHB: -5}
	require.NoError(t, validateCandidate(cand))
	assert.Equal(t, "Full Moon Party", cand.Title)
	assert.Equal(t, "party", cand.Category)
	assert.Equal(t, 0, cand.PriceTHB)

	assert.Error(t, validateCandidate(&Candidate{Title: "   "}))

	long := &Candidate{
		Title:    "Secret jungle rave deep in the Than Sadet waterfall valley",
		Category: "rave",
	}
	require.NoError(t, validateCandidate(long))
	assert.LessOrEqual(t, len([]rune(long.Title)), 30)
	assert.Equal(t, "chill", long.Category)
}

func TestMockClientExtractsEvent(t *testing.T) {
	client := &mockClient{}

	cand, err := client.ExtractEvent(context.Background(),
		"Full Moon Party at Sunset Beach, 8pm, 200 THB", "Phangan Events")
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Contains(t, cand.Title, "Full Moon Party")
	assert.Equal(t, "Sunset Beach", cand.LocationName)
	assert.Equal(t, "8pm", cand.Time)
	assert.Equal(t, 200, cand.PriceTHB)
}

func TestMockClientIgnoresNonEvents(t *testing.T) {
	client := &mockClient{}

	cand, err := client.ExtractEvent(context.Background(),
		"Selling a scooter, good condition, 25000", "Phangan Market")
	require.NoError(t, err)
	assert.Nil(t, cand)
}
