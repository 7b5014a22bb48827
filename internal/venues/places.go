package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	db "github.com/event-radar/event-radar/internal/storage"
)

const placesTextSearchURL = "https://maps.googleapis.com/maps/api/place/textsearch/json"

const (
	placesMaxRetries     = 3
	placesInitialBackoff = 500 * time.Millisecond
)

// placesEnricher looks venues up via the Google Places Text Search API.
type placesEnricher struct {
	apiKey  string
	client  *http.Client
	logger  *zerolog.Logger
	baseURL string
}

// NewPlacesEnricher creates an Enricher backed by Google Places.
func NewPlacesEnricher(apiKey string, timeout time.Duration, logger *zerolog.Logger) Enricher {
	return &placesEnricher{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		baseURL: placesTextSearchURL,
	}
}

type placesResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Name             string `json:"name"`
		FormattedAddress string `json:"formatted_address"`
		PlaceID          string `json:"place_id"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

func (p *placesEnricher) Lookup(ctx context.Context, query string) (*db.Venue, error) {
	var resp *placesResponse

	operation := func() error {
		var err error

		resp, err = p.search(ctx, query)

		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(placesInitialBackoff),
		), placesMaxRetries),
		ctx,
	)

	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("places text search: %w", err)
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("places api status %s: %s", resp.Status, resp.ErrorMessage)
	}

	if len(resp.Results) == 0 {
		return nil, ErrNotFound
	}

	top := resp.Results[0]

	return &db.Venue{
		Name:    top.Name,
		Lat:     top.Geometry.Location.Lat,
		Lng:     top.Geometry.Location.Lng,
		Address: top.FormattedAddress,
		MapsURL: "https://www.google.com/maps/place/?q=place_id:" + url.QueryEscape(top.PlaceID),
	}, nil
}

func (p *placesEnricher) search(ctx context.Context, query string) (*placesResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places request: %w", err)
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("places server error: %d", httpResp.StatusCode)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("places unexpected status: %d", httpResp.StatusCode))
	}

	var resp placesResponse

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode places response: %w", err)
	}

	// OVER_QUERY_LIMIT is worth retrying after backoff, other API level
	// failures are final for this query.
	if resp.Status == "OVER_QUERY_LIMIT" {
		return nil, fmt.Errorf("places over query limit")
	}

	return &resp, nil
}
