// Package venues resolves free-form location mentions to canonical venues.
//
// Every lookup goes through a persistent alias cache keyed by the normalized
// query, so one external call serves all spellings of the same place. A row
// with no venue records a definitive miss; transient failures are never
// cached and report Pending instead.
package venues

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/event-radar/event-radar/internal/normalize"
	db "github.com/event-radar/event-radar/internal/storage"
)

// ErrNotFound is returned by an Enricher when the external directory has no
// venue matching the query. It is the only error that becomes a cached miss.
var ErrNotFound = errors.New("venue not found in directory")

// Status classifies a resolution outcome.
type Status int

const (
	// StatusResolved means the query maps to a venue, now cached.
	StatusResolved Status = iota
	// StatusNotFound means the directory definitively has no match; the
	// miss is cached so the query never hits the directory again.
	StatusNotFound
	// StatusPending means the lookup failed transiently; nothing was
	// cached and a later attempt may succeed.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Outcome is the result of resolving one location mention.
type Outcome struct {
	Status Status
	Venue  *db.Venue
	// FromCache is true when the alias cache answered and no external
	// lookup ran for this resolution.
	FromCache bool
}

// Enricher looks a venue up in an external directory.
// It returns ErrNotFound for a definitive miss; any other error is transient.
type Enricher interface {
	Lookup(ctx context.Context, query string) (*db.Venue, error)
}

// Store is the slice of the database the resolver needs.
type Store interface {
	GetAlias(ctx context.Context, query string) (*db.Alias, error)
	SaveResolvedAlias(ctx context.Context, query string, venue *db.Venue) (string, error)
	SaveNegativeAlias(ctx context.Context, query string) error
	GetVenue(ctx context.Context, id string) (*db.Venue, error)
}

// Resolver resolves location mentions with caching and request collapsing.
type Resolver struct {
	store    Store
	enricher Enricher
	region   string
	logger   *zerolog.Logger
	group    singleflight.Group
}

// NewResolver creates a resolver. The region is appended to ambiguous
// queries as a retry hint for the external directory.
func NewResolver(store Store, enricher Enricher, region string, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		enricher: enricher,
		region:   region,
		logger:   logger,
	}
}

// Resolve maps a raw location mention to a venue. Concurrent calls for
// queries normalizing to the same key collapse into a single lookup.
func (r *Resolver) Resolve(ctx context.Context, location string) (*Outcome, error) {
	key := normalize.VenueQuery(location)
	if key == "" {
		return &Outcome{Status: StatusNotFound, FromCache: true}, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolveKey(ctx, key, location)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Outcome), nil
}

func (r *Resolver) resolveKey(ctx context.Context, key, original string) (*Outcome, error) {
	alias, err := r.store.GetAlias(ctx, key)

	switch {
	case err == nil && alias.Negative:
		return &Outcome{Status: StatusNotFound, FromCache: true}, nil
	case err == nil:
		venue, err := r.store.GetVenue(ctx, alias.VenueID)
		if err != nil {
			return nil, fmt.Errorf("load cached venue: %w", err)
		}

		return &Outcome{Status: StatusResolved, Venue: venue, FromCache: true}, nil
	case !errors.Is(err, db.ErrAliasNotFound):
		return nil, fmt.Errorf("alias lookup: %w", err)
	}

	venue, err := r.lookupWithFallbacks(ctx, key, original)

	switch {
	case err == nil:
		venueID, err := r.store.SaveResolvedAlias(ctx, key, venue)
		if err != nil {
			return nil, fmt.Errorf("cache resolved venue: %w", err)
		}

		venue.ID = venueID

		r.logger.Info().Str("query", key).Str("venue", venue.Name).Msg("venue resolved")

		return &Outcome{Status: StatusResolved, Venue: venue}, nil

	case errors.Is(err, ErrNotFound):
		if err := r.store.SaveNegativeAlias(ctx, key); err != nil {
			return nil, fmt.Errorf("cache negative alias: %w", err)
		}

		r.logger.Info().Str("query", key).Msg("venue not found, miss cached")

		return &Outcome{Status: StatusNotFound}, nil

	default:
		// Transient failure: leave the cache untouched.
		r.logger.Warn().Err(err).Str("query", key).Msg("venue lookup failed, will retry later")

		return &Outcome{Status: StatusPending}, nil
	}
}

// lookupWithFallbacks tries the directory with progressively broader
// queries: the raw mention, the mention qualified by region, and a Latin
// transliteration when the mention is Cyrillic.
func (r *Resolver) lookupWithFallbacks(ctx context.Context, key, original string) (*db.Venue, error) {
	queries := []string{original}

	if r.region != "" {
		queries = append(queries, original+", "+r.region)
	}

	if normalize.HasCyrillic(original) {
		translit := normalize.TransliterateRu(original)
		queries = append(queries, translit)

		if r.region != "" {
			queries = append(queries, translit+", "+r.region)
		}
	}

	var lastErr error = ErrNotFound

	for _, q := range queries {
		venue, err := r.enricher.Lookup(ctx, q)
		if err == nil {
			venue.NormalizedName = key
			return venue, nil
		}

		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}
