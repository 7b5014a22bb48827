package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrAliasNotFound is returned when a normalized query has never been cached.
var ErrAliasNotFound = errors.New("venue alias not found")

// ErrVenueNotFound is returned when a venue id does not exist.
var ErrVenueNotFound = errors.New("venue not found")

// Venue is a place events happen at, cached from an external lookup.
type Venue struct {
	ID             string
	Name           string
	NormalizedName string
	Lat            float64
	Lng            float64
	MapsURL        string
	InstagramURL   string
	Address        string
	Description    string
	CachedAt       time.Time
}

// Alias is a cache entry mapping a normalized query to a venue.
// A nil VenueID records a definitive negative answer.
type Alias struct {
	Query     string
	VenueID   string
	Negative  bool
	CreatedAt time.Time
}

const venueColumns = `id, name, normalized_name, lat, lng, maps_url, instagram_url, address, description, cached_at`

// GetAlias looks up a cached resolution for a normalized query.
func (db *DB) GetAlias(ctx context.Context, query string) (*Alias, error) {
	var (
		alias   Alias
		venueID pgtype.UUID
		created pgtype.Timestamptz
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT query, venue_id, created_at
		FROM venue_aliases
		WHERE query = $1
	`, query).Scan(&alias.Query, &venueID, &created)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAliasNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get alias: %w", err)
	}

	alias.VenueID = fromUUID(venueID)
	alias.Negative = !venueID.Valid
	alias.CreatedAt = fromTimestamptz(created)

	return &alias, nil
}

// SaveResolvedAlias upserts the venue and records the query -> venue mapping
// in a single transaction. Venue identity is the canonical name, so two
// different queries resolving to the same place share one venue row.
func (db *DB) SaveResolvedAlias(ctx context.Context, query string, venue *Venue) (string, error) {
	if venue.ID == "" {
		venue.ID = uuid.NewString()
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var venueID pgtype.UUID

	err = tx.QueryRow(ctx, `
		INSERT INTO venues (id, name, normalized_name, lat, lng, maps_url, instagram_url, address, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			normalized_name = EXCLUDED.normalized_name,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			maps_url = EXCLUDED.maps_url,
			instagram_url = EXCLUDED.instagram_url,
			address = EXCLUDED.address,
			description = EXCLUDED.description,
			cached_at = now()
		RETURNING id
	`,
		toUUID(venue.ID),
		SanitizeUTF8(venue.Name),
		SanitizeUTF8(venue.NormalizedName),
		venue.Lat,
		venue.Lng,
		venue.MapsURL,
		venue.InstagramURL,
		SanitizeUTF8(venue.Address),
		SanitizeUTF8(venue.Description),
	).Scan(&venueID)
	if err != nil {
		return "", fmt.Errorf("upsert venue: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO venue_aliases (query, venue_id)
		VALUES ($1, $2)
		ON CONFLICT (query) DO UPDATE SET venue_id = EXCLUDED.venue_id
	`, query, venueID)
	if err != nil {
		return "", fmt.Errorf("save alias: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	return fromUUID(venueID), nil
}

// SaveNegativeAlias records that a query definitively resolved to nothing,
// so future lookups skip the external call.
func (db *DB) SaveNegativeAlias(ctx context.Context, query string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO venue_aliases (query, venue_id)
		VALUES ($1, NULL)
		ON CONFLICT (query) DO NOTHING
	`, query)
	if err != nil {
		return fmt.Errorf("save negative alias: %w", err)
	}

	return nil
}

// DeleteAliasesOlderThan drops cache entries past their useful life.
// Negative entries expire so venues that open later get a second chance.
func (db *DB) DeleteAliasesOlderThan(ctx context.Context, age time.Duration, negativeOnly bool) (int64, error) {
	query := `DELETE FROM venue_aliases WHERE created_at < now() - $1::interval`
	if negativeOnly {
		query += ` AND venue_id IS NULL`
	}

	tag, err := db.Pool.Exec(ctx, query, age.String())
	if err != nil {
		return 0, fmt.Errorf("delete stale aliases: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetVenue returns a venue by id.
func (db *DB) GetVenue(ctx context.Context, id string) (*Venue, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+venueColumns+`
		FROM venues
		WHERE id = $1
	`, toUUID(id))

	venue, err := scanVenue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVenueNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get venue: %w", err)
	}

	return venue, nil
}

// GetVenueByName returns a venue by its canonical name.
func (db *DB) GetVenueByName(ctx context.Context, name string) (*Venue, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+venueColumns+`
		FROM venues
		WHERE name = $1
	`, SanitizeUTF8(name))

	venue, err := scanVenue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVenueNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get venue by name: %w", err)
	}

	return venue, nil
}

// AliasStats summarizes the resolution cache.
type AliasStats struct {
	Total    int64
	Negative int64
	Venues   int64
}

// CountAliases returns alias and venue counts for run reports.
func (db *DB) CountAliases(ctx context.Context) (*AliasStats, error) {
	var stats AliasStats

	err := db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM venue_aliases),
			(SELECT count(*) FROM venue_aliases WHERE venue_id IS NULL),
			(SELECT count(*) FROM venues)
	`).Scan(&stats.Total, &stats.Negative, &stats.Venues)
	if err != nil {
		return nil, fmt.Errorf("count aliases: %w", err)
	}

	return &stats, nil
}

func scanVenue(row pgx.Row) (*Venue, error) {
	var (
		venue    Venue
		id       pgtype.UUID
		lat, lng pgtype.Float8
		cached   pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &venue.Name, &venue.NormalizedName, &lat, &lng,
		&venue.MapsURL, &venue.InstagramURL, &venue.Address, &venue.Description, &cached,
	)
	if err != nil {
		return nil, err
	}

	venue.ID = fromUUID(id)
	venue.CachedAt = fromTimestamptz(cached)

	if lat.Valid {
		venue.Lat = lat.Float64
	}

	if lng.Valid {
		venue.Lng = lng.Float64
	}

	return &venue, nil
}
