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

// ErrEventNotFound is returned when no event matches the lookup key.
var ErrEventNotFound = errors.New("event not found")

// Event is a stored calendar event extracted from a chat message.
type Event struct {
	ID              string
	Title           string
	Category        string
	EventDate       *time.Time
	EventTime       string
	LocationName    string
	VenueID         string
	PriceTHB        int
	Summary         string
	Description     string
	SourceChatID    int64
	SourceChatTitle string
	SourceMessageID int64
	Sender          string
	FilterScore     int
	OriginalText    string
	Origin          string
	Fingerprint     string
	DetectedAt      time.Time
}

const eventColumns = `id, title, category, event_date, event_time, location_name, venue_id,
	price_thb, summary, description, source_chat_id, source_chat_title, source_message_id,
	sender, filter_score, original_text, origin, fingerprint, detected_at`

// InsertEventOnce inserts an event keyed by its fingerprint. When another
// event with the same fingerprint already exists, no row is written and
// inserted is false; callers fetch the surviving row via GetEventByFingerprint.
func (db *DB) InsertEventOnce(ctx context.Context, ev *Event) (string, bool, error) {
	if ev.Fingerprint == "" {
		return "", false, errors.New("event fingerprint is empty")
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	var id pgtype.UUID

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO events (
			id, title, category, event_date, event_time, location_name, venue_id,
			price_thb, summary, description, source_chat_id, source_chat_title,
			source_message_id, sender, filter_score, original_text, origin, fingerprint
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id
	`,
		toUUID(ev.ID),
		SanitizeUTF8(ev.Title),
		ev.Category,
		toDate(ev.EventDate),
		toText(ev.EventTime),
		SanitizeUTF8(ev.LocationName),
		toUUID(ev.VenueID),
		toInt4(ev.PriceTHB),
		SanitizeUTF8(ev.Summary),
		SanitizeUTF8(ev.Description),
		toInt8(ev.SourceChatID),
		SanitizeUTF8(ev.SourceChatTitle),
		ev.SourceMessageID,
		SanitizeUTF8(ev.Sender),
		toInt4(ev.FilterScore),
		SanitizeUTF8(ev.OriginalText),
		ev.Origin,
		ev.Fingerprint,
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: the fingerprint already has an owner.
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("insert event: %w", err)
	}

	return fromUUID(id), true, nil
}

// GetEventByFingerprint returns the event owning the given fingerprint.
func (db *DB) GetEventByFingerprint(ctx context.Context, fingerprint string) (*Event, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE fingerprint = $1
	`, fingerprint)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get event by fingerprint: %w", err)
	}

	return ev, nil
}

// GetEvent returns an event by its id.
func (db *DB) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, toUUID(id))

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	return ev, nil
}

// AttachVenue links a resolved venue to an already stored event.
func (db *DB) AttachVenue(ctx context.Context, eventID, venueID string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE events
		SET venue_id = $2
		WHERE id = $1
	`, toUUID(eventID), toUUID(venueID))
	if err != nil {
		return fmt.Errorf("attach venue: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

// TextSeen reports whether an event with this exact raw message text already
// exists. It is the cheap pre-extraction guard for reposted spam.
func (db *DB) TextSeen(ctx context.Context, text string) (bool, error) {
	var seen bool

	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events WHERE md5(original_text) = md5($1)
		)
	`, SanitizeUTF8(text)).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check text seen: %w", err)
	}

	return seen, nil
}

// ListUpcomingEvents returns events dated today or later, soonest first.
// Events without a date sort last.
func (db *DB) ListUpcomingEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE event_date IS NULL OR event_date >= CURRENT_DATE
		ORDER BY event_date ASC NULLS LAST, detected_at DESC
		LIMIT $1
	`, toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsSince returns events detected after the given moment, newest first.
func (db *DB) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]*Event, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE detected_at >= $1
		ORDER BY detected_at DESC
		LIMIT $2
	`, toTimestamptz(since), toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountEvents returns the total number of stored events.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	var count int64

	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}

	return count, nil
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		ev        Event
		id        pgtype.UUID
		eventDate pgtype.Date
		eventTime pgtype.Text
		venueID   pgtype.UUID
		chatID    pgtype.Int8
		detected  pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &ev.Title, &ev.Category, &eventDate, &eventTime, &ev.LocationName, &venueID,
		&ev.PriceTHB, &ev.Summary, &ev.Description, &chatID, &ev.SourceChatTitle,
		&ev.SourceMessageID, &ev.Sender, &ev.FilterScore, &ev.OriginalText, &ev.Origin,
		&ev.Fingerprint, &detected,
	)
	if err != nil {
		return nil, err
	}

	ev.ID = fromUUID(id)
	ev.EventTime = fromText(eventTime)
	ev.VenueID = fromUUID(venueID)
	ev.DetectedAt = fromTimestamptz(detected)

	if eventDate.Valid {
		d := eventDate.Time
		ev.EventDate = &d
	}

	if chatID.Valid {
		ev.SourceChatID = chatID.Int64
	}

	return &ev, nil
}

func toDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{Valid: false}
	}

	return pgtype.Date{Time: *t, Valid: true}
}
