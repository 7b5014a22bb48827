// Package dedup decides whether an extracted event is the first of its kind.
//
// Identity is a fingerprint over the normalized title and the event date.
// The database owns the race: a unique index on the fingerprint column makes
// concurrent registrations of the same event converge on a single row, with
// every loser learning the winner's id.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/event-radar/event-radar/internal/normalize"
	db "github.com/event-radar/event-radar/internal/storage"
)

// undatedMarker stands in for the date of events whose date could not be
// extracted, so two undated posts with the same title still collide.
const undatedMarker = "TBD"

// Fingerprint derives the dedup identity of an event from its title and
// date. Title differences in case, punctuation and spacing do not produce
// distinct fingerprints.
func Fingerprint(title string, date *time.Time) string {
	datePart := undatedMarker
	if date != nil {
		datePart = date.Format("2006-01-02")
	}

	sum := sha256.Sum256([]byte(normalize.Text(title) + "|" + datePart))

	return hex.EncodeToString(sum[:])
}

// Store is the slice of the database the deduplicator needs.
type Store interface {
	InsertEventOnce(ctx context.Context, ev *db.Event) (string, bool, error)
	GetEventByFingerprint(ctx context.Context, fingerprint string) (*db.Event, error)
}

// Result reports the outcome of a registration attempt.
type Result struct {
	// Inserted is true when this call created the canonical row.
	Inserted bool
	// Event is the surviving row: the new one when Inserted, the prior
	// owner of the fingerprint otherwise.
	Event *db.Event
}

// Deduplicator registers events exactly once per fingerprint.
type Deduplicator struct {
	store  Store
	logger *zerolog.Logger
}

// New creates a deduplicator backed by the given store.
func New(store Store, logger *zerolog.Logger) *Deduplicator {
	return &Deduplicator{store: store, logger: logger}
}

// Register computes the event's fingerprint and inserts it if unseen.
// On a fingerprint collision it returns the existing event instead, never
// treating the collision as an error.
func (d *Deduplicator) Register(ctx context.Context, ev *db.Event) (*Result, error) {
	ev.Fingerprint = Fingerprint(ev.Title, ev.EventDate)

	id, inserted, err := d.store.InsertEventOnce(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("register event: %w", err)
	}

	if inserted {
		ev.ID = id

		d.logger.Debug().
			Str("event_id", id).
			Str("title", ev.Title).
			Msg("event registered")

		return &Result{Inserted: true, Event: ev}, nil
	}

	existing, err := d.store.GetEventByFingerprint(ctx, ev.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("fetch duplicate owner: %w", err)
	}

	d.logger.Debug().
		Str("event_id", existing.ID).
		Str("title", ev.Title).
		Msg("duplicate event, keeping original")

	return &Result{Inserted: false, Event: existing}, nil
}
