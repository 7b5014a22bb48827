package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	db "github.com/event-radar/event-radar/internal/storage"
)

// maxObserveRetries bounds how often Observe re-runs its lookup after losing
// an identifier race to a concurrent writer.
const maxObserveRetries = 3

// Store is the slice of the database the merger needs.
type Store interface {
	FindDiscoveredByIdentifiers(ctx context.Context, chatID *int64, username, inviteLink string) ([]*db.Discovered, error)
	InsertDiscovered(ctx context.Context, d *db.Discovered) (string, error)
	TouchDiscovered(ctx context.Context, id string, d *db.Discovered, seenAt time.Time) error
	MergeDiscoveredInto(ctx context.Context, survivorID, duplicateID string) error
}

// Merger folds sightings into the discovery queue, keeping at most one row
// per logical chat across all three identifier spaces.
type Merger struct {
	store  Store
	logger *zerolog.Logger
	locks  *keyedMutex
}

// NewMerger creates a merger backed by the given store.
func NewMerger(store Store, logger *zerolog.Logger) *Merger {
	return &Merger{
		store:  store,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// Observe records a sighting and returns the id of the row that now
// represents the chat. Sightings with intersecting identifiers serialize on
// per-identifier locks; a sighting carrying a chat id that matches one row
// and a username that matches another bridges them into a single survivor.
func (m *Merger) Observe(ctx context.Context, s Sighting) (string, error) {
	if s.empty() {
		return "", errors.New("sighting has no identifiers")
	}

	if s.SeenAt.IsZero() {
		s.SeenAt = time.Now()
	}

	username, inviteLink := s.identifiers()

	unlock := m.locks.lockAll(lockKeys(s.ChatID, username, inviteLink))
	defer unlock()

	var lastErr error

	for attempt := 0; attempt < maxObserveRetries; attempt++ {
		id, err := m.observeOnce(ctx, s, username, inviteLink)
		if err == nil {
			return id, nil
		}

		if !errors.Is(err, db.ErrDiscoveryConflict) {
			return "", err
		}

		// A writer outside our lock scope claimed an identifier; the
		// re-run sees its row and merges into it.
		lastErr = err
	}

	return "", fmt.Errorf("observe sighting: %w", lastErr)
}

func (m *Merger) observeOnce(ctx context.Context, s Sighting, username, inviteLink string) (string, error) {
	matches, err := m.store.FindDiscoveredByIdentifiers(ctx, s.ChatID, username, inviteLink)
	if err != nil {
		return "", err
	}

	if len(matches) == 0 {
		row := sightingRow(s, username, inviteLink)

		id, err := m.store.InsertDiscovered(ctx, row)
		if err != nil {
			return "", err
		}

		m.logger.Info().
			Str("discovered_id", id).
			Str("username", username).
			Str("source_type", s.SourceType).
			Msg("new chat discovered")

		return id, nil
	}

	// The best match survives; any further rows are the same chat seen
	// through different identifiers and fold into it.
	survivor := matches[0]

	for _, dup := range matches[1:] {
		if err := m.store.MergeDiscoveredInto(ctx, survivor.ID, dup.ID); err != nil {
			if errors.Is(err, db.ErrDiscoveryNotFound) {
				continue
			}

			return "", err
		}

		m.logger.Info().
			Str("survivor_id", survivor.ID).
			Str("duplicate_id", dup.ID).
			Msg("discovered chats bridged")
	}

	if err := m.store.TouchDiscovered(ctx, survivor.ID, sightingRow(s, username, inviteLink), s.SeenAt); err != nil {
		return "", err
	}

	return survivor.ID, nil
}

func sightingRow(s Sighting, username, inviteLink string) *db.Discovered {
	return &db.Discovered{
		ChatID:            s.ChatID,
		Username:          username,
		InviteLink:        inviteLink,
		Title:             s.Title,
		Kind:              s.Kind,
		SourceType:        s.SourceType,
		FoundInChatID:     s.FoundInChatID,
		ParticipantsCount: s.ParticipantsCount,
		FirstSeenAt:       s.SeenAt,
		LastSeenAt:        s.SeenAt,
	}
}

func lockKeys(chatID *int64, username, inviteLink string) []string {
	keys := make([]string, 0, 3)

	if chatID != nil {
		keys = append(keys, "chat:"+strconv.FormatInt(*chatID, 10))
	}

	if username != "" {
		keys = append(keys, "user:"+username)
	}

	if inviteLink != "" {
		keys = append(keys, "invite:"+inviteLink)
	}

	return keys
}

// keyedMutex serializes work per identifier key while letting disjoint keys
// proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// lockAll acquires the mutexes for every key in sorted order, so two
// sightings sharing any identifier never deadlock on each other.
func (k *keyedMutex) lockAll(keys []string) func() {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	entries := make([]*lockEntry, 0, len(sorted))

	for _, key := range sorted {
		k.mu.Lock()

		entry, ok := k.locks[key]
		if !ok {
			entry = &lockEntry{}
			k.locks[key] = entry
		}

		entry.refs++
		k.mu.Unlock()

		entry.mu.Lock()
		entries = append(entries, entry)
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}

		k.mu.Lock()

		for _, key := range sorted {
			entry := k.locks[key]
			entry.refs--

			if entry.refs == 0 {
				delete(k.locks, key)
			}
		}

		k.mu.Unlock()
	}
}
