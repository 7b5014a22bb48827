package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/event-radar/event-radar/internal/config"
	"github.com/event-radar/event-radar/internal/dedup"
	"github.com/event-radar/event-radar/internal/discovery"
	"github.com/event-radar/event-radar/internal/llm"
	"github.com/event-radar/event-radar/internal/runstats"
	db "github.com/event-radar/event-radar/internal/storage"
	"github.com/event-radar/event-radar/internal/venues"
)

// pipeStore is an in-memory stand-in for the event tables.
type pipeStore struct {
	mu          sync.Mutex
	byFP        map[string]*db.Event
	texts       map[string]bool
	venues      map[string]string // eventID -> venueID
	textSeenErr error
}

func newPipeStore() *pipeStore {
	return &pipeStore{
		byFP:   make(map[string]*db.Event),
		texts:  make(map[string]bool),
		venues: make(map[string]string),
	}
}

func (s *pipeStore) InsertEventOnce(_ context.Context, ev *db.Event) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byFP[ev.Fingerprint]; ok {
		return "", false, nil
	}

	stored := *ev
	stored.ID = uuid.NewString()
	s.byFP[ev.Fingerprint] = &stored
	s.texts[ev.OriginalText] = true

	return stored.ID, true, nil
}

func (s *pipeStore) GetEventByFingerprint(_ context.Context, fingerprint string) (*db.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byFP[fingerprint]
	if !ok {
		return nil, db.ErrEventNotFound
	}

	return ev, nil
}

func (s *pipeStore) TextSeen(_ context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.textSeenErr != nil {
		return false, s.textSeenErr
	}

	return s.texts[text], nil
}

func (s *pipeStore) AttachVenue(_ context.Context, eventID, venueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.venues[eventID] = venueID

	return nil
}

// aliasStore backs the venue resolver in tests.
type aliasStore struct {
	mu      sync.Mutex
	aliases map[string]*db.Alias
	venues  map[string]*db.Venue
}

func newAliasStore() *aliasStore {
	return &aliasStore{aliases: make(map[string]*db.Alias), venues: make(map[string]*db.Venue)}
}

func (s *aliasStore) GetAlias(_ context.Context, query string) (*db.Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alias, ok := s.aliases[query]
	if !ok {
		return nil, db.ErrAliasNotFound
	}

	return alias, nil
}

func (s *aliasStore) SaveResolvedAlias(_ context.Context, query string, venue *db.Venue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	stored := *venue
	stored.ID = id
	s.venues[id] = &stored
	s.aliases[query] = &db.Alias{Query: query, VenueID: id}

	return id, nil
}

func (s *aliasStore) SaveNegativeAlias(_ context.Context, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aliases[query] = &db.Alias{Query: query, Negative: true}

	return nil
}

func (s *aliasStore) GetVenue(_ context.Context, id string) (*db.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	venue, ok := s.venues[id]
	if !ok {
		return nil, db.ErrVenueNotFound
	}

	return venue, nil
}

// countingEnricher tracks how many external lookups the resolver makes.
type countingEnricher struct {
	calls atomic.Int64
}

func (e *countingEnricher) Lookup(_ context.Context, _ string) (*db.Venue, error) {
	e.calls.Add(1)

	return &db.Venue{Name: "Sunset Beach Bar", Lat: 9.73, Lng: 99.98}, nil
}

// discStore satisfies the merger with minimal matching.
type discStore struct {
	mu   sync.Mutex
	rows map[string]*db.Discovered
}

func newDiscStore() *discStore {
	return &discStore{rows: make(map[string]*db.Discovered)}
}

func (s *discStore) FindDiscoveredByIdentifiers(_ context.Context, chatID *int64, username, inviteLink string) ([]*db.Discovered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*db.Discovered

	for _, row := range s.rows {
		switch {
		case chatID != nil && row.ChatID != nil && *row.ChatID == *chatID,
			username != "" && row.Username == username,
			inviteLink != "" && row.InviteLink == inviteLink:
			copied := *row
			found = append(found, &copied)
		}
	}

	return found, nil
}

func (s *discStore) InsertDiscovered(_ context.Context, d *db.Discovered) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *d
	copied.ID = uuid.NewString()
	copied.TimesSeen = 1
	s.rows[copied.ID] = &copied

	return copied.ID, nil
}

func (s *discStore) TouchDiscovered(_ context.Context, id string, _ *db.Discovered, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[id]; ok {
		row.TimesSeen++
	}

	return nil
}

func (s *discStore) MergeDiscoveredInto(_ context.Context, _, duplicateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, duplicateID)

	return nil
}

var testConfig = config.Config{LLMAPIKey: "mock"}

type recordingSink struct {
	mu     sync.Mutex
	events []*db.Event
}

func (s *recordingSink) EventStored(_ context.Context, ev *db.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)

	return nil
}

// testPipeline bundles a pipeline with the fakes behind it.
type testPipeline struct {
	pipeline *Pipeline
	store    *pipeStore
	disc     *discStore
	sink     *recordingSink
	enricher *countingEnricher
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	logger := zerolog.Nop()
	store := newPipeStore()
	disc := newDiscStore()
	sink := &recordingSink{}
	enricher := &countingEnricher{}

	p := New(Options{
		Store:        store,
		Extractor:    llm.New(&testConfig, &logger),
		Deduplicator: dedup.New(store, &logger),
		Resolver:     venues.NewResolver(newAliasStore(), enricher, "Koh Phangan", &logger),
		Merger:       discovery.NewMerger(disc, &logger),
		Sink:         sink,
		Stats:        runstats.New("test"),
		Workers:      4,
		Logger:       &logger,
	})

	return &testPipeline{pipeline: p, store: store, disc: disc, sink: sink, enricher: enricher}
}

const announcement = "Full Moon Party at Sunset Beach on March 14! Live DJ sets, fire show and cocktails all night long. Doors open 8pm, entry 200 THB."

func TestHandleStoresEvent(t *testing.T) {
	tp := newTestPipeline(t)

	outcome, err := tp.pipeline.Handle(context.Background(), Message{
		ChatID:    -100123,
		ChatTitle: "Phangan Events",
		MessageID: 1,
		Text:      announcement,
		SentAt:    time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, outcome)
	require.Len(t, tp.store.byFP, 1)
	require.Len(t, tp.sink.events, 1)

	for _, ev := range tp.store.byFP {
		assert.Equal(t, 200, ev.PriceTHB, "entry fee parsed from the text")
	}

	// The announced venue resolved and got attached.
	assert.Len(t, tp.store.venues, 1)
	assert.Equal(t, int64(1), tp.enricher.calls.Load())
}

func TestHandleExactRepost(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()

	first, err := tp.pipeline.Handle(ctx, Message{ChatID: 1, MessageID: 1, Text: announcement, SentAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, first)

	// The same text forwarded to another chat is caught before extraction.
	second, err := tp.pipeline.Handle(ctx, Message{ChatID: 2, MessageID: 9, Text: announcement, SentAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.Equal(t, int64(1), tp.enricher.calls.Load(), "the repost triggers no second lookup")
}

func TestHandleRewordedDuplicate(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()

	first, err := tp.pipeline.Handle(ctx, Message{ChatID: 1, MessageID: 1, Text: announcement, SentAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, first)

	// Different wording, same title and date: the fingerprint catches it.
	reworded := "Full Moon Party at Sunset Beach on March 14! Secret lineup, free welcome shot before 9pm and beach games, tickets 200 THB at the door."

	second, err := tp.pipeline.Handle(ctx, Message{ChatID: 3, MessageID: 2, Text: reworded, SentAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.Len(t, tp.store.byFP, 1)
}

func TestHandleFiltersClassifieds(t *testing.T) {
	tp := newTestPipeline(t)

	outcome, err := tp.pipeline.Handle(context.Background(), Message{
		ChatID: 1,
		Text:   "Сдам виллу на долгосрок, 2 спальни, бассейн, тихий район, все удобства, фото в личку.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFiltered, outcome)
}

func TestHandleNoEvent(t *testing.T) {
	tp := newTestPipeline(t)

	// Passes the cheap filter but the extractor sees no event announcement.
	text := "Join us for a sunset networking meetup tomorrow at the pier, free entry, bring your ideas and good vibes to share with everyone."

	outcome, err := tp.pipeline.Handle(context.Background(), Message{ChatID: 1, Text: text})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoEvent, outcome)
}

func TestHandleStoreErrorIsNotFiltered(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.textSeenErr = errors.New("connection reset")

	outcome, err := tp.pipeline.Handle(context.Background(), Message{ChatID: 1, MessageID: 1, Text: announcement, SentAt: time.Now()})
	require.Error(t, err)
	assert.Equal(t, OutcomeNone, outcome, "a store failure is not a filter decision")
}

func TestHandleObservesDiscoveries(t *testing.T) {
	tp := newTestPipeline(t)

	// Even a filtered message feeds discovery.
	_, err := tp.pipeline.Handle(context.Background(), Message{
		ChatID: 77,
		Text:   "more parties over at @island_parties",
		Forward: &ForwardInfo{
			ChatID: 900,
			Title:  "Island Parties",
			Kind:   "channel",
		},
		SentAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, tp.disc.rows, 2, "mention and forward origin both recorded")
}

func TestRunDrainsChannel(t *testing.T) {
	tp := newTestPipeline(t)

	messages := make(chan Message, 3)
	messages <- Message{ChatID: 1, MessageID: 1, Text: announcement, SentAt: time.Now()}
	messages <- Message{ChatID: 2, MessageID: 2, Text: announcement, SentAt: time.Now()}
	messages <- Message{ChatID: 3, MessageID: 3, Text: "nothing interesting here"}
	close(messages)

	require.NoError(t, tp.pipeline.Run(context.Background(), messages))
	assert.Len(t, tp.store.byFP, 1)
}
