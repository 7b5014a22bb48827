package venues

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/event-radar/event-radar/internal/storage"
)

type mockStore struct {
	mu      sync.Mutex
	aliases map[string]*db.Alias
	venues  map[string]*db.Venue
}

func newMockStore() *mockStore {
	return &mockStore{
		aliases: make(map[string]*db.Alias),
		venues:  make(map[string]*db.Venue),
	}
}

func (m *mockStore) GetAlias(_ context.Context, query string) (*db.Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alias, ok := m.aliases[query]
	if !ok {
		return nil, db.ErrAliasNotFound
	}

	return alias, nil
}

func (m *mockStore) SaveResolvedAlias(_ context.Context, query string, venue *db.Venue) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Venue identity is the canonical name.
	for id, v := range m.venues {
		if v.Name == venue.Name {
			m.aliases[query] = &db.Alias{Query: query, VenueID: id}
			return id, nil
		}
	}

	id := uuid.NewString()
	stored := *venue
	stored.ID = id
	m.venues[id] = &stored
	m.aliases[query] = &db.Alias{Query: query, VenueID: id}

	return id, nil
}

func (m *mockStore) SaveNegativeAlias(_ context.Context, query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.aliases[query]; !ok {
		m.aliases[query] = &db.Alias{Query: query, Negative: true}
	}

	return nil
}

func (m *mockStore) GetVenue(_ context.Context, id string) (*db.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	venue, ok := m.venues[id]
	if !ok {
		return nil, db.ErrVenueNotFound
	}

	return venue, nil
}

type mockEnricher struct {
	mu      sync.Mutex
	calls   int
	queries []string
	delay   time.Duration
	lookup  func(query string) (*db.Venue, error)
}

func (m *mockEnricher) Lookup(_ context.Context, query string) (*db.Venue, error) {
	m.mu.Lock()
	m.calls++
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	return m.lookup(query)
}

func (m *mockEnricher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

func newResolver(store Store, enricher Enricher) *Resolver {
	logger := zerolog.Nop()
	return NewResolver(store, enricher, "Koh Phangan", &logger)
}

func TestResolveCachesFirstLookup(t *testing.T) {
	store := newMockStore()
	enricher := &mockEnricher{lookup: func(string) (*db.Venue, error) {
		return &db.Venue{Name: "Sunset Beach Bar"}, nil
	}}
	r := newResolver(store, enricher)

	first, err := r.Resolve(context.Background(), "Sunset Beach Bar Koh Phangan")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, first.Status)
	assert.False(t, first.FromCache)
	require.NotNil(t, first.Venue)

	// A different spelling of the same place hits the cache.
	second, err := r.Resolve(context.Background(), "SUNSET beach bar, koh phangan")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, second.Status)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Venue.ID, second.Venue.ID)

	assert.Equal(t, 1, enricher.callCount(), "one external call serves all spellings")
}

func TestResolveNegativeCache(t *testing.T) {
	store := newMockStore()
	enricher := &mockEnricher{lookup: func(string) (*db.Venue, error) {
		return nil, ErrNotFound
	}}
	r := newResolver(store, enricher)

	first, err := r.Resolve(context.Background(), "Nonexistent Warehouse")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, first.Status)

	second, err := r.Resolve(context.Background(), "nonexistent warehouse")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, second.Status)
	assert.True(t, second.FromCache)

	// Fallback chain ran once (raw + region qualified), then never again.
	calls := enricher.callCount()
	assert.Equal(t, 2, calls)
}

func TestResolveTransientFailureNotCached(t *testing.T) {
	store := newMockStore()

	var failing = true

	enricher := &mockEnricher{lookup: func(string) (*db.Venue, error) {
		if failing {
			return nil, errors.New("directory timeout")
		}

		return &db.Venue{Name: "Jungle Hall"}, nil
	}}
	r := newResolver(store, enricher)

	first, err := r.Resolve(context.Background(), "Jungle Hall")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)
	assert.Empty(t, store.aliases, "transient failures never write the cache")

	failing = false

	second, err := r.Resolve(context.Background(), "Jungle Hall")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, second.Status)
}

func TestResolveCollapsesConcurrentLookups(t *testing.T) {
	store := newMockStore()
	enricher := &mockEnricher{
		delay: 50 * time.Millisecond,
		lookup: func(string) (*db.Venue, error) {
			return &db.Venue{Name: "Half Moon Stage"}, nil
		},
	}
	r := newResolver(store, enricher)

	const workers = 8

	outcomes := make([]*Outcome, workers)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			out, err := r.Resolve(context.Background(), "Half Moon Stage")
			require.NoError(t, err)

			outcomes[i] = out
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, enricher.callCount(), "concurrent lookups collapse into one call")

	var external int

	for _, out := range outcomes {
		assert.Equal(t, StatusResolved, out.Status)
		assert.Equal(t, outcomes[0].Venue.ID, out.Venue.ID)

		if !out.FromCache {
			external++
		}
	}

	assert.GreaterOrEqual(t, external, 1, "the initiating lookup is never relabeled as a cache hit")
}

func TestResolveTransliterationFallback(t *testing.T) {
	store := newMockStore()
	enricher := &mockEnricher{lookup: func(query string) (*db.Venue, error) {
		if query == "Zama, Koh Phangan" {
			return &db.Venue{Name: "Zama Beach Club"}, nil
		}

		return nil, ErrNotFound
	}}
	r := newResolver(store, enricher)

	out, err := r.Resolve(context.Background(), "Зама")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, out.Status)
	assert.Equal(t, "Zama Beach Club", out.Venue.Name)
	assert.Contains(t, enricher.queries, "Зама", "raw query tried first")
}

func TestResolveEmptyLocation(t *testing.T) {
	store := newMockStore()
	enricher := &mockEnricher{lookup: func(string) (*db.Venue, error) {
		t.Fatal("enricher must not be called for empty locations")
		return nil, nil
	}}
	r := newResolver(store, enricher)

	out, err := r.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, out.Status)
	assert.True(t, out.FromCache)
}
