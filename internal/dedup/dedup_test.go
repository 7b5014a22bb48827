package dedup

import (
	"context"
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
	mu     sync.Mutex
	byFP   map[string]*db.Event
	visits int
}

func newMockStore() *mockStore {
	return &mockStore{byFP: make(map[string]*db.Event)}
}

func (m *mockStore) InsertEventOnce(_ context.Context, ev *db.Event) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visits++

	if _, ok := m.byFP[ev.Fingerprint]; ok {
		return "", false, nil
	}

	stored := *ev
	stored.ID = uuid.NewString()
	m.byFP[ev.Fingerprint] = &stored

	return stored.ID, true, nil
}

func (m *mockStore) GetEventByFingerprint(_ context.Context, fingerprint string) (*db.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.byFP[fingerprint]
	if !ok {
		return nil, db.ErrEventNotFound
	}

	return ev, nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestFingerprintNormalization(t *testing.T) {
	d := date(2026, time.March, 14)

	a := Fingerprint("Full Moon Party!!!", d)
	b := Fingerprint("full   moon PARTY", d)
	c := Fingerprint("Full Moon Party", date(2026, time.March, 15))

	assert.Equal(t, a, b, "case, punctuation and spacing must not change identity")
	assert.NotEqual(t, a, c, "a different date is a different event")
}

func TestFingerprintUndated(t *testing.T) {
	a := Fingerprint("Jungle Rave", nil)
	b := Fingerprint("jungle rave", nil)
	c := Fingerprint("Jungle Rave", date(2026, time.April, 1))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "dated and undated versions are distinct")
}

func TestRegisterFirstInsert(t *testing.T) {
	store := newMockStore()
	logger := zerolog.Nop()
	d := New(store, &logger)

	res, err := d.Register(context.Background(), &db.Event{
		Title:     "Sunset Beach Festival",
		EventDate: date(2026, time.May, 2),
	})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.NotEmpty(t, res.Event.ID)
}

func TestRegisterDuplicateReturnsOriginal(t *testing.T) {
	store := newMockStore()
	logger := zerolog.Nop()
	d := New(store, &logger)

	first, err := d.Register(context.Background(), &db.Event{
		Title:     "Sunset Beach Festival",
		EventDate: date(2026, time.May, 2),
	})
	require.NoError(t, err)
	require.True(t, first.Inserted)

	second, err := d.Register(context.Background(), &db.Event{
		Title:     "SUNSET beach festival",
		EventDate: date(2026, time.May, 2),
	})
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.Event.ID, second.Event.ID, "loser learns the winner's id")
}

func TestRegisterConcurrentConvergesOnOneRow(t *testing.T) {
	store := newMockStore()
	logger := zerolog.Nop()
	d := New(store, &logger)

	const workers = 16

	ids := make([]string, workers)
	inserted := make([]bool, workers)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			res, err := d.Register(context.Background(), &db.Event{
				Title:     "Techno Tuesday",
				EventDate: date(2026, time.June, 9),
			})
			require.NoError(t, err)

			ids[i] = res.Event.ID
			inserted[i] = res.Inserted
		}(i)
	}

	wg.Wait()

	var wins int

	for i := 1; i < workers; i++ {
		assert.Equal(t, ids[0], ids[i], "all registrations see the same event")
	}

	for _, w := range inserted {
		if w {
			wins++
		}
	}

	assert.Equal(t, 1, wins, "exactly one registration creates the row")
	assert.Len(t, store.byFP, 1)
}
