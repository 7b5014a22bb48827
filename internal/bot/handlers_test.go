package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/event-radar/event-radar/internal/storage"
)

// reviewStore fakes the discovery review slice of the store. Status updates
// follow the same rules as the real table: only rows in "new" accept a
// decision, and the target must be a terminal state.
type reviewStore struct {
	Store

	mu    sync.Mutex
	rows  map[string]*db.Discovered
	chats map[int64]*db.Chat
}

func newReviewStore() *reviewStore {
	return &reviewStore{
		rows:  make(map[string]*db.Discovered),
		chats: make(map[int64]*db.Chat),
	}
}

func (s *reviewStore) UpdateDiscoveredStatus(_ context.Context, id, status string) error {
	switch status {
	case db.DiscoveryStatusApproved, db.DiscoveryStatusRejected, db.DiscoveryStatusSelf:
	default:
		return fmt.Errorf("invalid discovery status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return db.ErrDiscoveryNotFound
	}

	if row.Status != db.DiscoveryStatusNew {
		return db.ErrIllegalTransition
	}

	row.Status = status

	return nil
}

func (s *reviewStore) GetDiscovered(_ context.Context, id string) (*db.Discovered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, db.ErrDiscoveryNotFound
	}

	copied := *row

	return &copied, nil
}

func (s *reviewStore) UpsertChat(_ context.Context, chat *db.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *chat
	s.chats[chat.ID] = &copied

	return nil
}

func (s *reviewStore) status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rows[id].Status
}

func newReviewBot(store *reviewStore) *Bot {
	logger := zerolog.Nop()

	return &Bot{database: store, logger: &logger}
}

func TestDecideApprovePromotesToRoster(t *testing.T) {
	store := newReviewStore()
	chatID := int64(-100500)
	store.rows["d1"] = &db.Discovered{
		ID:       "d1",
		ChatID:   &chatID,
		Username: "island_parties",
		Title:    "Island Parties",
		Status:   db.DiscoveryStatusNew,
	}

	b := newReviewBot(store)

	answer, err := b.decide(context.Background(), "d1", db.DiscoveryStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, "Approved and added to the roster.", answer)
	assert.Equal(t, db.DiscoveryStatusApproved, store.status("d1"))

	require.Contains(t, store.chats, chatID)
	assert.Equal(t, "Island Parties", store.chats[chatID].Title)
	assert.Equal(t, "megagroup", store.chats[chatID].Kind, "kind defaults when the sighting had none")
}

func TestDecideApproveUnresolvedChatID(t *testing.T) {
	store := newReviewStore()
	store.rows["d1"] = &db.Discovered{
		ID:       "d1",
		Username: "island_parties",
		Status:   db.DiscoveryStatusNew,
	}

	b := newReviewBot(store)

	answer, err := b.decide(context.Background(), "d1", db.DiscoveryStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, "Approved. Roster entry will follow once the chat id resolves.", answer)
	assert.Empty(t, store.chats)
}

func TestDecideReject(t *testing.T) {
	store := newReviewStore()
	store.rows["d1"] = &db.Discovered{ID: "d1", Status: db.DiscoveryStatusNew}

	b := newReviewBot(store)

	answer, err := b.decide(context.Background(), "d1", db.DiscoveryStatusRejected)
	require.NoError(t, err)
	assert.Equal(t, "Rejected.", answer)
	assert.Equal(t, db.DiscoveryStatusRejected, store.status("d1"))
	assert.Empty(t, store.chats)
}

func TestDecideTerminalStatusesNeverTransition(t *testing.T) {
	terminal := []string{
		db.DiscoveryStatusApproved,
		db.DiscoveryStatusRejected,
		db.DiscoveryStatusSelf,
	}

	for _, from := range terminal {
		for _, to := range []string{db.DiscoveryStatusApproved, db.DiscoveryStatusRejected} {
			t.Run(from+"_to_"+to, func(t *testing.T) {
				store := newReviewStore()
				store.rows["d1"] = &db.Discovered{ID: "d1", Status: from}

				b := newReviewBot(store)

				_, err := b.decide(context.Background(), "d1", to)
				require.Error(t, err)
				assert.EqualError(t, err, "already reviewed")
				assert.Equal(t, from, store.status("d1"), "status stays put")
			})
		}
	}
}

func TestDecideUnknownID(t *testing.T) {
	b := newReviewBot(newReviewStore())

	_, err := b.decide(context.Background(), "missing", db.DiscoveryStatusApproved)
	require.Error(t, err)
	assert.EqualError(t, err, "no such discovered chat")
}
