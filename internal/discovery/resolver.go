package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	db "github.com/event-radar/event-radar/internal/storage"
)

// resolveSleep spaces out Telegram API calls between rows.
const resolveSleep = 500 * time.Millisecond

// ResolverStore is the database slice the resolver worker needs on top of
// the merger's.
type ResolverStore interface {
	ListUnresolvedDiscovered(ctx context.Context, limit int) ([]*db.Discovered, error)
	GetChat(ctx context.Context, id int64) (*db.Chat, error)
	UpdateDiscoveredStatus(ctx context.Context, id, status string) error
}

// ResolverWorker fills in missing chat ids for discovered rows by asking the
// Telegram API about their usernames and invite links. Resolution goes back
// through the merger, so a username row and an invite row that turn out to
// be the same chat bridge into one.
type ResolverWorker struct {
	store     ResolverStore
	merger    *Merger
	api       *tg.Client
	batchSize int
	logger    *zerolog.Logger
}

// NewResolverWorker creates a resolver worker.
func NewResolverWorker(store ResolverStore, merger *Merger, api *tg.Client, batchSize int, logger *zerolog.Logger) *ResolverWorker {
	return &ResolverWorker{
		store:     store,
		merger:    merger,
		api:       api,
		batchSize: batchSize,
		logger:    logger,
	}
}

// ResolveBatch processes one batch of unresolved rows. It returns the number
// of rows whose chat id became known.
func (w *ResolverWorker) ResolveBatch(ctx context.Context) (int, error) {
	rows, err := w.store.ListUnresolvedDiscovered(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	var resolved int

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		s, ok := w.resolveRow(ctx, row)
		if !ok {
			continue
		}

		rowID, err := w.merger.Observe(ctx, s)
		if err != nil {
			w.logger.Warn().Err(err).Str("discovered_id", row.ID).Msg("failed to record resolution")
			continue
		}

		w.markSelf(ctx, rowID, s.ChatID)

		resolved++

		select {
		case <-ctx.Done():
			return resolved, ctx.Err()
		case <-time.After(resolveSleep):
		}
	}

	return resolved, nil
}

func (w *ResolverWorker) resolveRow(ctx context.Context, row *db.Discovered) (Sighting, bool) {
	switch {
	case row.Username != "":
		return w.resolveUsername(ctx, row)
	case row.InviteLink != "":
		return w.resolveInvite(ctx, row)
	default:
		return Sighting{}, false
	}
}

func (w *ResolverWorker) resolveUsername(ctx context.Context, row *db.Discovered) (Sighting, bool) {
	resolved, err := w.api.ContactsResolveUsername(ctx, row.Username)
	if err != nil {
		w.waitFlood(ctx, err)
		w.logger.Debug().Err(err).Str("username", row.Username).Msg("username resolution failed")

		return Sighting{}, false
	}

	if len(resolved.Chats) == 0 {
		return Sighting{}, false
	}

	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return Sighting{}, false
	}

	w.logger.Info().
		Str("username", row.Username).
		Int64("chat_id", channel.ID).
		Str("title", channel.Title).
		Msg("discovered chat resolved")

	chatID := channel.ID

	return Sighting{
		ChatID:            &chatID,
		Username:          row.Username,
		Title:             channel.Title,
		Kind:              channelKind(channel),
		SourceType:        row.SourceType,
		FoundInChatID:     row.FoundInChatID,
		ParticipantsCount: channel.ParticipantsCount,
		SeenAt:            row.LastSeenAt,
	}, true
}

func (w *ResolverWorker) resolveInvite(ctx context.Context, row *db.Discovered) (Sighting, bool) {
	hash := strings.TrimPrefix(row.InviteLink, "t.me/+")
	if hash == row.InviteLink || hash == "" {
		return Sighting{}, false
	}

	invite, err := w.api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		w.waitFlood(ctx, err)
		w.logger.Debug().Err(err).Str("invite_link", row.InviteLink).Msg("invite check failed")

		return Sighting{}, false
	}

	s := Sighting{
		InviteLink:    row.InviteLink,
		SourceType:    row.SourceType,
		FoundInChatID: row.FoundInChatID,
		SeenAt:        row.LastSeenAt,
	}

	switch i := invite.(type) {
	case *tg.ChatInviteAlready:
		channel, ok := i.Chat.(*tg.Channel)
		if !ok {
			return Sighting{}, false
		}

		chatID := channel.ID
		s.ChatID = &chatID
		s.Username = channel.Username
		s.Title = channel.Title
		s.Kind = channelKind(channel)
		s.ParticipantsCount = channel.ParticipantsCount
	case *tg.ChatInvitePeek:
		channel, ok := i.Chat.(*tg.Channel)
		if !ok {
			return Sighting{}, false
		}

		chatID := channel.ID
		s.ChatID = &chatID
		s.Username = channel.Username
		s.Title = channel.Title
		s.Kind = channelKind(channel)
		s.ParticipantsCount = channel.ParticipantsCount
	case *tg.ChatInvite:
		// The invite preview has no peer id, but the title is still worth
		// keeping for the review queue.
		s.Title = i.Title
		s.ParticipantsCount = i.ParticipantsCount

		if s.Title == "" {
			return Sighting{}, false
		}
	default:
		return Sighting{}, false
	}

	w.logger.Info().
		Str("invite_link", row.InviteLink).
		Str("title", s.Title).
		Msg("invite link resolved")

	return s, true
}

// markSelf flags resolutions that land on a chat already being monitored,
// so the review queue does not ask admins about their own roster.
func (w *ResolverWorker) markSelf(ctx context.Context, rowID string, chatID *int64) {
	if chatID == nil {
		return
	}

	chat, err := w.store.GetChat(ctx, *chatID)
	if err != nil || !chat.IsActive {
		return
	}

	err = w.store.UpdateDiscoveredStatus(ctx, rowID, db.DiscoveryStatusSelf)
	if err != nil && !errors.Is(err, db.ErrIllegalTransition) {
		w.logger.Warn().Err(err).Str("discovered_id", rowID).Msg("failed to mark self discovery")
	}
}

func (w *ResolverWorker) waitFlood(ctx context.Context, err error) {
	floodErr, ok := tgerr.As(err)
	if !ok || floodErr.Type != "FLOOD_WAIT" {
		return
	}

	w.logger.Warn().Int("seconds", floodErr.Argument).Msg("flood wait")

	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(floodErr.Argument) * time.Second):
	}
}

func channelKind(ch *tg.Channel) string {
	if ch.Megagroup {
		return "megagroup"
	}

	if ch.Broadcast {
		return "channel"
	}

	return "group"
}
