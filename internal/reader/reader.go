// Package reader polls the monitored chats over MTProto and feeds their new
// messages into the ingestion pipeline.
package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"github.com/event-radar/event-radar/internal/config"
	"github.com/event-radar/event-radar/internal/discovery"
	"github.com/event-radar/event-radar/internal/ingest"
	"github.com/event-radar/event-radar/internal/observability"
	db "github.com/event-radar/event-radar/internal/storage"
	"github.com/event-radar/event-radar/internal/worker"
)

// ErrChatNotFound indicates the chat's username resolved to nothing.
var ErrChatNotFound = errors.New("chat not found")

// ErrNotAChannel indicates the resolved peer is not a channel or group.
var ErrNotAChannel = errors.New("peer is not a channel")

// ErrMissingAccessHash indicates the chat has a peer id but no access hash
// and no username to resolve one with.
var ErrMissingAccessHash = errors.New("missing access_hash for chat")

const (
	emptyRosterSleep   = 30 * time.Second
	aliasPurgeInterval = 6 * time.Hour
)

type Reader struct {
	cfg      *config.Config
	database *db.DB
	pipeline *ingest.Pipeline
	merger   *discovery.Merger
	client   *telegram.Client
	logger   *zerolog.Logger
}

func New(cfg *config.Config, database *db.DB, pipeline *ingest.Pipeline, merger *discovery.Merger, logger *zerolog.Logger) *Reader {
	return &Reader{
		cfg:      cfg,
		database: database,
		pipeline: pipeline,
		merger:   merger,
		logger:   logger,
	}
}

// Run connects, authenticates and polls until the context ends.
func (r *Reader) Run(ctx context.Context) error {
	client := telegram.NewClient(r.cfg.TGAPIID, r.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{
			Path: r.cfg.TGSessionPath,
		},
	})

	r.client = client

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, r.authFlow()); err != nil {
			return err
		}

		r.logger.Info().Msg("Successfully authenticated as user")

		return r.pollLoop(ctx)
	})
}

// RunResolver connects and runs only the discovery resolution loop, for
// deployments that split resolution from listening.
func (r *Reader) RunResolver(ctx context.Context, onResolved func(int)) error {
	client := telegram.NewClient(r.cfg.TGAPIID, r.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{
			Path: r.cfg.TGSessionPath,
		},
	})

	r.client = client

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, r.authFlow()); err != nil {
			return err
		}

		api := tg.NewClient(client)
		resolver := discovery.NewResolverWorker(r.database, r.merger, api, r.cfg.ResolverBatchSize, r.logger)

		return worker.Loop(ctx, worker.Config{
			Name:         "resolver",
			PollInterval: r.cfg.ResolverPollInterval,
			Process: func(ctx context.Context) error {
				resolved, err := resolver.ResolveBatch(ctx)
				if err != nil {
					return err
				}

				if resolved > 0 {
					r.logger.Info().Int("resolved", resolved).Msg("discovered chats resolved")

					if onResolved != nil {
						onResolved(resolved)
					}
				}

				return nil
			},
			PeriodicTasks: []worker.PeriodicTask{r.aliasPurgeTask()},
			Logger:        r.logger,
		})
	})
}

func (r *Reader) pollLoop(ctx context.Context) error {
	api := tg.NewClient(r.client)

	resolver := discovery.NewResolverWorker(r.database, r.merger, api, r.cfg.ResolverBatchSize, r.logger)

	return worker.Loop(ctx, worker.Config{
		Name:         "listener",
		PollInterval: r.cfg.ReaderPollInterval,
		Process: func(ctx context.Context) error {
			return r.pollCycle(ctx, api, resolver)
		},
		PeriodicTasks: []worker.PeriodicTask{r.aliasPurgeTask()},
		Logger:        r.logger,
	})
}

// pollCycle polls every active chat once, then drains one discovery
// resolution batch.
func (r *Reader) pollCycle(ctx context.Context, api *tg.Client, resolver *discovery.ResolverWorker) error {
	chats, err := r.database.ListActiveChats(ctx)
	if err != nil {
		return fmt.Errorf("list active chats: %w", err)
	}

	if len(chats) == 0 {
		r.logger.Info().Msg("No active chats to poll. Waiting...")

		return worker.Wait(ctx, emptyRosterSleep)
	}

	start := time.Now()
	cycleMsgs := 0

	for _, chat := range chats {
		count, err := r.pollChat(ctx, api, chat)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			r.logger.Error().Err(err).Str("chat", chat.Title).Msg("failed to poll chat")
		}

		cycleMsgs += count
	}

	r.logger.Info().
		Int("chats", len(chats)).
		Int("msgs", cycleMsgs).
		Dur("duration", time.Since(start)).
		Msg("Finished polling cycle")

	if resolved, err := resolver.ResolveBatch(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("discovery resolution failed")
	} else if resolved > 0 {
		r.logger.Info().Int("resolved", resolved).Msg("discovered chats resolved")
	}

	return nil
}

// aliasPurgeTask drops negative venue aliases older than their TTL so
// venues that open later get another lookup.
func (r *Reader) aliasPurgeTask() worker.PeriodicTask {
	return worker.PeriodicTask{
		Name:     "purge-stale-aliases",
		Interval: aliasPurgeInterval,
		Run: func(ctx context.Context) {
			purged, err := r.database.DeleteAliasesOlderThan(ctx, r.cfg.NegativeAliasTTL, true)
			if err != nil {
				r.logger.Warn().Err(err).Msg("failed to purge stale venue aliases")

				return
			}

			if purged > 0 {
				r.logger.Info().Int64("purged", purged).Msg("purged stale negative venue aliases")
			}
		},
	}
}

// pollChat fetches one batch of new messages for a chat and runs each
// through the pipeline. Returns the number of messages handled.
func (r *Reader) pollChat(ctx context.Context, api *tg.Client, chat *db.Chat) (int, error) {
	batchStart := time.Now()
	defer func() {
		observability.ReaderBatchDuration.Observe(time.Since(batchStart).Seconds())
	}()

	peer, err := r.resolvePeer(ctx, api, chat)
	if err != nil {
		return 0, err
	}

	req := &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: r.cfg.ReaderFetchLimit,
	}

	if chat.LastMessageID > 0 {
		// Fetch messages newer than last seen
		req.OffsetID = int(chat.LastMessageID)
		req.AddOffset = -r.cfg.ReaderFetchLimit
	}

	history, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		floodErr, ok := tgerr.As(err)
		if ok && floodErr.Type == "FLOOD_WAIT" {
			r.logger.Warn().Int("seconds", floodErr.Argument).Str("chat", chat.Title).Msg("flood wait")

			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(floodErr.Argument) * time.Second):
			}

			return 0, nil
		}

		return 0, fmt.Errorf("failed to get history: %w", err)
	}

	messages, responseChats := splitHistory(history)
	if messages == nil {
		return 0, nil
	}

	// Forward headers reference peers by id only; the response's chat list
	// carries their titles.
	titles := make(map[int64]*tg.Channel)

	for _, c := range responseChats {
		if channel, ok := c.(*tg.Channel); ok {
			titles[channel.ID] = channel
		}
	}

	count := 0
	maxID := chat.LastMessageID

	for _, m := range messages {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}

		if int64(msg.ID) > maxID {
			maxID = int64(msg.ID)
		}

		if int64(msg.ID) <= chat.LastMessageID || msg.Message == "" {
			continue
		}

		if _, err := r.pipeline.Handle(ctx, r.buildMessage(msg, chat, titles)); err != nil {
			r.logger.Error().Err(err).Str("chat", chat.Title).Int("msg_id", msg.ID).Msg("pipeline failed")
			continue
		}

		count++
	}

	if maxID > chat.LastMessageID {
		if err := r.database.UpdateLastMessageID(ctx, chat.ID, maxID); err != nil {
			r.logger.Error().Err(err).Str("chat", chat.Title).Msg("failed to advance cursor")
		}
	}

	return count, nil
}

func (r *Reader) buildMessage(msg *tg.Message, chat *db.Chat, titles map[int64]*tg.Channel) ingest.Message {
	out := ingest.Message{
		ChatID:    chat.ID,
		ChatTitle: chat.Title,
		MessageID: int64(msg.ID),
		Text:      msg.Message,
		HasMedia:  msg.Media != nil,
		SentAt:    time.Unix(int64(msg.Date), 0),
	}

	if fwd, ok := msg.GetFwdFrom(); ok {
		if from, ok := fwd.GetFromID(); ok {
			if peer, ok := from.(*tg.PeerChannel); ok {
				info := &ingest.ForwardInfo{ChatID: peer.ChannelID}

				if channel, ok := titles[peer.ChannelID]; ok {
					info.Username = channel.Username
					info.Title = channel.Title
					info.ParticipantsCount = channel.ParticipantsCount

					if channel.Megagroup {
						info.Kind = "megagroup"
					} else if channel.Broadcast {
						info.Kind = "channel"
					}
				}

				out.Forward = info
			}
		}
	}

	return out
}

// resolvePeer builds an input peer for the chat, resolving its username once
// to learn the access hash and caching it.
func (r *Reader) resolvePeer(ctx context.Context, api *tg.Client, chat *db.Chat) (tg.InputPeerClass, error) {
	if chat.AccessHash != 0 {
		return &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}, nil
	}

	if chat.Username == "" {
		return nil, fmt.Errorf("%w: %d", ErrMissingAccessHash, chat.ID)
	}

	r.logger.Debug().Str("username", chat.Username).Msg("Resolving username (no cached peer info)")

	resolved, err := api.ContactsResolveUsername(ctx, chat.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}

	if len(resolved.Chats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chat.Username)
	}

	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAChannel, chat.Username)
	}

	chat.AccessHash = channel.AccessHash
	chat.Title = channel.Title

	if err := r.database.UpdateChatPeer(ctx, chat.ID, channel.AccessHash, channel.Title); err != nil {
		r.logger.Warn().Err(err).Str("username", chat.Username).Msg("failed to cache peer info")
	}

	return &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}, nil
}

func splitHistory(history tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.ChatClass) {
	switch h := history.(type) {
	case *tg.MessagesMessages:
		return h.Messages, h.Chats
	case *tg.MessagesMessagesSlice:
		return h.Messages, h.Chats
	case *tg.MessagesChannelMessages:
		return h.Messages, h.Chats
	default:
		return nil, nil
	}
}
