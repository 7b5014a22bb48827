// Package bot is the admin control surface: reviewing discovered chats,
// inspecting the event feed and receiving notifications about new events.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/event-radar/event-radar/internal/config"
	db "github.com/event-radar/event-radar/internal/storage"
)

// Store is the database slice the admin surface needs.
type Store interface {
	ListDiscoveredByStatus(ctx context.Context, status string, limit int) ([]*db.Discovered, error)
	GetDiscovered(ctx context.Context, id string) (*db.Discovered, error)
	UpdateDiscoveredStatus(ctx context.Context, id, status string) error
	CountDiscovered(ctx context.Context) (*db.DiscoveryStats, error)

	UpsertChat(ctx context.Context, chat *db.Chat) error
	ListActiveChats(ctx context.Context) ([]*db.Chat, error)
	SetChatActive(ctx context.Context, id int64, active bool) error

	GetEvent(ctx context.Context, id string) (*db.Event, error)
	ListUpcomingEvents(ctx context.Context, limit int) ([]*db.Event, error)
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]*db.Event, error)
	CountEvents(ctx context.Context) (int64, error)

	GetVenue(ctx context.Context, id string) (*db.Venue, error)
	GetVenueByName(ctx context.Context, name string) (*db.Venue, error)
	CountAliases(ctx context.Context) (*db.AliasStats, error)

	ListRunReports(ctx context.Context, mode string, limit int) ([]*db.RunReport, error)
}

type Bot struct {
	cfg      *config.Config
	database Store
	api      *tgbotapi.BotAPI
	logger   *zerolog.Logger
}

func New(cfg *config.Config, database Store, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}

	return &Bot{
		cfg:      cfg,
		database: database,
		api:      api,
		logger:   logger,
	}, nil
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}

			if update.Message == nil {
				continue
			}

			if !b.isAdmin(update.Message.From.ID) {
				b.logger.Warn().
					Int64("user_id", update.Message.From.ID).
					Str("username", update.Message.From.UserName).
					Msg("Unauthorized access attempt")

				continue
			}

			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}

	return false
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	b.logger.Info().Str("command", msg.Command()).Int64("user_id", msg.From.ID).Msg("Handling command")

	switch msg.Command() {
	case "start", "help":
		b.handleHelp(msg)
	case "pending":
		b.handlePending(ctx, msg)
	case "approve":
		b.handleDecision(ctx, msg, db.DiscoveryStatusApproved)
	case "reject":
		b.handleDecision(ctx, msg, db.DiscoveryStatusRejected)
	case "chats":
		b.handleChats(ctx, msg)
	case "deactivate":
		b.handleDeactivate(ctx, msg)
	case "events":
		b.handleEvents(ctx, msg)
	case "recent":
		b.handleRecent(ctx, msg)
	case "event":
		b.handleEventDetail(ctx, msg)
	case "venue":
		b.handleVenue(ctx, msg)
	case "status":
		b.handleStatus(ctx, msg)
	case "reports":
		b.handleReports(ctx, msg)
	default:
		b.reply(msg, "Unknown command. Try /help")
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if !b.isAdmin(query.From.ID) {
		return
	}

	// review:<approve|reject>:<discovered id>
	parts := strings.Split(query.Data, ":")
	if len(parts) != 3 || parts[0] != "review" {
		return
	}

	status := db.DiscoveryStatusApproved
	if parts[1] == "reject" {
		status = db.DiscoveryStatusRejected
	}

	answer, err := b.decide(ctx, parts[2], status)
	if err != nil {
		b.logger.Error().Err(err).Str("discovered_id", parts[2]).Msg("review decision failed")

		answer = "Error: " + err.Error()
	}

	callback := tgbotapi.NewCallback(query.ID, answer)
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error().Err(err).Msg("failed to send callback response")
	}
}

// SendNotification delivers a message to the target channel when one is
// configured, otherwise to every admin directly.
func (b *Bot) SendNotification(ctx context.Context, text string) error {
	if b.cfg.TargetChatID != 0 {
		msg := tgbotapi.NewMessage(b.cfg.TargetChatID, text)
		msg.ParseMode = tgbotapi.ModeHTML

		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", b.cfg.TargetChatID).Msg("failed to send notification")
		}

		return nil
	}

	for _, adminID := range b.cfg.AdminIDs {
		msg := tgbotapi.NewMessage(adminID, text)
		msg.ParseMode = tgbotapi.ModeHTML

		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error().Err(err).Int64("admin_id", adminID).Msg("failed to send notification to admin")
		}
	}

	return nil
}

// EventStored notifies admins about a freshly stored event. It implements
// the pipeline's sink so the listener can run with the bot attached.
func (b *Bot) EventStored(ctx context.Context, ev *db.Event) error {
	when := "TBD"
	if ev.EventDate != nil {
		when = ev.EventDate.Format("Mon, 2 Jan")
	}

	if ev.EventTime != "" {
		when += " " + ev.EventTime
	}

	text := fmt.Sprintf("🆕 <b>%s</b>\n%s\n📅 %s", escapeHTML(ev.Title), escapeHTML(ev.Summary), when)

	if ev.LocationName != "" {
		text += "\n📍 " + escapeHTML(ev.LocationName)
	}

	if ev.PriceTHB > 0 {
		text += fmt.Sprintf("\n💸 %d THB", ev.PriceTHB)
	}

	return b.SendNotification(ctx, text)
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML

	if _, err := b.api.Send(reply); err != nil {
		b.logger.Error().Err(err).Msg("failed to send reply")
	}
}

func escapeHTML(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}
