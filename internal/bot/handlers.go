package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	db "github.com/event-radar/event-radar/internal/storage"
)

const (
	pendingPageSize = 10
	eventsPageSize  = 10
	reportsPageSize = 5
)

func (b *Bot) handleHelp(msg *tgbotapi.Message) {
	b.reply(msg, `<b>Commands</b>
/pending — discovered chats waiting for review
/approve &lt;id&gt; — approve a discovered chat and add it to the roster
/reject &lt;id&gt; — reject a discovered chat
/chats — the monitored roster
/deactivate &lt;chat id&gt; — stop polling a chat
/events — upcoming events
/recent — events detected in the last week
/event &lt;id&gt; — event details
/venue &lt;name&gt; — what the venue cache has for a name
/status — queue and cache counters
/reports — recent run reports`)
}

func (b *Bot) handlePending(ctx context.Context, msg *tgbotapi.Message) {
	pending, err := b.database.ListDiscoveredByStatus(ctx, db.DiscoveryStatusNew, pendingPageSize)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	if len(pending) == 0 {
		b.reply(msg, "Nothing pending review.")
		return
	}

	for _, d := range pending {
		var sb strings.Builder

		title := d.Title
		if title == "" {
			title = "(title unknown)"
		}

		fmt.Fprintf(&sb, "<b>%s</b>\n", escapeHTML(title))

		if d.Username != "" {
			fmt.Fprintf(&sb, "@%s\n", escapeHTML(d.Username))
		}

		if d.InviteLink != "" {
			fmt.Fprintf(&sb, "%s\n", escapeHTML(d.InviteLink))
		}

		if d.ParticipantsCount > 0 {
			fmt.Fprintf(&sb, "%d participants\n", d.ParticipantsCount)
		}

		fmt.Fprintf(&sb, "seen %d times, source: %s\nid: <code>%s</code>", d.TimesSeen, d.SourceType, d.ID)

		reply := tgbotapi.NewMessage(msg.Chat.ID, sb.String())
		reply.ParseMode = tgbotapi.ModeHTML
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "review:approve:"+d.ID),
				tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "review:reject:"+d.ID),
			),
		)

		if _, err := b.api.Send(reply); err != nil {
			b.logger.Error().Err(err).Msg("failed to send pending entry")
		}
	}
}

func (b *Bot) handleDecision(ctx context.Context, msg *tgbotapi.Message, status string) {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		b.reply(msg, "Usage: /"+msg.Command()+" <id>")
		return
	}

	answer, err := b.decide(ctx, id, status)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	b.reply(msg, answer)
}

// decide applies a review decision. Approval also promotes resolved chats to
// the monitored roster.
func (b *Bot) decide(ctx context.Context, id, status string) (string, error) {
	if err := b.database.UpdateDiscoveredStatus(ctx, id, status); err != nil {
		switch {
		case errors.Is(err, db.ErrIllegalTransition):
			return "", errors.New("already reviewed")
		case errors.Is(err, db.ErrDiscoveryNotFound):
			return "", errors.New("no such discovered chat")
		default:
			return "", err
		}
	}

	if status != db.DiscoveryStatusApproved {
		return "Rejected.", nil
	}

	d, err := b.database.GetDiscovered(ctx, id)
	if err != nil {
		return "", err
	}

	if d.ChatID == nil {
		return "Approved. Roster entry will follow once the chat id resolves.", nil
	}

	kind := d.Kind
	if kind == "" {
		kind = "megagroup"
	}

	chat := &db.Chat{
		ID:       *d.ChatID,
		Title:    d.Title,
		Username: d.Username,
		Kind:     kind,
	}

	if err := b.database.UpsertChat(ctx, chat); err != nil {
		return "", fmt.Errorf("add to roster: %w", err)
	}

	return "Approved and added to the roster.", nil
}

func (b *Bot) handleChats(ctx context.Context, msg *tgbotapi.Message) {
	chats, err := b.database.ListActiveChats(ctx)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	if len(chats) == 0 {
		b.reply(msg, "The roster is empty.")
		return
	}

	var sb strings.Builder

	sb.WriteString("<b>Monitored chats</b>\n")

	for _, chat := range chats {
		fmt.Fprintf(&sb, "• %s (<code>%d</code>)", escapeHTML(chat.Title), chat.ID)

		if chat.Username != "" {
			fmt.Fprintf(&sb, " @%s", escapeHTML(chat.Username))
		}

		sb.WriteString("\n")
	}

	b.reply(msg, sb.String())
}

func (b *Bot) handleDeactivate(ctx context.Context, msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.reply(msg, "Usage: /deactivate <chat id>")
		return
	}

	if err := b.database.SetChatActive(ctx, id, false); err != nil {
		if errors.Is(err, db.ErrChatNotFound) {
			b.reply(msg, "No such chat on the roster.")
			return
		}

		b.reply(msg, "Error: "+err.Error())

		return
	}

	b.reply(msg, "Deactivated.")
}

func (b *Bot) handleEvents(ctx context.Context, msg *tgbotapi.Message) {
	events, err := b.database.ListUpcomingEvents(ctx, eventsPageSize)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	if len(events) == 0 {
		b.reply(msg, "No upcoming events.")
		return
	}

	var sb strings.Builder

	sb.WriteString("<b>Upcoming events</b>\n")

	for _, ev := range events {
		when := "TBD"
		if ev.EventDate != nil {
			when = ev.EventDate.Format("Mon, 2 Jan")
		}

		fmt.Fprintf(&sb, "• <b>%s</b> — %s", escapeHTML(ev.Title), when)

		if ev.LocationName != "" {
			fmt.Fprintf(&sb, " @ %s", escapeHTML(ev.LocationName))
		}

		sb.WriteString("\n")
	}

	b.reply(msg, sb.String())
}

func (b *Bot) handleRecent(ctx context.Context, msg *tgbotapi.Message) {
	events, err := b.database.ListEventsSince(ctx, time.Now().AddDate(0, 0, -7), eventsPageSize)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	if len(events) == 0 {
		b.reply(msg, "Nothing detected in the last week.")
		return
	}

	var sb strings.Builder

	sb.WriteString("<b>Detected this week</b>\n")

	for _, ev := range events {
		fmt.Fprintf(&sb, "• <b>%s</b> [%s] detected %s\n  <code>%s</code>\n",
			escapeHTML(ev.Title), escapeHTML(ev.Category),
			ev.DetectedAt.Format("02.01 15:04"), ev.ID)
	}

	b.reply(msg, sb.String())
}

func (b *Bot) handleEventDetail(ctx context.Context, msg *tgbotapi.Message) {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		b.reply(msg, "Usage: /event <id>")
		return
	}

	ev, err := b.database.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrEventNotFound) {
			b.reply(msg, "No such event.")
			return
		}

		b.reply(msg, "Error: "+err.Error())

		return
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "<b>%s</b> [%s]\n", escapeHTML(ev.Title), escapeHTML(ev.Category))

	when := "TBD"
	if ev.EventDate != nil {
		when = ev.EventDate.Format("Mon, 2 Jan 2006")
	}

	if ev.EventTime != "" {
		when += " " + ev.EventTime
	}

	fmt.Fprintf(&sb, "When: %s\n", escapeHTML(when))

	if ev.LocationName != "" {
		fmt.Fprintf(&sb, "Where: %s\n", escapeHTML(ev.LocationName))
	}

	if ev.VenueID != "" {
		if venue, err := b.database.GetVenue(ctx, ev.VenueID); err == nil && venue.MapsURL != "" {
			fmt.Fprintf(&sb, "Map: %s\n", escapeHTML(venue.MapsURL))
		}
	}

	if ev.PriceTHB > 0 {
		fmt.Fprintf(&sb, "Price: %d THB\n", ev.PriceTHB)
	}

	if ev.Summary != "" {
		fmt.Fprintf(&sb, "%s\n", escapeHTML(ev.Summary))
	}

	fmt.Fprintf(&sb, "Source: %s (score %d), detected %s",
		escapeHTML(ev.SourceChatTitle), ev.FilterScore, ev.DetectedAt.Format("02.01 15:04"))

	b.reply(msg, sb.String())
}

func (b *Bot) handleVenue(ctx context.Context, msg *tgbotapi.Message) {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		b.reply(msg, "Usage: /venue <name>")
		return
	}

	venue, err := b.database.GetVenueByName(ctx, name)
	if err != nil {
		if errors.Is(err, db.ErrVenueNotFound) {
			b.reply(msg, "The venue cache has nothing under that name.")
			return
		}

		b.reply(msg, "Error: "+err.Error())

		return
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "<b>%s</b>\n", escapeHTML(venue.Name))

	if venue.Address != "" {
		fmt.Fprintf(&sb, "%s\n", escapeHTML(venue.Address))
	}

	if venue.MapsURL != "" {
		fmt.Fprintf(&sb, "%s\n", escapeHTML(venue.MapsURL))
	}

	if venue.Lat != 0 || venue.Lng != 0 {
		fmt.Fprintf(&sb, "%.6f, %.6f\n", venue.Lat, venue.Lng)
	}

	fmt.Fprintf(&sb, "cached %s", venue.CachedAt.Format("02.01.2006"))

	b.reply(msg, sb.String())
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	eventCount, err := b.database.CountEvents(ctx)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	discStats, err := b.database.CountDiscovered(ctx)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	aliasStats, err := b.database.CountAliases(ctx)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	b.reply(msg, fmt.Sprintf(`<b>Status</b>
Events stored: %d
Discovered chats: %d (%d pending, %d approved, %d rejected)
Venue cache: %d aliases (%d negative) over %d venues`,
		eventCount,
		discStats.Total, discStats.New, discStats.Approved, discStats.Rejected,
		aliasStats.Total, aliasStats.Negative, aliasStats.Venues))
}

func (b *Bot) handleReports(ctx context.Context, msg *tgbotapi.Message) {
	reports, err := b.database.ListRunReports(ctx, "", reportsPageSize)
	if err != nil {
		b.reply(msg, "Error: "+err.Error())
		return
	}

	if len(reports) == 0 {
		b.reply(msg, "No run reports yet.")
		return
	}

	var sb strings.Builder

	sb.WriteString("<b>Recent runs</b>\n")

	for _, r := range reports {
		fmt.Fprintf(&sb, "• %s %s: %d seen, %d stored, %d dup, %d filtered (%.0fs)\n",
			r.CreatedAt.Format("02.01 15:04"), r.Mode,
			r.MessagesSeen, r.EventsStored, r.Duplicates, r.Filtered, r.ElapsedSec)
	}

	b.reply(msg, sb.String())
}
