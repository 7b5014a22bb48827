// Package discovery finds chats mentioned in monitored traffic and keeps a
// deduplicated review queue of them across three identifier spaces: numeric
// chat id, public username and private invite link.
package discovery

import (
	"regexp"
	"strings"
	"time"

	"github.com/event-radar/event-radar/internal/normalize"
	db "github.com/event-radar/event-radar/internal/storage"
)

// Sighting is one observation of a chat in monitored traffic. At least one
// of ChatID, Username or InviteLink is set.
type Sighting struct {
	ChatID            *int64
	Username          string
	InviteLink        string
	Title             string
	Kind              string
	SourceType        string
	FoundInChatID     int64
	ParticipantsCount int
	SeenAt            time.Time
}

// identifiers returns the sighting's normalized identity keys, used both
// for locking and for matching stored rows.
func (s *Sighting) identifiers() (username, inviteLink string) {
	return normalize.Username(s.Username), normalize.InviteLink(s.InviteLink)
}

// empty reports whether the sighting carries no usable identifier.
func (s *Sighting) empty() bool {
	username, invite := s.identifiers()
	return s.ChatID == nil && username == "" && invite == ""
}

var (
	inviteLinkPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?t\.me/(?:\+|joinchat/)([A-Za-z0-9_-]{10,})`)
	publicLinkPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?t\.me/([A-Za-z][A-Za-z0-9_]{3,31})(?:/\d+)?`)
	mentionPattern    = regexp.MustCompile(`(?:^|[\s(])@([A-Za-z][A-Za-z0-9_]{3,31})\b`)
)

// systemUsernames are t.me paths and bot handles that never denote a chat.
var systemUsernames = map[string]bool{
	"joinchat":     true,
	"share":        true,
	"proxy":        true,
	"socks":        true,
	"setlanguage":  true,
	"addstickers":  true,
	"addemoji":     true,
	"addtheme":     true,
	"login":        true,
	"confirmphone": true,
	"giftcode":     true,
	"boost":        true,
	"telegram":     true,
	"botfather":    true,
}

// Extract scans message text for references to other chats. Invite links,
// public t.me links and bare @mentions each produce a sighting; duplicates
// within one message fold together.
func Extract(text string, foundInChatID int64, seenAt time.Time) []Sighting {
	var sightings []Sighting

	seen := make(map[string]bool)

	for _, m := range inviteLinkPattern.FindAllStringSubmatch(text, -1) {
		link := normalize.InviteLink(m[0])
		if link == "" || seen["invite:"+link] {
			continue
		}

		seen["invite:"+link] = true

		sightings = append(sightings, Sighting{
			InviteLink:    link,
			SourceType:    db.DiscoverySourceInviteLink,
			FoundInChatID: foundInChatID,
			SeenAt:        seenAt,
		})
	}

	// Strip invite links before matching public ones so the invite hash is
	// not mistaken for a username.
	stripped := inviteLinkPattern.ReplaceAllString(text, " ")

	for _, m := range publicLinkPattern.FindAllStringSubmatch(stripped, -1) {
		username := normalize.Username(m[1])
		if username == "" || systemUsernames[username] || isBotUsername(username) || seen["user:"+username] {
			continue
		}

		seen["user:"+username] = true

		sightings = append(sightings, Sighting{
			Username:      username,
			SourceType:    db.DiscoverySourcePublicLink,
			FoundInChatID: foundInChatID,
			SeenAt:        seenAt,
		})
	}

	for _, m := range mentionPattern.FindAllStringSubmatch(stripped, -1) {
		username := normalize.Username(m[1])
		if username == "" || systemUsernames[username] || isBotUsername(username) || seen["user:"+username] {
			continue
		}

		seen["user:"+username] = true

		sightings = append(sightings, Sighting{
			Username:      username,
			SourceType:    db.DiscoverySourcePublicLink,
			FoundInChatID: foundInChatID,
			SeenAt:        seenAt,
		})
	}

	return sightings
}

// FromForward builds a sighting from a forwarded message header, which
// carries the source chat's numeric id and usually its title.
func FromForward(chatID int64, username, title, kind string, foundInChatID int64, seenAt time.Time) Sighting {
	return Sighting{
		ChatID:        &chatID,
		Username:      normalize.Username(username),
		Title:         title,
		Kind:          kind,
		SourceType:    db.DiscoverySourceForward,
		FoundInChatID: foundInChatID,
		SeenAt:        seenAt,
	}
}

func isBotUsername(username string) bool {
	return strings.HasSuffix(username, "bot")
}
