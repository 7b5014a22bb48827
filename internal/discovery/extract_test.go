package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/event-radar/event-radar/internal/storage"
)

func TestExtractInviteLinks(t *testing.T) {
	now := time.Now()
	text := "join us https://t.me/+AbCdEf123456 or t.me/joinchat/XyZ098765432"

	sightings := Extract(text, 100, now)
	require.Len(t, sightings, 2)

	assert.Equal(t, "t.me/+AbCdEf123456", sightings[0].InviteLink)
	assert.Equal(t, "t.me/+XyZ098765432", sightings[1].InviteLink)
	assert.Equal(t, db.DiscoverySourceInviteLink, sightings[0].SourceType)
	assert.Equal(t, int64(100), sightings[0].FoundInChatID)
}

func TestExtractPublicLinksAndMentions(t *testing.T) {
	text := "check https://t.me/phangan_events/123 and follow @island_parties"

	sightings := Extract(text, 5, time.Now())
	require.Len(t, sightings, 2)

	assert.Equal(t, "phangan_events", sightings[0].Username)
	assert.Equal(t, db.DiscoverySourcePublicLink, sightings[0].SourceType)
	assert.Equal(t, "island_parties", sightings[1].Username)
	assert.Equal(t, db.DiscoverySourcePublicLink, sightings[1].SourceType)
}

func TestExtractSkipsSystemAndBots(t *testing.T) {
	text := "via @BotFather, t.me/share/url?x=1, ping @reminder_bot and t.me/proxy?server=x"

	sightings := Extract(text, 5, time.Now())
	assert.Empty(t, sightings)
}

func TestExtractDeduplicatesWithinMessage(t *testing.T) {
	text := "@phangan_events posted t.me/phangan_events again: @Phangan_Events"

	sightings := Extract(text, 5, time.Now())
	require.Len(t, sightings, 1)
	assert.Equal(t, "phangan_events", sightings[0].Username)
}

func TestExtractInviteHashNotMistakenForUsername(t *testing.T) {
	text := "https://t.me/+AbCdEf123456"

	sightings := Extract(text, 5, time.Now())
	require.Len(t, sightings, 1)
	assert.Empty(t, sightings[0].Username)
	assert.Equal(t, "t.me/+AbCdEf123456", sightings[0].InviteLink)
}

func TestFromForward(t *testing.T) {
	now := time.Now()
	s := FromForward(42, "Phangan_Events", "Phangan Events", "channel", 7, now)

	require.NotNil(t, s.ChatID)
	assert.Equal(t, int64(42), *s.ChatID)
	assert.Equal(t, "phangan_events", s.Username)
	assert.Equal(t, db.DiscoverySourceForward, s.SourceType)
}
