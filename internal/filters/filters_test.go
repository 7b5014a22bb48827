package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const partyText = "Full Moon Party at Sunset Beach club this saturday from 20:00! " +
	"DJ sets, fire show and free entry before 21:00. Join us for the best beach party on the island."

func TestCheck_EventPasses(t *testing.T) {
	res := Check(partyText, false)

	assert.True(t, res.Passed)
	assert.GreaterOrEqual(t, res.Score, DefaultThreshold)
	assert.LessOrEqual(t, res.Score, MaxScore)
}

func TestCheck_BlacklistRejects(t *testing.T) {
	text := "Сдам виллу на длительный срок, 3 спальни, бассейн, район Сритану. Писать в личку, фото по запросу."

	res := Check(text, false)

	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "blacklist")
}

func TestCheck_TooShortRejects(t *testing.T) {
	res := Check("party tonight https://t.me/somechannel", false)

	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "too_short")
}

func TestCheck_EmptyRejects(t *testing.T) {
	res := Check("   ", true)

	assert.False(t, res.Passed)
	assert.Equal(t, "empty", res.Reason)
}

func TestCheck_MediaAddsPoint(t *testing.T) {
	without := Check(partyText, false)
	with := Check(partyText, true)

	assert.Equal(t, without.Score+1, with.Score)
}

func TestCheck_NoSignals(t *testing.T) {
	text := "Просто длинное сообщение ни о чем конкретном, рассуждения про жизнь на острове, " +
		"погоду и прочие мелочи, которые не являются анонсом."

	res := Check(text, false)

	assert.False(t, res.Passed)
	assert.Equal(t, 0, res.Score)
}

func TestCheckWithThreshold(t *testing.T) {
	res := CheckWithThreshold(partyText, false, MaxScore)

	assert.False(t, res.Passed)
	assert.Positive(t, res.Score)
}
