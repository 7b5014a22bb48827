// Package filters implements the cheap pre-filter that gates messages before
// the LLM extraction step.
//
// A message is scored 0-7 from four signals: event keywords (up to +3),
// date/time patterns (+2), location patterns (+1) and attached media (+1).
// Blacklisted classifieds vocabulary (rent, crypto exchange, services, ...)
// rejects immediately, as do messages shorter than the minimum length once
// URLs are stripped.
package filters

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxScore is the top of the pre-filter scale.
	MaxScore = 7

	// DefaultThreshold is the minimum score that sends a message to extraction.
	DefaultThreshold = 2

	minTextLength = 80

	whitelistCap = 3
)

// Result is the outcome of the pre-filter for a single message.
type Result struct {
	Passed bool
	Score  int
	Reason string
}

var blacklistWords = []string{
	// Real estate
	"сдам", "сниму", "аренда", "вилла", "кондо", "квартир", "комнат",
	"жильё", "жилье", "апартамент", "долгосрок", "краткосрок",
	// Visas and documents
	"visa", "виза", "work permit", "разрешение на работу",
	// Crypto and exchange
	"usdt", "крипт", "биткоин", "btc", "обмен", "меняю", "курс валют",
	"exchange rate", "p2p",
	// Transport
	"байк", "скутер", "мотобайк", "rent bike",
	// Services
	"массаж", "маникюр", "педикюр", "наращивание", "эпиляци",
	"трансфер", "такси", "доставка", "клининг", "уборка",
	"ремонт", "сантехник", "электрик",
	// Sales
	"продам", "куплю", "продаю", "б/у",
	// Jobs
	"ищу работу", "вакансия", "требуется", "зарплата",
}

var whitelistWords = []string{
	// Russian
	"ивент", "мероприятие", "вечеринка", "тусовк", "митап",
	"нетворкинг", "встреча", "сходка", "движ",
	"йога", "серфинг", "волейбол", "футбол",
	"мастер-класс", "воркшоп", "лекция", "семинар",
	"концерт", "фестиваль", "открытие",
	"билет", "регистрация", "вход свободный",
	"приглашаем", "приходите", "ждём", "ждем", "присоединяйтесь",
	// English
	"event", "party", "meetup", "networking", "gathering",
	"workshop", "masterclass", "lecture", "seminar",
	"concert", "festival", "opening", "dj", "live music",
	"ticket", "free entry", "registration", "rsvp",
	"join us", "come join",
	"sunset", "beach party", "pool party", "rooftop",
}

var (
	blacklistPattern = compileWordPattern(blacklistWords)
	whitelistPattern = compileWordPattern(whitelistWords)

	datetimePattern = regexp.MustCompile(strings.Join([]string{
		`\d{1,2}[./]\d{1,2}(?:[./]\d{2,4})?`,
		`\d{1,2}\s*(?:января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)`,
		`(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}`,
		`в\s+\d{1,2}[:.]\d{2}`,
		`(?:at|from)\s+\d{1,2}[:.]\d{2}`,
		`\d{1,2}[:.]\d{2}\s*(?:-|–|—)\s*\d{1,2}[:.]\d{2}`,
		`сегодня|завтра|послезавтра`,
		`today|tomorrow`,
		`понедельник|вторник|сред[уы]|четверг|пятниц[уы]|суббот[уы]|воскресень[ея]`,
		`monday|tuesday|wednesday|thursday|friday|saturday|sunday`,
	}, "|"))

	locationPattern = regexp.MustCompile(strings.Join([]string{
		`📍`,
		`beach\s*club|bar|café|cafe|кафе|бар|ресторан|restaurant`,
		`coworking|коворкинг|hub|хаб|space|пространство`,
		`клуб|club|pool|бассейн|rooftop|крыша`,
		`адрес|address|место|location|venue|площадка`,
		`google\s*maps|goo\.gl|maps\.app`,
	}, "|"))

	urlPattern = regexp.MustCompile(`https?://\S+`)
)

func compileWordPattern(words []string) *regexp.Regexp {
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = regexp.QuoteMeta(w)
	}

	return regexp.MustCompile(`(?i)(` + strings.Join(escaped, "|") + `)`)
}

// Check scores the message text against all pre-filter signals.
func Check(text string, hasMedia bool) Result {
	return CheckWithThreshold(text, hasMedia, DefaultThreshold)
}

// CheckWithThreshold is Check with a caller-supplied passing score.
func CheckWithThreshold(text string, hasMedia bool, threshold int) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Passed: false, Score: 0, Reason: "empty"}
	}

	lowered := strings.ToLower(text)

	if m := blacklistPattern.FindString(lowered); m != "" {
		return Result{Passed: false, Score: 0, Reason: fmt.Sprintf("blacklist: %q", m)}
	}

	clean := strings.TrimSpace(urlPattern.ReplaceAllString(text, ""))
	if len([]rune(clean)) < minTextLength {
		return Result{Passed: false, Score: 0, Reason: fmt.Sprintf("too_short: %d chars", len([]rune(clean)))}
	}

	score := 0

	var reasons []string

	if matches := whitelistPattern.FindAllString(lowered, -1); len(matches) > 0 {
		points := len(matches)
		if points > whitelistCap {
			points = whitelistCap
		}

		score += points

		reasons = append(reasons, fmt.Sprintf("whitelist(%d)", len(matches)))
	}

	if datetimePattern.MatchString(lowered) {
		score += 2

		reasons = append(reasons, "datetime")
	}

	if locationPattern.MatchString(lowered) {
		score++

		reasons = append(reasons, "location")
	}

	if hasMedia {
		score++

		reasons = append(reasons, "has_media")
	}

	reason := "no_signals"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return Result{
		Passed: score >= threshold,
		Score:  score,
		Reason: fmt.Sprintf("score=%d/%d [%s]", score, threshold, reason),
	}
}
