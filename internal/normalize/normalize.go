// Package normalize provides the canonical comparison keys used across the
// ingestion pipeline: fingerprint text normalization, venue query
// normalization, username lowercasing and invite-link canonicalization.
//
// Every function here is pure and locale-independent so keys stay stable
// across runs and hosts.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Text normalizes free text for fingerprinting: case-folded, punctuation
// stripped (letters, digits and spaces survive), whitespace collapsed.
func Text(s string) string {
	s = folder.String(strings.TrimSpace(s))

	var b strings.Builder

	b.Grow(len(s))

	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// locationSuffixes are trailing area hints people append to venue names.
// Stripping them keeps "Sunset Beach, Koh Phangan" and "Sunset Beach" on the
// same cache key.
var locationSuffixes = []string{
	", koh phangan", ", ko phangan", ", ko pha-ngan",
	", ко-панган", ", ко панган", ", панган",
	", phangan", ", phangan island",
	", haad rin", ", haad yao", ", haad salad",
	", thong sala", ", ban tai", ", chaloklum",
	", chaweng", ", samui", ", maduea wan",
	" koh phangan", " ko phangan",
	" (koh phangan)", " (ko phangan)",
	" (phangan)",
}

// venueAliases maps frequent misspellings and short forms to the canonical
// cache key. Keys and values are already normalized.
var venueAliases = map[string]string{
	"aum":                       "aum sound healing center",
	"aum center":                "aum sound healing center",
	"aum soundhealing center":   "aum sound healing center",
	"aum soundhealing":          "aum sound healing center",
	"aum phangan":               "aum sound healing center",
	"aum sound center":          "aum sound healing center",
	"kefir":                     "kefir family restaurant",
	"kefir restaurant":          "kefir family restaurant",
	"sunset hill":               "sunset hill resort",
	"sunset hill restaurant":    "sunset hill resort",
	"nashe mesto":               "mesto",
	"mesto phangan":             "mesto",
	"sati yoga koh phangan":     "sati yoga",
	"shivari amphitheater":      "shivari",
	"shivari center":            "shivari",
	"shivari koh phangan":       "shivari",
	"lost paradise koh phangan": "lost paradise",
	"stay gold cafe bar":        "stay gold",
	"stay gold ko phangan":      "stay gold",
	"catch phangan":             "catch",
	"711":                       "7eleven",
	"711 meeting point":         "7eleven",
}

// VenueQuery normalizes a raw venue phrase into the alias-cache key: lowered,
// location suffixes stripped, punctuation removed, whitespace collapsed, alias
// table applied last.
func VenueQuery(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))

	for _, suffix := range locationSuffixes {
		if strings.HasSuffix(lowered, suffix) {
			lowered = strings.TrimSpace(strings.TrimSuffix(lowered, suffix))
			break
		}
	}

	key := Text(lowered)

	if canonical, ok := venueAliases[key]; ok {
		return canonical
	}

	return key
}

// Username canonicalizes a Telegram username: leading @ removed, lowercased.
func Username(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// InviteLink canonicalizes both invite-link formats to "t.me/+HASH".
// The hash itself is case-sensitive and kept as is.
func InviteLink(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")

	if rest, ok := strings.CutPrefix(s, "t.me/joinchat/"); ok {
		return "t.me/+" + rest
	}

	if rest, ok := strings.CutPrefix(s, "t.me/+"); ok {
		return "t.me/+" + rest
	}

	return s
}

var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "h", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya",
}

// TransliterateRu converts Cyrillic runes to a Latin approximation, used as a
// fallback search query when the external places index has no Cyrillic entry.
func TransliterateRu(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for _, r := range s {
		lower := unicode.ToLower(r)

		repl, ok := cyrillicToLatin[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}

		if unicode.IsUpper(r) && repl != "" {
			b.WriteString(strings.ToUpper(repl[:1]) + repl[1:])
			continue
		}

		b.WriteString(repl)
	}

	return b.String()
}

// HasCyrillic reports whether the string contains at least one Cyrillic rune.
func HasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}

	return false
}
