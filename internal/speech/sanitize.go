package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// Sanitize strips markup and symbol noise from model output so the
// synthesized speech sounds conversational. Parentheses become pauses, which
// most synthesizers pronounce more naturally than the brackets themselves.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"(", " – ",
		")", " – ",
		"*", " ",
		"_", " ",
		"#", " ",
		"~", " ",
		"|", " ",
		"<", " ",
		">", " ",
		"\\", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs sound wrong when read aloud.
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
