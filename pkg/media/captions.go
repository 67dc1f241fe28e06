package media

import (
	"strings"
	"unicode/utf8"
)

// BuildCaption produces the final TikTok caption for a post. The source
// caption wins when present; otherwise the template is filled with the
// message text. Configured hashtags go after a blank line, and the whole
// thing is capped at maxLength with trailing whitespace stripped.
func BuildCaption(sourceCaption, sourceText, template, hashtags string, maxLength int) string {
	caption := strings.TrimSpace(sourceCaption)
	if caption == "" {
		caption = strings.TrimSpace(strings.ReplaceAll(template, "{text}", strings.TrimSpace(sourceText)))
	}

	if tags := strings.TrimSpace(hashtags); tags != "" {
		if caption != "" {
			caption += "\n\n" + tags
		} else {
			caption = tags
		}
	}

	// Cap by characters, not bytes, so multi-byte captions stay valid UTF-8.
	if maxLength > 0 && utf8.RuneCountInString(caption) > maxLength {
		runes := []rune(caption)
		caption = string(runes[:maxLength])
	}
	return strings.TrimRight(caption, " \t\n\r")
}
