package notification

import (
	"html"
	"regexp"
	"strings"
)

// Only the five tags the Desktop Notifications spec allows are stripped.
// Anything else in angle brackets (chat mentions, <spoiler>, <br>) is text.
var (
	markupTagRe = regexp.MustCompile(`(?i)</?(?:b|i|u|a)(?:\s[^>]*)?\s*>|<img(?:\s[^>]*)?\s*/?>`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// StripMarkup renders a body as plain text for history views. The store keeps
// the raw body; this is display-only.
func StripMarkup(body string) string {
	if body == "" {
		return body
	}
	text := markupTagRe.ReplaceAllString(body, "")
	text = html.UnescapeString(text)
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}
