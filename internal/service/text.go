package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxSanitizePasses = 4

// plainText strips the markup policy disallows and decodes the entities the
// policy escaped on the way out, so stored text reads the way it was typed.
// Decoding can surface markup that arrived entity-encoded, so the pass repeats
// until the text is stable. Text that never settles is returned escaped.
func plainText(policy *bluemonday.Policy, raw string) string {
	text := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	return strings.TrimSpace(policy.Sanitize(text))
}
