package mailing

import (
	"html"
	"regexp"
	"strings"
)

var (
	styleScriptPattern = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>|<script\b[^>]*>.*?</script\s*>`)
	anyTagPattern      = regexp.MustCompile(`(?s)<[^>]*>`)
)

// StripHTML derives the plain-text alternative of an HTML body: style and
// script content is dropped, tags become spaces, entities are decoded and
// whitespace is collapsed.
func StripHTML(body string) string {
	if body == "" {
		return ""
	}
	out := styleScriptPattern.ReplaceAllString(body, " ")
	out = anyTagPattern.ReplaceAllString(out, " ")
	out = html.UnescapeString(out)
	return strings.Join(strings.Fields(out), " ")
}
