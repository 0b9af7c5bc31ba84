package mailing

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultBaseURL is used when no public application URL is configured.
const DefaultBaseURL = "http://localhost:3000"

// Links builds the per-recipient tracking URLs served by the public app.
// Every URL is keyed by the target's tracking token.
type Links struct {
	base string
}

// NewLinks returns a Links rooted at baseURL. Trailing slashes are trimmed
// and a blank base falls back to DefaultBaseURL.
func NewLinks(baseURL string) Links {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return Links{base: base}
}

// BaseURL returns the normalized base.
func (l Links) BaseURL() string { return l.base }

// LandingURL is the link a recipient clicks in the mail.
func (l Links) LandingURL(token string) string {
	return l.base + "/p/" + url.PathEscape(token)
}

// OpenPixelURL is the invisible image that records opens.
func (l Links) OpenPixelURL(token string) string {
	return l.base + "/o/" + url.PathEscape(token) + ".gif"
}

// SubmitURL receives credential-form submissions from the landing page.
func (l Links) SubmitURL(token string) string {
	return l.base + "/t/" + url.PathEscape(token)
}

// NewTrackingToken returns a fresh random capability token.
func NewTrackingToken() string {
	return uuid.NewString()
}
