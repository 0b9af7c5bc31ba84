package mailing

import (
	"regexp"
	"strings"
)

// Placeholder names recognized in template bodies. Matching is
// case-insensitive and tolerates whitespace inside the braces.
const (
	TokenLandingURL   = "LANDING_URL"
	TokenOpenPixelURL = "OPEN_PIXEL_URL"
	TokenTrainingURL  = "TRAINING_URL"
	TokenSubmitURL    = "SUBMIT_URL"
)

var (
	// MailAllowedTokens may appear in a mail body.
	MailAllowedTokens = []string{TokenLandingURL, TokenOpenPixelURL}
	// MaliciousAllowedTokens may appear in malicious landing content.
	MaliciousAllowedTokens = []string{TokenTrainingURL, TokenSubmitURL}
)

var placeholderPattern = regexp.MustCompile(`(?i)\{\{\s*([A-Z0-9_]+)\s*\}\}`)

// ExtractTokens returns the distinct placeholder names in html, upper-cased,
// in order of first appearance.
func ExtractTokens(html string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(html, -1) {
		name := strings.ToUpper(m[1])
		if !seen[name] {
			seen[name] = true
			tokens = append(tokens, name)
		}
	}
	return tokens
}

// CountToken returns how many times the named placeholder occurs in html.
func CountToken(html, name string) int {
	n := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(html, -1) {
		if strings.EqualFold(m[1], name) {
			n++
		}
	}
	return n
}

// UnknownTokens returns the entries of tokens that are not in allowed.
func UnknownTokens(tokens, allowed []string) []string {
	var unknown []string
	for _, t := range tokens {
		ok := false
		for _, a := range allowed {
			if t == a {
				ok = true
				break
			}
		}
		if !ok {
			unknown = append(unknown, t)
		}
	}
	return unknown
}

// ReplaceToken substitutes every occurrence of the named placeholder with
// value. The value is inserted literally.
func ReplaceToken(html, name, value string) string {
	return placeholderPattern.ReplaceAllStringFunc(html, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		if strings.EqualFold(sub[1], name) {
			return value
		}
		return m
	})
}
