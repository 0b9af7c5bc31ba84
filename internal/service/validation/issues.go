package validation

import (
	"strings"
)

// Code identifies one kind of send-blocking problem.
type Code string

const (
	CodeTemplateMissing               Code = "template_missing"
	CodeTrainingPageMissing           Code = "training_page_missing"
	CodeTrainingPageInactive          Code = "training_page_inactive"
	CodeMailMissingLandingToken       Code = "mail_missing_landing_token"
	CodeMailUnknownTokens             Code = "mail_unknown_tokens"
	CodeMaliciousUnknownTokens        Code = "malicious_unknown_tokens"
	CodeMaliciousContentMissing       Code = "malicious_content_missing"
	CodeMaliciousMissingTrainingToken Code = "malicious_missing_training_token"
)

// Scope says which part of the campaign an issue belongs to.
type Scope string

const (
	ScopeProject   Scope = "project"
	ScopeMail      Scope = "mail"
	ScopeMalicious Scope = "malicious"
)

// Issue is a single validation finding.
type Issue struct {
	Code    Code     `json:"code"`
	Scope   Scope    `json:"scope"`
	Message string   `json:"message"`
	Tokens  []string `json:"tokens,omitempty"`
}

// Result is the outcome of a validation run.
type Result struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

func newResult(issues []Issue) Result {
	return Result{OK: len(issues) == 0, Issues: issues}
}

// Message is the newline-joined issue messages, or "" when OK.
func (r Result) Message() string { return Format(r.Issues) }

// Has reports whether an issue with the given code was found.
func (r Result) Has(code Code) bool {
	for _, is := range r.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Format joins issue messages with newlines. This is the text stored on the
// project as its send validation error.
func Format(issues []Issue) string {
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.Message
	}
	return strings.Join(msgs, "\n")
}

// Error carries failed validation issues through error returns.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	return "send validation failed: " + Format(e.Issues)
}
