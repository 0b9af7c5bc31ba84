// Package validation decides whether a campaign's template and training page
// are fit to send.
//
// Checks are pure. ValidateProject performs the two lookups it needs through
// the Lookup interface; persisting the outcome on the project is the
// caller's job.
package validation
