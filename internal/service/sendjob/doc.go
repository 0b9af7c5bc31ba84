// Package sendjob owns the send-job queue: launching a campaign, enqueuing
// at most one active job per project, and issuing tracking tokens.
//
// The service depends only on the repository interfaces defined here.
// Postgres implementations live in repository/postgres/ and an in-memory
// implementation for tests and local runs lives in repository/memory/.
package sendjob
