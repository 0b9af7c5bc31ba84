package domain

import "time"

// JobStatus enumerates the lifecycle states of a send job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Valid reports whether s is one of the known job states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobDone, JobFailed:
		return true
	}
	return false
}

// IsActive returns true for states that block another job on the same project.
func (s JobStatus) IsActive() bool {
	return s == JobQueued || s == JobRunning
}

// IsTerminal returns true if the job will never change state again.
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobFailed
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
//
//	queued  -> running          (claim)
//	running -> done | failed    (dispatch outcome)
//	running -> queued           (retryable failure, release, stale sweep)
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobRunning
	case JobRunning:
		return next == JobDone || next == JobFailed || next == JobQueued
	}
	return false
}

// SendJob is one attempt to deliver a project's mail to its targets.
type SendJob struct {
	ID           string     `json:"id" db:"id"`
	ProjectID    string     `json:"projectId" db:"project_id"`
	Status       JobStatus  `json:"status" db:"status"`
	TotalCount   int        `json:"totalCount" db:"total_count"`
	SuccessCount int        `json:"successCount" db:"success_count"`
	FailCount    int        `json:"failCount" db:"fail_count"`
	Attempts     int        `json:"attempts" db:"attempts"`
	LastError    *string    `json:"lastError" db:"last_error"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	StartedAt    *time.Time `json:"startedAt" db:"started_at"`
	FinishedAt   *time.Time `json:"finishedAt" db:"finished_at"`
	HeartbeatAt  *time.Time `json:"heartbeatAt,omitempty" db:"heartbeat_at"`
}

// Claim is one worker's hold on a running job. Claiming a job again, after
// a requeue or release, issues a new token, so writes carrying the old one no
// longer apply.
type Claim struct {
	JobID string
	Token string
}

// Processed returns how many targets have reached a terminal send state in this run.
func (j *SendJob) Processed() int {
	return j.SuccessCount + j.FailCount
}
