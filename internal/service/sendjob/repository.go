package sendjob

import (
	"context"
	"time"

	"github.com/phishsense/sendjobs/internal/domain"
)

// JobRepository is the data access contract for send jobs.
// Implementations must be safe for concurrent use.
//
// Every method that changes a running job takes the claim returned by
// ClaimNext. It only applies while the job is still running under that same
// claim and returns ErrLeaseLost otherwise, including after the job was
// recovered by RequeueStale and claimed again.
type JobRepository interface {
	// Create inserts a queued job. Returns ErrActiveJobExists if the
	// project already has a queued or running job.
	Create(ctx context.Context, job *domain.SendJob) error

	// Get returns a job. Returns domain.ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.SendJob, error)

	// FindActive returns the project's queued or running job, or
	// domain.ErrNotFound.
	FindActive(ctx context.Context, projectID string) (*domain.SendJob, error)

	// ClaimNext moves the oldest queued job to running and returns a claim
	// carrying a fresh token. Concurrent callers never receive the same job.
	// Returns ErrNoQueuedJob when nothing is waiting.
	ClaimNext(ctx context.Context) (domain.Claim, error)

	// StartRun records the working-set size, zeroes the counters and clears
	// lastError.
	StartRun(ctx context.Context, c domain.Claim, total int) error

	// RecordProgress stores the running counters and renews the lease.
	RecordProgress(ctx context.Context, c domain.Claim, success, fail int) error

	// Complete marks the job done.
	Complete(ctx context.Context, c domain.Claim) error

	// Fail marks the job failed with the given attempt count and message.
	Fail(ctx context.Context, c domain.Claim, attempts int, msg string) error

	// Requeue returns the job to queued for another attempt.
	Requeue(ctx context.Context, c domain.Claim, attempts int, msg string) error

	// Release returns the job to queued without counting an attempt. Used
	// when a worker shuts down mid-job.
	Release(ctx context.Context, c domain.Claim) error

	// RequeueStale recovers running jobs whose lease is older than lease.
	// Each counts as a failed attempt: it is requeued, or failed once
	// maxAttempts is reached.
	RequeueStale(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, failed int, err error)
}

// TargetRepository is the data access contract for project targets and the
// recipients they reference.
type TargetRepository interface {
	// ListByProject returns every target of the project in a stable order.
	ListByProject(ctx context.Context, projectID string) ([]domain.ProjectTarget, error)

	// AssignTokens stores tokens keyed by project-target id on rows that
	// have none, and returns the token each row ends up with.
	AssignTokens(ctx context.Context, tokens map[string]string) (map[string]string, error)

	// MarkSent records a delivered message and clears any previous error.
	MarkSent(ctx context.Context, id string, at time.Time) error

	// MarkFailed records a failed delivery.
	MarkFailed(ctx context.Context, id string, msg string) error

	// GetTargets returns the recipients with the given ids. Missing ids are
	// absent from the map.
	GetTargets(ctx context.Context, ids []string) (map[string]domain.Target, error)
}

// ProjectRepository reads the campaign records a send depends on.
type ProjectRepository interface {
	// GetProject returns domain.ErrNotFound if the project doesn't exist.
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	GetTrainingPage(ctx context.Context, id string) (*domain.TrainingPage, error)

	// SetSendValidationError stores msg, or clears it when msg is nil.
	SetSendValidationError(ctx context.Context, projectID string, msg *string) error
}
