package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

// activeJobConstraint is the partial unique index allowing one queued or
// running job per project.
const activeJobConstraint = "send_jobs_one_active_per_project"

const sendJobColumns = `
	id, project_id, status, total_count, success_count, fail_count, attempts,
	last_error, created_at, started_at, finished_at, heartbeat_at`

// SendJobRepo implements sendjob.JobRepository against PostgreSQL.
type SendJobRepo struct {
	db       *sql.DB
	newToken func() string
}

// NewSendJobRepo creates a Postgres-backed send job repository.
func NewSendJobRepo(db *sql.DB) *SendJobRepo {
	return &SendJobRepo{db: db, newToken: uuid.NewString}
}

var _ sendjob.JobRepository = (*SendJobRepo)(nil)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSendJob(row rowScanner) (*domain.SendJob, error) {
	j := &domain.SendJob{}
	var (
		lastError                   sql.NullString
		startedAt, finishedAt, beat sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.Status, &j.TotalCount, &j.SuccessCount, &j.FailCount, &j.Attempts,
		&lastError, &j.CreatedAt, &startedAt, &finishedAt, &beat,
	)
	if err != nil {
		return nil, err
	}
	j.LastError = nullString(lastError)
	j.StartedAt = nullTime(startedAt)
	j.FinishedAt = nullTime(finishedAt)
	j.HeartbeatAt = nullTime(beat)
	return j, nil
}

func (r *SendJobRepo) Create(ctx context.Context, job *domain.SendJob) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_jobs (id, project_id, status, total_count, success_count, fail_count, attempts, created_at)
		VALUES ($1, $2, 'queued', $3, 0, 0, 0, $4)
	`, job.ID, job.ProjectID, job.TotalCount, created)
	if isUniqueViolation(err, activeJobConstraint) {
		return sendjob.ErrActiveJobExists
	}
	if err != nil {
		return fmt.Errorf("create send job: %w", err)
	}
	job.Status = domain.JobQueued
	job.CreatedAt = created
	return nil
}

func (r *SendJobRepo) Get(ctx context.Context, id string) (*domain.SendJob, error) {
	j, err := scanSendJob(r.db.QueryRowContext(ctx,
		`SELECT `+sendJobColumns+` FROM send_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get send job: %w", err)
	}
	return j, nil
}

func (r *SendJobRepo) FindActive(ctx context.Context, projectID string) (*domain.SendJob, error) {
	j, err := scanSendJob(r.db.QueryRowContext(ctx, `
		SELECT `+sendJobColumns+`
		FROM send_jobs
		WHERE project_id = $1 AND status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active send job: %w", err)
	}
	return j, nil
}

// ClaimNext locks the oldest queued row with SKIP LOCKED so concurrent
// workers pass over rows another transaction holds instead of waiting. The
// row is stamped with a new claim token that later writes must present.
func (r *SendJobRepo) ClaimNext(ctx context.Context) (domain.Claim, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim send job: begin: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM send_jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Claim{}, sendjob.ErrNoQueuedJob
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim send job: select: %w", err)
	}

	c := domain.Claim{JobID: id, Token: r.newToken()}
	if _, err := tx.ExecContext(ctx, `
		UPDATE send_jobs
		SET status = 'running', claim_token = $2, started_at = NOW(), heartbeat_at = NOW()
		WHERE id = $1
	`, id, c.Token); err != nil {
		return domain.Claim{}, fmt.Errorf("claim send job: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, fmt.Errorf("claim send job: commit: %w", err)
	}
	return c, nil
}

func (r *SendJobRepo) updateRunning(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireRunning(res)
}

func (r *SendJobRepo) StartRun(ctx context.Context, c domain.Claim, total int) error {
	return r.updateRunning(ctx, "start send job", `
		UPDATE send_jobs
		SET total_count = $3, success_count = 0, fail_count = 0, last_error = NULL, heartbeat_at = NOW()
		WHERE id = $1 AND status = 'running' AND claim_token = $2
	`, c.JobID, c.Token, total)
}

func (r *SendJobRepo) RecordProgress(ctx context.Context, c domain.Claim, success, fail int) error {
	return r.updateRunning(ctx, "record send progress", `
		UPDATE send_jobs
		SET success_count = $3, fail_count = $4, heartbeat_at = NOW()
		WHERE id = $1 AND status = 'running' AND claim_token = $2
	`, c.JobID, c.Token, success, fail)
}

func (r *SendJobRepo) Complete(ctx context.Context, c domain.Claim) error {
	return r.updateRunning(ctx, "complete send job", `
		UPDATE send_jobs
		SET status = 'done', claim_token = NULL, finished_at = NOW()
		WHERE id = $1 AND status = 'running' AND claim_token = $2
	`, c.JobID, c.Token)
}

func (r *SendJobRepo) Fail(ctx context.Context, c domain.Claim, attempts int, msg string) error {
	return r.updateRunning(ctx, "fail send job", `
		UPDATE send_jobs
		SET status = 'failed', claim_token = NULL, attempts = $3, last_error = $4, finished_at = NOW()
		WHERE id = $1 AND status = 'running' AND claim_token = $2
	`, c.JobID, c.Token, attempts, msg)
}

func (r *SendJobRepo) Requeue(ctx context.Context, c domain.Claim, attempts int, msg string) error {
	return r.updateRunning(ctx, "requeue send job", `
		UPDATE send_jobs
		SET status = 'queued', claim_token = NULL, attempts = $3, last_error = $4,
		    started_at = NULL, heartbeat_at = NULL
		WHERE id = $1 AND status = 'running' AND claim_token = $2
	`, c.JobID, c.Token, attempts, msg)
}

func (r *SendJobRepo) Release(ctx context.Context, c domain.Claim) error {
	return r.updateRunning(ctx, "release send job", `
		UPDATE send_jobs
		SET status = 'queued', claim_token = NULL, started_at = NULL, heartbeat_at = NULL
		WHERE id = $1 AND status = 'running' AND claim_token = $2
	`, c.JobID, c.Token)
}

// RequeueStale runs two passes: jobs on their last attempt are failed, the
// rest go back to queued.
func (r *SendJobRepo) RequeueStale(ctx context.Context, lease time.Duration, maxAttempts int) (int, int, error) {
	leaseSeconds := int64(lease / time.Second)

	res, err := r.db.ExecContext(ctx, `
		UPDATE send_jobs
		SET status = 'failed', claim_token = NULL, attempts = attempts + 1, last_error = 'lease expired',
		    finished_at = NOW()
		WHERE status = 'running'
		  AND COALESCE(heartbeat_at, started_at, created_at) < NOW() - ($1 * INTERVAL '1 second')
		  AND attempts + 1 >= $2
	`, leaseSeconds, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale send jobs: %w", err)
	}
	failed, _ := res.RowsAffected()

	res, err = r.db.ExecContext(ctx, `
		UPDATE send_jobs
		SET status = 'queued', claim_token = NULL, attempts = attempts + 1, last_error = 'lease expired',
		    started_at = NULL, heartbeat_at = NULL
		WHERE status = 'running'
		  AND COALESCE(heartbeat_at, started_at, created_at) < NOW() - ($1 * INTERVAL '1 second')
	`, leaseSeconds)
	if err != nil {
		return 0, int(failed), fmt.Errorf("requeue stale send jobs: %w", err)
	}
	requeued, _ := res.RowsAffected()

	return int(requeued), int(failed), nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
