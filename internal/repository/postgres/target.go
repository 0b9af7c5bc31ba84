package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

// TargetRepo implements sendjob.TargetRepository against PostgreSQL.
type TargetRepo struct{ db *sql.DB }

// NewTargetRepo creates a Postgres-backed project target repository.
func NewTargetRepo(db *sql.DB) *TargetRepo { return &TargetRepo{db: db} }

var _ sendjob.TargetRepository = (*TargetRepo)(nil)

func (r *TargetRepo) ListByProject(ctx context.Context, projectID string) ([]domain.ProjectTarget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, target_id, tracking_token,
		       COALESCE(status, 'sent'), COALESCE(send_status, 'pending'), sent_at, send_error
		FROM project_targets
		WHERE project_id = $1
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project targets: %w", err)
	}
	defer rows.Close()

	var out []domain.ProjectTarget
	for rows.Next() {
		var (
			pt                 domain.ProjectTarget
			token, sendErr     sql.NullString
			status, sendStatus string
			sentAt             sql.NullTime
		)
		if err := rows.Scan(&pt.ID, &pt.ProjectID, &pt.TargetID, &token, &status, &sendStatus, &sentAt, &sendErr); err != nil {
			return nil, fmt.Errorf("scan project target: %w", err)
		}
		pt.TrackingToken = nullString(token)
		pt.Status = domain.DeliveryStatus(status)
		pt.SendStatus = domain.ParseSendStatus(sendStatus)
		pt.SentAt = nullTime(sentAt)
		pt.SendError = nullString(sendErr)
		out = append(out, pt)
	}
	return out, rows.Err()
}

// AssignTokens writes every token in one transaction. Rows that already
// carry a token keep it; the stored value is returned either way.
func (r *TargetRepo) AssignTokens(ctx context.Context, tokens map[string]string) (map[string]string, error) {
	ids := make([]string, 0, len(tokens))
	for id := range tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("assign tokens: begin: %w", err)
	}
	defer tx.Rollback()

	stored := make(map[string]string, len(ids))
	for _, id := range ids {
		var tok string
		err := tx.QueryRowContext(ctx, `
			UPDATE project_targets
			SET tracking_token = COALESCE(tracking_token, $2)
			WHERE id = $1
			RETURNING tracking_token
		`, id, tokens[id]).Scan(&tok)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("assign token to %s: %w", id, err)
		}
		stored[id] = tok
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("assign tokens: commit: %w", err)
	}
	return stored, nil
}

func (r *TargetRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE project_targets
		SET send_status = 'sent', sent_at = $2, send_error = NULL
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark target sent: %w", err)
	}
	return nil
}

func (r *TargetRepo) MarkFailed(ctx context.Context, id string, msg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE project_targets
		SET send_status = 'failed', send_error = $2
		WHERE id = $1
	`, id, msg)
	if err != nil {
		return fmt.Errorf("mark target failed: %w", err)
	}
	return nil
}

func (r *TargetRepo) GetTargets(ctx context.Context, ids []string) (map[string]domain.Target, error) {
	out := make(map[string]domain.Target, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(email, '')
		FROM targets
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Target
		if err := rows.Scan(&t.ID, &t.Name, &t.Email); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}
