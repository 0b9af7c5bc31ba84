package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

// ProjectRepo implements sendjob.ProjectRepository against PostgreSQL.
// It reads the campaign tables owned by the CRUD layer and writes only
// projects.send_validation_error.
type ProjectRepo struct{ db *sql.DB }

// NewProjectRepo creates a Postgres-backed project repository.
func NewProjectRepo(db *sql.DB) *ProjectRepo { return &ProjectRepo{db: db} }

var _ sendjob.ProjectRepository = (*ProjectRepo)(nil)

func (r *ProjectRepo) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{}
	var templateID, pageID, fromName, fromEmail, domainName, validationErr sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), template_id, training_page_id,
		       from_name, from_email, sending_domain, send_validation_error
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &templateID, &pageID, &fromName, &fromEmail, &domainName, &validationErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.TemplateID = nullString(templateID)
	p.TrainingPageID = nullString(pageID)
	p.FromName = nullString(fromName)
	p.FromEmail = nullString(fromEmail)
	p.SendingDomain = nullString(domainName)
	p.SendValidationError = nullString(validationErr)
	return p, nil
}

func (r *ProjectRepo) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	t := &domain.Template{}
	var kind string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(subject, ''), COALESCE(body, ''),
		       COALESCE(malicious_page_content, ''),
		       COALESCE(auto_insert_landing_enabled, TRUE),
		       COALESCE(auto_insert_landing_label, ''),
		       COALESCE(auto_insert_landing_kind, 'link'),
		       COALESCE(auto_insert_landing_new_tab, TRUE)
		FROM templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.MaliciousPageContent,
		&t.AutoInsert.Enabled, &t.AutoInsert.Label, &kind, &t.AutoInsert.NewTab)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	t.AutoInsert.Kind = domain.CTAKind(kind)
	return t, nil
}

func (r *ProjectRepo) GetTrainingPage(ctx context.Context, id string) (*domain.TrainingPage, error) {
	p := &domain.TrainingPage{}
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(status, 'active')
		FROM training_pages
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get training page: %w", err)
	}
	p.Status = domain.TrainingPageStatus(status)
	return p, nil
}

func (r *ProjectRepo) SetSendValidationError(ctx context.Context, projectID string, msg *string) error {
	var arg interface{}
	if msg != nil {
		arg = *msg
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET send_validation_error = $2 WHERE id = $1
	`, projectID, arg)
	if err != nil {
		return fmt.Errorf("set send validation error: %w", err)
	}
	return nil
}
