package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishsense/sendjobs/internal/domain"
)

func TestGetProject(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewProjectRepo(db)

	mock.ExpectQuery(`FROM projects\s+WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "template_id", "training_page_id", "from_name", "from_email", "sending_domain", "send_validation_error"}).
			AddRow("p1", "Q3 drill", "tpl-1", nil, "IT", nil, "mail.example.com", nil))

	p, err := repo.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p.TemplateID)
	assert.Equal(t, "tpl-1", *p.TemplateID)
	assert.Nil(t, p.TrainingPageID)
	assert.Nil(t, p.FromEmail)
	assert.Equal(t, "mail.example.com", *p.SendingDomain)

	mock.ExpectQuery(`FROM projects`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = repo.GetProject(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTemplate(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewProjectRepo(db)

	mock.ExpectQuery(`FROM templates\s+WHERE id = \$1`).
		WithArgs("tpl-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "subject", "body", "malicious", "enabled", "label", "kind", "new_tab"}).
			AddRow("tpl-1", "Invoice", "Overdue invoice", "<p>{{LANDING_URL}}</p>", "<p>{{TRAINING_URL}}</p>", true, "Open", "button", false))

	tpl, err := repo.GetTemplate(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, "Overdue invoice", tpl.Subject)
	assert.Equal(t, domain.CTAButton, tpl.AutoInsert.Kind)
	assert.False(t, tpl.AutoInsert.NewTab)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTrainingPage(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewProjectRepo(db)

	mock.ExpectQuery(`FROM training_pages`).
		WithArgs("tp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status"}).AddRow("tp-1", "Awareness", "inactive"))

	p, err := repo.GetTrainingPage(context.Background(), "tp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TrainingPageInactive, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSendValidationError(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewProjectRepo(db)
	msg := "Mail body has no LANDING_URL token."

	mock.ExpectExec(`UPDATE projects SET send_validation_error = \$2 WHERE id = \$1`).
		WithArgs("p1", msg).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE projects SET send_validation_error = \$2 WHERE id = \$1`).
		WithArgs("p1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetSendValidationError(context.Background(), "p1", &msg))
	require.NoError(t, repo.SetSendValidationError(context.Background(), "p1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
