package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/repository/memory"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

func strp(s string) *string { return &s }

func setupTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.PutTemplate(domain.Template{
		ID:                   "tpl-1",
		Subject:              "Shared document",
		Body:                 `<a href="{{LANDING_URL}}">Open</a>`,
		MaliciousPageContent: `<a href="{{TRAINING_URL}}">Learn</a>`,
	})
	store.PutTemplate(domain.Template{
		ID:                   "tpl-broken",
		Body:                 `<p>{{FIRST_NAME}}</p>`,
		MaliciousPageContent: ``,
	})
	store.PutTrainingPage(domain.TrainingPage{ID: "tp-1", Status: domain.TrainingPageActive})
	store.PutProject(domain.Project{ID: "p1", TemplateID: strp("tpl-1"), TrainingPageID: strp("tp-1")})
	store.PutProject(domain.Project{ID: "p-broken", TemplateID: strp("tpl-broken"), TrainingPageID: strp("tp-1")})
	store.PutTarget(domain.Target{ID: "t1", Email: "alice@example.com"})
	store.PutProjectTarget(domain.ProjectTarget{ID: "pt1", ProjectID: "p1", TargetID: "t1"})

	svc := sendjob.NewService(store, store, store, nil)
	return SetupRoutes(NewHandlers(svc), nil, nil), store
}

func doRequest(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestLaunchSendCreatesThenReturnsExisting(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := doRequest(h, http.MethodPost, "/api/projects/p1/send")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first LaunchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.JobID)
	assert.Equal(t, domain.JobQueued, first.Job.Status)
	assert.Equal(t, 1, first.Job.TotalCount)

	rec = doRequest(h, http.MethodPost, "/api/projects/p1/send")
	require.Equal(t, http.StatusOK, rec.Code)
	var second LaunchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestLaunchSendValidationFailure(t *testing.T) {
	h, store := setupTestServer(t)

	rec := doRequest(h, http.MethodPost, "/api/projects/p-broken/send")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Details []struct {
			Code   string   `json:"code"`
			Tokens []string `json:"tokens"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeSendValidationFailed, body.Code)
	assert.Contains(t, body.Error, "LANDING_URL")

	var codes []string
	for _, d := range body.Details {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, "mail_missing_landing_token")
	assert.Contains(t, codes, "mail_unknown_tokens")
	assert.Contains(t, codes, "malicious_content_missing")

	assert.Empty(t, store.JobsForProject("p-broken"))
	p, err := store.GetProject(context.Background(), "p-broken")
	require.NoError(t, err)
	assert.NotNil(t, p.SendValidationError)
}

func TestLaunchSendUnknownProject(t *testing.T) {
	h, _ := setupTestServer(t)
	rec := doRequest(h, http.MethodPost, "/api/projects/nope/send")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"project not found"}`, rec.Body.String())
}

func TestGetSendJob(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := doRequest(h, http.MethodPost, "/api/projects/p1/send")
	require.Equal(t, http.StatusCreated, rec.Code)
	var launched LaunchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &launched))

	rec = doRequest(h, http.MethodGet, "/api/send-jobs/"+launched.JobID)
	require.Equal(t, http.StatusOK, rec.Code)
	var job map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, launched.JobID, job["id"])
	assert.Equal(t, "queued", job["status"])

	rec = doRequest(h, http.MethodGet, "/api/send-jobs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingService struct{}

func (failingService) Launch(context.Context, string) (*sendjob.EnqueueResult, error) {
	return nil, errors.New("pq: connection refused")
}

func (failingService) Job(context.Context, string) (*domain.SendJob, error) {
	return nil, errors.New("pq: connection refused")
}

func TestHandlersHideInternalErrors(t *testing.T) {
	h := SetupRoutes(NewHandlers(failingService{}), nil, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/projects/p1/send"},
		{http.MethodGet, "/api/send-jobs/j1"},
	} {
		rec := doRequest(h, tc.method, tc.path)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
	}
}
