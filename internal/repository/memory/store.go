// Package memory is an in-memory implementation of the send-job repositories.
// It backs unit tests and local runs without Postgres. All methods are safe
// for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

// Store implements sendjob.JobRepository, sendjob.TargetRepository and
// sendjob.ProjectRepository.
type Store struct {
	mu sync.Mutex

	jobs          map[string]*domain.SendJob
	projects      map[string]*domain.Project
	templates     map[string]*domain.Template
	trainingPages map[string]*domain.TrainingPage
	targets       map[string]*domain.Target
	projectTgts   []*domain.ProjectTarget
	claims        map[string]string

	now      func() time.Time
	newToken func() string
}

var (
	_ sendjob.JobRepository     = (*Store)(nil)
	_ sendjob.TargetRepository  = (*Store)(nil)
	_ sendjob.ProjectRepository = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		jobs:          make(map[string]*domain.SendJob),
		projects:      make(map[string]*domain.Project),
		templates:     make(map[string]*domain.Template),
		trainingPages: make(map[string]*domain.TrainingPage),
		targets:       make(map[string]*domain.Target),
		claims:        make(map[string]string),
		now:           time.Now,
		newToken:      uuid.NewString,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// --- seeding ---

func (s *Store) PutProject(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = &p
}

func (s *Store) PutTemplate(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = &t
}

func (s *Store) PutTrainingPage(p domain.TrainingPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trainingPages[p.ID] = &p
}

func (s *Store) PutTarget(t domain.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.ID] = &t
}

// PutProjectTarget adds or replaces a project target. Blank statuses default
// to sent/pending as the schema does.
func (s *Store) PutProjectTarget(pt domain.ProjectTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pt.Status == "" {
		pt.Status = domain.DeliverySent
	}
	if pt.SendStatus == "" {
		pt.SendStatus = domain.SendPending
	}
	for i, existing := range s.projectTgts {
		if existing.ID == pt.ID {
			s.projectTgts[i] = &pt
			return
		}
	}
	s.projectTgts = append(s.projectTgts, &pt)
}

// PutJob inserts a job as-is, bypassing the active-job check.
func (s *Store) PutJob(j domain.SendJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &j
}

// ProjectTarget returns a copy of a project target.
func (s *Store) ProjectTarget(id string) (domain.ProjectTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pt := range s.projectTgts {
		if pt.ID == id {
			return copyProjectTarget(pt), true
		}
	}
	return domain.ProjectTarget{}, false
}

// JobsForProject returns copies of every job of a project, oldest first.
func (s *Store) JobsForProject(projectID string) []domain.SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SendJob
	for _, j := range s.jobs {
		if j.ProjectID == projectID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// --- sendjob.JobRepository ---

func (s *Store) Create(_ context.Context, job *domain.SendJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		return fmt.Errorf("id required")
	}
	for _, j := range s.jobs {
		if j.ProjectID == job.ProjectID && j.Status.IsActive() {
			return sendjob.ErrActiveJobExists
		}
	}
	cp := copyJob(job)
	cp.Status = domain.JobQueued
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.jobs[cp.ID] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.SendJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := copyJob(j)
	return &cp, nil
}

func (s *Store) FindActive(_ context.Context, projectID string) (*domain.SendJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.SendJob
	for _, j := range s.jobs {
		if j.ProjectID == projectID && j.Status.IsActive() {
			if found == nil || j.CreatedAt.After(found.CreatedAt) {
				found = j
			}
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cp := copyJob(found)
	return &cp, nil
}

func (s *Store) ClaimNext(_ context.Context) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *domain.SendJob
	for _, j := range s.jobs {
		if j.Status != domain.JobQueued {
			continue
		}
		if next == nil || j.CreatedAt.Before(next.CreatedAt) ||
			(j.CreatedAt.Equal(next.CreatedAt) && j.ID < next.ID) {
			next = j
		}
	}
	if next == nil {
		return domain.Claim{}, sendjob.ErrNoQueuedJob
	}
	now := s.now()
	next.Status = domain.JobRunning
	next.StartedAt = &now
	next.HeartbeatAt = &now
	c := domain.Claim{JobID: next.ID, Token: s.newToken()}
	s.claims[next.ID] = c.Token
	return c, nil
}

// running returns the job if it is running under claim c. Callers hold s.mu.
func (s *Store) running(c domain.Claim) (*domain.SendJob, error) {
	j, ok := s.jobs[c.JobID]
	if !ok || j.Status != domain.JobRunning || s.claims[c.JobID] != c.Token {
		return nil, sendjob.ErrLeaseLost
	}
	return j, nil
}

func (s *Store) StartRun(_ context.Context, c domain.Claim, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(c)
	if err != nil {
		return err
	}
	now := s.now()
	j.TotalCount = total
	j.SuccessCount, j.FailCount = 0, 0
	j.LastError = nil
	j.HeartbeatAt = &now
	return nil
}

func (s *Store) RecordProgress(_ context.Context, c domain.Claim, success, fail int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(c)
	if err != nil {
		return err
	}
	now := s.now()
	j.SuccessCount, j.FailCount = success, fail
	j.HeartbeatAt = &now
	return nil
}

func (s *Store) Complete(_ context.Context, c domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(c)
	if err != nil {
		return err
	}
	now := s.now()
	j.Status = domain.JobDone
	j.FinishedAt = &now
	delete(s.claims, c.JobID)
	return nil
}

func (s *Store) Fail(_ context.Context, c domain.Claim, attempts int, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(c)
	if err != nil {
		return err
	}
	now := s.now()
	j.Status = domain.JobFailed
	j.Attempts = attempts
	j.LastError = &msg
	j.FinishedAt = &now
	delete(s.claims, c.JobID)
	return nil
}

func (s *Store) Requeue(_ context.Context, c domain.Claim, attempts int, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(c)
	if err != nil {
		return err
	}
	j.Status = domain.JobQueued
	j.Attempts = attempts
	j.LastError = &msg
	j.StartedAt = nil
	j.HeartbeatAt = nil
	delete(s.claims, c.JobID)
	return nil
}

func (s *Store) Release(_ context.Context, c domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.running(c)
	if err != nil {
		return err
	}
	j.Status = domain.JobQueued
	j.StartedAt = nil
	j.HeartbeatAt = nil
	delete(s.claims, c.JobID)
	return nil
}

func (s *Store) RequeueStale(_ context.Context, lease time.Duration, maxAttempts int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-lease)
	requeued, failed := 0, 0
	for _, j := range s.jobs {
		if j.Status != domain.JobRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.After(cutoff) {
			continue
		}
		msg := "lease expired"
		delete(s.claims, j.ID)
		j.Attempts++
		j.LastError = &msg
		if j.Attempts >= maxAttempts {
			j.Status = domain.JobFailed
			j.FinishedAt = &now
			failed++
		} else {
			j.Status = domain.JobQueued
			j.StartedAt = nil
			j.HeartbeatAt = nil
			requeued++
		}
	}
	return requeued, failed, nil
}

// --- sendjob.TargetRepository ---

func (s *Store) ListByProject(_ context.Context, projectID string) ([]domain.ProjectTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProjectTarget
	for _, pt := range s.projectTgts {
		if pt.ProjectID == projectID {
			out = append(out, copyProjectTarget(pt))
		}
	}
	return out, nil
}

func (s *Store) AssignTokens(_ context.Context, tokens map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inUse := make(map[string]bool)
	for _, pt := range s.projectTgts {
		if pt.TrackingToken != nil {
			inUse[*pt.TrackingToken] = true
		}
	}
	stored := make(map[string]string, len(tokens))
	for _, pt := range s.projectTgts {
		tok, ok := tokens[pt.ID]
		if !ok {
			continue
		}
		if pt.TrackingToken == nil {
			if inUse[tok] {
				return nil, fmt.Errorf("tracking token %q already in use", tok)
			}
			inUse[tok] = true
			pt.TrackingToken = &tok
		}
		stored[pt.ID] = *pt.TrackingToken
	}
	return stored, nil
}

func (s *Store) MarkSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt := s.findProjectTarget(id)
	if pt == nil {
		return domain.ErrNotFound
	}
	pt.SendStatus = domain.SendSent
	pt.SentAt = &at
	pt.SendError = nil
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt := s.findProjectTarget(id)
	if pt == nil {
		return domain.ErrNotFound
	}
	pt.SendStatus = domain.SendFailed
	pt.SendError = &msg
	return nil
}

func (s *Store) GetTargets(_ context.Context, ids []string) (map[string]domain.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Target, len(ids))
	for _, id := range ids {
		if t, ok := s.targets[id]; ok {
			out[id] = *t
		}
	}
	return out, nil
}

func (s *Store) findProjectTarget(id string) *domain.ProjectTarget {
	for _, pt := range s.projectTgts {
		if pt.ID == id {
			return pt
		}
	}
	return nil
}

// --- sendjob.ProjectRepository ---

func (s *Store) GetProject(_ context.Context, id string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTrainingPage(_ context.Context, id string) (*domain.TrainingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.trainingPages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) SetSendValidationError(_ context.Context, projectID string, msg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrNotFound
	}
	if msg == nil {
		p.SendValidationError = nil
	} else {
		m := *msg
		p.SendValidationError = &m
	}
	return nil
}

func copyJob(j *domain.SendJob) domain.SendJob {
	cp := *j
	cp.LastError = copyString(j.LastError)
	cp.StartedAt = copyTime(j.StartedAt)
	cp.FinishedAt = copyTime(j.FinishedAt)
	cp.HeartbeatAt = copyTime(j.HeartbeatAt)
	return cp
}

func copyProjectTarget(pt *domain.ProjectTarget) domain.ProjectTarget {
	cp := *pt
	cp.TrackingToken = copyString(pt.TrackingToken)
	cp.SendError = copyString(pt.SendError)
	cp.SentAt = copyTime(pt.SentAt)
	return cp
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
