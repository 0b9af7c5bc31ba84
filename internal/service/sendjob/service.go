package sendjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/mailing"
	"github.com/phishsense/sendjobs/internal/pkg/logger"
	"github.com/phishsense/sendjobs/internal/service/validation"
)

// EnqueueResult is returned by Enqueue and Launch. Created is false when an
// active job already existed and was returned instead.
type EnqueueResult struct {
	Job     *domain.SendJob `json:"job"`
	Created bool            `json:"created"`
}

// Service implements launching and enqueuing send jobs.
// All public methods are safe for concurrent use if the underlying
// repositories are concurrency-safe.
type Service struct {
	jobs     JobRepository
	targets  TargetRepository
	projects ProjectRepository
	notifier Notifier
	log      *logger.Logger

	newID    func() string
	newToken func() string
	now      func() time.Time
}

// NewService creates a send-job service. A nil notifier disables wake-ups.
func NewService(jobs JobRepository, targets TargetRepository, projects ProjectRepository, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		jobs:     jobs,
		targets:  targets,
		projects: projects,
		notifier: notifier,
		log:      logger.With("component", "sendjob"),
		newID:    uuid.NewString,
		newToken: mailing.NewTrackingToken,
		now:      time.Now,
	}
}

// Job returns a send job by id.
func (s *Service) Job(ctx context.Context, id string) (*domain.SendJob, error) {
	return s.jobs.Get(ctx, id)
}

// Launch validates the project's template and training page, records the
// outcome on the project and enqueues a job when validation passes.
// Validation failures are returned as *validation.Error.
func (s *Service) Launch(ctx context.Context, projectID string) (*EnqueueResult, error) {
	project, err := s.projects.GetProject(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	result, err := validation.ValidateProject(ctx, s.projects, project)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		msg := result.Message()
		if err := s.projects.SetSendValidationError(ctx, projectID, &msg); err != nil {
			return nil, fmt.Errorf("store validation error: %w", err)
		}
		return nil, &validation.Error{Issues: result.Issues}
	}
	if project.SendValidationError != nil {
		if err := s.projects.SetSendValidationError(ctx, projectID, nil); err != nil {
			return nil, fmt.Errorf("clear validation error: %w", err)
		}
	}

	return s.Enqueue(ctx, projectID)
}

// Enqueue creates a queued job for the project unless one is already queued
// or running, in which case that job is returned with Created false.
// Callers are expected to have validated the project first.
func (s *Service) Enqueue(ctx context.Context, projectID string) (*EnqueueResult, error) {
	active, err := s.jobs.FindActive(ctx, projectID)
	if err == nil {
		return &EnqueueResult{Job: active, Created: false}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find active job: %w", err)
	}

	targets, err := s.targets.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	if _, err := EnsureTrackingTokens(ctx, s.targets, targets, s.newToken); err != nil {
		return nil, err
	}

	total := 0
	for i := range targets {
		if targets[i].NeedsSend() {
			total++
		}
	}

	job := &domain.SendJob{
		ID:         s.newID(),
		ProjectID:  projectID,
		Status:     domain.JobQueued,
		TotalCount: total,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, ErrActiveJobExists) {
			// Lost a race with a concurrent launch; return the winner.
			winner, ferr := s.jobs.FindActive(ctx, projectID)
			if ferr != nil {
				return nil, fmt.Errorf("find active job after conflict: %w", ferr)
			}
			return &EnqueueResult{Job: winner, Created: false}, nil
		}
		return nil, fmt.Errorf("create send job: %w", err)
	}

	s.log.Info("send job enqueued", "job_id", job.ID, "project_id", projectID, "total", total)
	if err := s.notifier.Notify(ctx, job.ID); err != nil {
		s.log.Warn("wake-up notify failed", "job_id", job.ID, "error", err)
	}
	return &EnqueueResult{Job: job, Created: true}, nil
}
