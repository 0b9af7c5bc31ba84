package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/mailing"
	"github.com/phishsense/sendjobs/internal/pkg/logger"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
	"github.com/phishsense/sendjobs/internal/service/validation"
)

// DefaultMaxAttempts is how many job runs may fail before a job stays failed.
const DefaultMaxAttempts = 3

// releaseTimeout bounds the write that hands a job back on shutdown.
const releaseTimeout = 10 * time.Second

// DispatcherConfig holds the process-level settings a job run falls back on.
type DispatcherConfig struct {
	FromName    string
	FromEmail   string
	BaseURL     string
	MaxAttempts int
	Pacer       *Pacer
	Metrics     *Metrics
}

// Dispatcher runs one claimed job to completion.
type Dispatcher struct {
	jobs     sendjob.JobRepository
	targets  sendjob.TargetRepository
	projects sendjob.ProjectRepository
	dialer   TransportDialer

	cfg     DispatcherConfig
	links   mailing.Links
	pacer   *Pacer
	metrics *Metrics
	log     *logger.Logger

	newToken func() string
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(jobs sendjob.JobRepository, targets sendjob.TargetRepository, projects sendjob.ProjectRepository, dialer TransportDialer, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	pacer := cfg.Pacer
	if pacer == nil {
		pacer = NewPacer(DefaultDelayMin, DefaultDelayMax)
	}
	return &Dispatcher{
		jobs:     jobs,
		targets:  targets,
		projects: projects,
		dialer:   dialer,
		cfg:      cfg,
		links:    mailing.NewLinks(cfg.BaseURL),
		pacer:    pacer,
		metrics:  cfg.Metrics,
		log:      logger.With("component", "dispatcher"),
		newToken: mailing.NewTrackingToken,
		now:      time.Now,
	}
}

// permanentError marks a job setup failure that another attempt cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// validationFailure carries the message already stored on the project.
type validationFailure struct{ msg string }

func (e *validationFailure) Error() string { return e.msg }

// sender is the resolved From identity for a job.
type sender struct {
	name  string
	email string
}

// Process runs the job held by claim. Whatever happens, the job leaves
// running unless another worker has claimed it since. The returned error is
// informational.
func (d *Dispatcher) Process(ctx context.Context, claim domain.Claim) error {
	job, err := d.jobs.Get(ctx, claim.JobID)
	if err != nil {
		return fmt.Errorf("load send job %s: %w", claim.JobID, err)
	}
	log := d.log.With("job_id", job.ID, "project_id", job.ProjectID)
	log.Info("send job started", "attempt", job.Attempts+1)

	return d.settle(ctx, log, claim, job, d.safeRun(ctx, log, claim, job))
}

// safeRun turns a panic during the run into a retryable job error.
func (d *Dispatcher) safeRun(ctx context.Context, log *logger.Logger, claim domain.Claim, job *domain.SendJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("send job panicked", "panic", fmt.Sprint(r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.run(ctx, log, claim, job)
}

func (d *Dispatcher) run(ctx context.Context, log *logger.Logger, claim domain.Claim, job *domain.SendJob) error {
	project, tpl, err := d.resolve(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	page, err := d.trainingPage(ctx, project)
	if err != nil {
		return err
	}
	if res := validation.ValidateTemplate(tpl, page); !res.OK {
		msg := res.Message()
		if err := d.projects.SetSendValidationError(ctx, project.ID, &msg); err != nil {
			return fmt.Errorf("store validation error: %w", err)
		}
		return &validationFailure{msg: msg}
	}
	if project.SendValidationError != nil {
		if err := d.projects.SetSendValidationError(ctx, project.ID, nil); err != nil {
			return fmt.Errorf("clear validation error: %w", err)
		}
	}

	from, err := d.resolveSender(project)
	if err != nil {
		return err
	}

	tr := &transport{dialer: d.dialer}
	if err := tr.open(ctx); err != nil {
		return err
	}
	defer tr.close(log)

	all, err := d.targets.ListByProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("list project targets: %w", err)
	}
	var work []domain.ProjectTarget
	for _, pt := range all {
		if pt.NeedsSend() {
			work = append(work, pt)
		}
	}
	if _, err := sendjob.EnsureTrackingTokens(ctx, d.targets, work, d.newToken); err != nil {
		return err
	}
	ids := make([]string, 0, len(work))
	for _, pt := range work {
		ids = append(ids, pt.TargetID)
	}
	recipients, err := d.targets.GetTargets(ctx, ids)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	if err := d.jobs.StartRun(ctx, claim, len(work)); err != nil {
		return err
	}

	success, fail := 0, 0
	for i, pt := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tr.ready(ctx); err != nil {
			return err
		}

		sendErr := d.deliver(tr, from, project, tpl, pt, recipients)
		if sendErr == nil {
			if err := d.targets.MarkSent(ctx, pt.ID, d.now().UTC()); err != nil {
				return fmt.Errorf("mark target %s sent: %w", pt.ID, err)
			}
			success++
		} else {
			log.Warn("recipient send failed", "project_target_id", pt.ID, "error", sendErr.Error())
			if err := d.targets.MarkFailed(ctx, pt.ID, sendErr.Error()); err != nil {
				return fmt.Errorf("mark target %s failed: %w", pt.ID, err)
			}
			fail++
		}
		if err := d.jobs.RecordProgress(ctx, claim, success, fail); err != nil {
			return err
		}

		if i < len(work)-1 {
			if err := d.pacer.Wait(ctx); err != nil {
				return err
			}
		}
	}

	if err := d.jobs.Complete(ctx, claim); err != nil {
		return err
	}
	log.Info("send job finished", "total", len(work), "success", success, "fail", fail)
	return nil
}

// resolve loads the project and its template.
func (d *Dispatcher) resolve(ctx context.Context, projectID string) (*domain.Project, *domain.Template, error) {
	project, err := d.projects.GetProject(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, permanent("project %s not found", projectID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load project: %w", err)
	}
	if project.TemplateID == nil || *project.TemplateID == "" {
		return nil, nil, permanent("project %s has no template", projectID)
	}
	tpl, err := d.projects.GetTemplate(ctx, *project.TemplateID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, permanent("template %s not found", *project.TemplateID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load template: %w", err)
	}
	return project, tpl, nil
}

func (d *Dispatcher) trainingPage(ctx context.Context, project *domain.Project) (*domain.TrainingPage, error) {
	if project.TrainingPageID == nil || *project.TrainingPageID == "" {
		return nil, nil
	}
	page, err := d.projects.GetTrainingPage(ctx, *project.TrainingPageID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load training page: %w", err)
	}
	return page, nil
}

func (d *Dispatcher) resolveSender(project *domain.Project) (sender, error) {
	s := sender{
		name:  firstNonEmpty(project.FromName, d.cfg.FromName),
		email: firstNonEmpty(project.FromEmail, d.cfg.FromEmail),
	}
	if s.name == "" {
		return sender{}, permanent("no sender name: set the project from name or MAIL_FROM_NAME")
	}
	if s.email == "" {
		return sender{}, permanent("no sender email: set the project from email or MAIL_FROM_EMAIL")
	}
	return s, nil
}

// deliver composes and sends the message for one target. The returned error
// belongs to the target, never to the job.
func (d *Dispatcher) deliver(tr *transport, from sender, project *domain.Project, tpl *domain.Template, pt domain.ProjectTarget, recipients map[string]domain.Target) error {
	recipient, ok := recipients[pt.TargetID]
	if !ok {
		d.metrics.recipientSkipped()
		return errors.New("recipient not found")
	}
	email := strings.TrimSpace(recipient.Email)
	if email == "" {
		d.metrics.recipientSkipped()
		return errors.New("recipient email missing")
	}
	if !pt.HasToken() {
		d.metrics.recipientSkipped()
		return errors.New("tracking token missing")
	}
	token := *pt.TrackingToken

	body, err := mailing.Compose(tpl, d.links.LandingURL(token), d.links.OpenPixelURL(token))
	if err != nil {
		d.metrics.recipientSkipped()
		return err
	}
	msg := mailing.BuildMessage(mailing.Envelope{
		FromName:      from.name,
		FromEmail:     from.email,
		To:            email,
		Subject:       tpl.Subject,
		SendingDomain: deref(project.SendingDomain),
	}, body)

	start := time.Now()
	err = tr.send(msg)
	d.metrics.observeSend(start, err)
	return err
}

// settle turns the outcome of run into the job's next state.
func (d *Dispatcher) settle(ctx context.Context, log *logger.Logger, claim domain.Claim, job *domain.SendJob, err error) error {
	if err == nil {
		d.metrics.jobFinished(outcomeDone)
		return nil
	}
	if errors.Is(err, sendjob.ErrLeaseLost) {
		log.Warn("send job no longer running here, stopping")
		d.metrics.jobFinished(outcomeLeaseLost)
		return nil
	}
	if ctx.Err() != nil {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := d.jobs.Release(relCtx, claim); rerr != nil && !errors.Is(rerr, sendjob.ErrLeaseLost) {
			return fmt.Errorf("release send job: %w", rerr)
		}
		log.Info("send job released on shutdown")
		d.metrics.jobFinished(outcomeReleased)
		return ctx.Err()
	}

	var vf *validationFailure
	if errors.As(err, &vf) {
		log.Warn("send job blocked by template validation", "error", vf.msg)
		return d.finish(ctx, log, claim, job.Attempts, vf.msg)
	}

	attempts := job.Attempts + 1
	msg := err.Error()
	var perm *permanentError
	if errors.As(err, &perm) || attempts >= d.cfg.MaxAttempts {
		log.Error("send job failed", "attempts", attempts, "error", msg)
		return d.finish(ctx, log, claim, attempts, msg)
	}

	if rerr := d.jobs.Requeue(ctx, claim, attempts, msg); rerr != nil {
		return d.storeError(log, "requeue", rerr)
	}
	log.Warn("send job requeued", "attempts", attempts, "error", msg)
	d.metrics.jobFinished(outcomeRequeued)
	return err
}

func (d *Dispatcher) finish(ctx context.Context, log *logger.Logger, claim domain.Claim, attempts int, msg string) error {
	if err := d.jobs.Fail(ctx, claim, attempts, msg); err != nil {
		return d.storeError(log, "fail", err)
	}
	d.metrics.jobFinished(outcomeFailed)
	return errors.New(msg)
}

func (d *Dispatcher) storeError(log *logger.Logger, op string, err error) error {
	if errors.Is(err, sendjob.ErrLeaseLost) {
		log.Warn("send job taken over before " + op)
		d.metrics.jobFinished(outcomeLeaseLost)
		return nil
	}
	return fmt.Errorf("%s send job: %w", op, err)
}

func firstNonEmpty(p *string, fallback string) string {
	if v := strings.TrimSpace(deref(p)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
