package sendjob_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/repository/memory"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
	"github.com/phishsense/sendjobs/internal/service/validation"
)

func strp(s string) *string { return &s }

// recordingNotifier remembers the job ids it was told about.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, jobID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, jobID)
	return n.err
}

func seedProject(s *memory.Store, projectID string, targets int) {
	s.PutTemplate(domain.Template{
		ID:                   "tpl-" + projectID,
		Subject:              "Action required",
		Body:                 `<a href="{{LANDING_URL}}">Open</a>`,
		MaliciousPageContent: `<a href="{{TRAINING_URL}}">Learn</a>`,
	})
	s.PutTrainingPage(domain.TrainingPage{ID: "tp-" + projectID, Status: domain.TrainingPageActive})
	s.PutProject(domain.Project{
		ID:             projectID,
		TemplateID:     strp("tpl-" + projectID),
		TrainingPageID: strp("tp-" + projectID),
	})
	for i := 0; i < targets; i++ {
		id := fmt.Sprintf("%s-pt%d", projectID, i)
		s.PutTarget(domain.Target{ID: id + "-t", Email: id + "@example.com"})
		s.PutProjectTarget(domain.ProjectTarget{ID: id, ProjectID: projectID, TargetID: id + "-t"})
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1", 3)
	n := &recordingNotifier{}
	svc := sendjob.NewService(store, store, store, n)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, "p1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !first.Created || first.Job.Status != domain.JobQueued || first.Job.TotalCount != 3 {
		t.Fatalf("unexpected first result: %+v %+v", first, first.Job)
	}

	second, err := svc.Enqueue(ctx, "p1")
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if second.Created || second.Job.ID != first.Job.ID {
		t.Fatalf("expected existing job %s, got %+v", first.Job.ID, second)
	}
	if jobs := store.JobsForProject("p1"); len(jobs) != 1 {
		t.Fatalf("expected one job row, got %d", len(jobs))
	}
	if len(n.ids) != 1 || n.ids[0] != first.Job.ID {
		t.Fatalf("expected a single wake-up for the new job, got %v", n.ids)
	}
}

func TestEnqueueAssignsTokensAndSkipsTestTargets(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1", 2)
	store.PutProjectTarget(domain.ProjectTarget{ID: "tester", ProjectID: "p1", TargetID: "t-test", Status: domain.DeliveryTest})
	seedProject(store, "p2", 3)
	svc := sendjob.NewService(store, store, store, nil)
	ctx := context.Background()

	res, err := svc.Enqueue(ctx, "p1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Job.TotalCount != 2 {
		t.Fatalf("test target must not be counted, total=%d", res.Job.TotalCount)
	}
	if _, err := svc.Enqueue(ctx, "p2"); err != nil {
		t.Fatalf("Enqueue p2: %v", err)
	}

	tester, _ := store.ProjectTarget("tester")
	if tester.TrackingToken != nil {
		t.Fatal("test target should not receive a token")
	}

	seen := make(map[string]string)
	for _, id := range []string{"p1-pt0", "p1-pt1", "p2-pt0", "p2-pt1", "p2-pt2"} {
		pt, ok := store.ProjectTarget(id)
		if !ok || !pt.HasToken() {
			t.Fatalf("target %s has no token", id)
		}
		if other, dup := seen[*pt.TrackingToken]; dup {
			t.Fatalf("token shared by %s and %s", id, other)
		}
		seen[*pt.TrackingToken] = id
	}
}

func TestEnqueueCountsOnlyRemainingWork(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1", 0)
	store.PutProjectTarget(domain.ProjectTarget{ID: "a", ProjectID: "p1", SendStatus: domain.SendSent, TrackingToken: strp("tok-a")})
	store.PutProjectTarget(domain.ProjectTarget{ID: "b", ProjectID: "p1", SendStatus: domain.SendFailed, TrackingToken: strp("tok-b")})
	store.PutProjectTarget(domain.ProjectTarget{ID: "c", ProjectID: "p1"})
	svc := sendjob.NewService(store, store, store, nil)

	res, err := svc.Enqueue(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Job.TotalCount != 2 {
		t.Fatalf("expected failed+pending = 2, got %d", res.Job.TotalCount)
	}
	b, _ := store.ProjectTarget("b")
	if *b.TrackingToken != "tok-b" {
		t.Fatal("existing token must be kept")
	}
}

func TestEnqueueNotifyFailureIsNotFatal(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1", 1)
	svc := sendjob.NewService(store, store, store, &recordingNotifier{err: errors.New("redis down")})

	res, err := svc.Enqueue(context.Background(), "p1")
	if err != nil || !res.Created {
		t.Fatalf("expected created job despite notify error, got %+v err=%v", res, err)
	}
}

// racingJobs simulates a concurrent launch that inserts its job between
// FindActive and Create.
type racingJobs struct {
	*memory.Store
	once sync.Once
}

func (r *racingJobs) Create(ctx context.Context, job *domain.SendJob) error {
	r.once.Do(func() {
		_ = r.Store.Create(ctx, &domain.SendJob{ID: "winner", ProjectID: job.ProjectID})
	})
	return r.Store.Create(ctx, job)
}

func TestEnqueueLostRaceReturnsWinner(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1", 1)
	svc := sendjob.NewService(&racingJobs{Store: store}, store, store, nil)

	res, err := svc.Enqueue(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Created || res.Job.ID != "winner" {
		t.Fatalf("expected the winning job, got %+v", res)
	}
	if jobs := store.JobsForProject("p1"); len(jobs) != 1 {
		t.Fatalf("expected one job row, got %d", len(jobs))
	}
}

func TestLaunchProjectNotFound(t *testing.T) {
	store := memory.NewStore()
	svc := sendjob.NewService(store, store, store, nil)
	if _, err := svc.Launch(context.Background(), "nope"); !errors.Is(err, sendjob.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestLaunchValidationGating(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1", 2)
	store.PutTemplate(domain.Template{
		ID:                   "tpl-p1",
		Body:                 `<p>No link here</p>`,
		MaliciousPageContent: `<a href="{{TRAINING_URL}}">Learn</a>`,
	})
	svc := sendjob.NewService(store, store, store, nil)
	ctx := context.Background()

	_, err := svc.Launch(ctx, "p1")
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Issues) != 1 || verr.Issues[0].Code != validation.CodeMailMissingLandingToken {
		t.Fatalf("unexpected issues %+v", verr.Issues)
	}
	p, _ := store.GetProject(ctx, "p1")
	if p.SendValidationError == nil || *p.SendValidationError != "Mail body has no LANDING_URL token." {
		t.Fatalf("validation message not stored: %v", p.SendValidationError)
	}
	if jobs := store.JobsForProject("p1"); len(jobs) != 0 {
		t.Fatal("no job may be created for an invalid template")
	}

	// Fix the template and launch again.
	store.PutTemplate(domain.Template{
		ID:                   "tpl-p1",
		Body:                 `<a href="{{LANDING_URL}}">Open</a>`,
		MaliciousPageContent: `<a href="{{TRAINING_URL}}">Learn</a>`,
	})
	res, err := svc.Launch(ctx, "p1")
	if err != nil || !res.Created {
		t.Fatalf("expected job after fix, got %+v err=%v", res, err)
	}
	p, _ = store.GetProject(ctx, "p1")
	if p.SendValidationError != nil {
		t.Fatalf("stored error should be cleared, got %q", *p.SendValidationError)
	}
}
