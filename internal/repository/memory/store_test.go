package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

func TestClaimNextExclusive(t *testing.T) {
	tests := []struct{ claimers, jobs int }{
		{claimers: 8, jobs: 3},
		{claimers: 3, jobs: 8},
		{claimers: 5, jobs: 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("M=%d,K=%d", tt.claimers, tt.jobs), func(t *testing.T) {
			s := NewStore()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < tt.jobs; i++ {
				s.PutJob(domain.SendJob{
					ID:        fmt.Sprintf("job-%d", i),
					ProjectID: fmt.Sprintf("p-%d", i),
					Status:    domain.JobQueued,
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				})
			}

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				claimed []string
			)
			for i := 0; i < tt.claimers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					c, err := s.ClaimNext(context.Background())
					if errors.Is(err, sendjob.ErrNoQueuedJob) {
						return
					}
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					claimed = append(claimed, c.JobID)
					mu.Unlock()
				}()
			}
			wg.Wait()

			want := min(tt.claimers, tt.jobs)
			assert.Len(t, claimed, want)
			seen := make(map[string]bool)
			for _, id := range claimed {
				assert.False(t, seen[id], "job %s claimed twice", id)
				seen[id] = true
			}
		})
	}
}

func TestClaimNextOldestFirst(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.PutJob(domain.SendJob{ID: "newer", ProjectID: "a", Status: domain.JobQueued, CreatedAt: now})
	s.PutJob(domain.SendJob{ID: "older", ProjectID: "b", Status: domain.JobQueued, CreatedAt: now.Add(-time.Minute)})
	s.PutJob(domain.SendJob{ID: "done", ProjectID: "c", Status: domain.JobDone, CreatedAt: now.Add(-time.Hour)})

	c, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "older", c.JobID)
	assert.NotEmpty(t, c.Token)

	j, err := s.Get(context.Background(), "older")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, j.Status)
	assert.NotNil(t, j.StartedAt)
}

func TestCreateRejectsSecondActiveJob(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &domain.SendJob{ID: "j1", ProjectID: "p1"}))
	err := s.Create(ctx, &domain.SendJob{ID: "j2", ProjectID: "p1"})
	assert.ErrorIs(t, err, sendjob.ErrActiveJobExists)

	c, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, c))
	assert.NoError(t, s.Create(ctx, &domain.SendJob{ID: "j3", ProjectID: "p1"}))
}

func TestRunningGuards(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.PutJob(domain.SendJob{ID: "j1", ProjectID: "p1", Status: domain.JobQueued})

	assert.ErrorIs(t, s.RecordProgress(ctx, domain.Claim{JobID: "j1"}, 1, 0), sendjob.ErrLeaseLost)
	assert.ErrorIs(t, s.Complete(ctx, domain.Claim{JobID: "missing"}), sendjob.ErrLeaseLost)

	c, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	forged := domain.Claim{JobID: c.JobID, Token: "someone-else"}
	assert.ErrorIs(t, s.RecordProgress(ctx, forged, 1, 0), sendjob.ErrLeaseLost)
	assert.NoError(t, s.RecordProgress(ctx, c, 1, 0))
}

func TestReclaimedJobRejectsPreviousHolder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	s.PutJob(domain.SendJob{ID: "j1", ProjectID: "p1", Status: domain.JobQueued, CreatedAt: now})

	first, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	requeued, _, err := s.RequeueStale(ctx, 10*time.Minute, 3)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	second, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, first.JobID, second.JobID)
	require.NotEqual(t, first.Token, second.Token)

	assert.ErrorIs(t, s.RecordProgress(ctx, first, 5, 0), sendjob.ErrLeaseLost)
	assert.ErrorIs(t, s.Complete(ctx, first), sendjob.ErrLeaseLost)
	assert.ErrorIs(t, s.Requeue(ctx, first, 1, "boom"), sendjob.ErrLeaseLost)
	assert.ErrorIs(t, s.Fail(ctx, first, 1, "boom"), sendjob.ErrLeaseLost)
	assert.ErrorIs(t, s.Release(ctx, first), sendjob.ErrLeaseLost)

	j, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, 0, j.SuccessCount)

	require.NoError(t, s.Complete(ctx, second))
}

func TestRequeueStale(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	old := now.Add(-time.Hour)
	fresh := now.Add(-time.Minute)
	s.PutJob(domain.SendJob{ID: "stale", ProjectID: "a", Status: domain.JobRunning, StartedAt: &old, HeartbeatAt: &old})
	s.PutJob(domain.SendJob{ID: "last-try", ProjectID: "b", Status: domain.JobRunning, Attempts: 2, StartedAt: &old})
	s.PutJob(domain.SendJob{ID: "alive", ProjectID: "c", Status: domain.JobRunning, StartedAt: &old, HeartbeatAt: &fresh})

	requeued, failed, err := s.RequeueStale(ctx, 10*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	j, _ := s.Get(ctx, "stale")
	assert.Equal(t, domain.JobQueued, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.Nil(t, j.StartedAt)

	j, _ = s.Get(ctx, "last-try")
	assert.Equal(t, domain.JobFailed, j.Status)
	assert.Equal(t, 3, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "lease expired", *j.LastError)

	j, _ = s.Get(ctx, "alive")
	assert.Equal(t, domain.JobRunning, j.Status)
}

func TestAssignTokensKeepsExisting(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	existing := "tok-existing"
	s.PutProjectTarget(domain.ProjectTarget{ID: "pt1", ProjectID: "p1", TrackingToken: &existing})
	s.PutProjectTarget(domain.ProjectTarget{ID: "pt2", ProjectID: "p1"})

	stored, err := s.AssignTokens(ctx, map[string]string{"pt1": "tok-new-1", "pt2": "tok-new-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pt1": "tok-existing", "pt2": "tok-new-2"}, stored)

	_, err = s.AssignTokens(ctx, map[string]string{"pt3": "tok-existing"})
	assert.NoError(t, err, "unknown ids are ignored")
}
