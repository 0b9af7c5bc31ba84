package worker

import (
	"context"
	"log"
	"time"

	"github.com/phishsense/sendjobs/internal/pkg/distlock"
)

// =============================================================================
// QUEUE RECOVERY WORKER - Requeues Send Jobs Whose Worker Went Away
// =============================================================================
// A worker that crashes mid-job leaves its job in 'running' forever. Running
// jobs renew heartbeat_at after every recipient, so a job whose heartbeat is
// older than the lease has no live owner. This worker periodically requeues
// such jobs (counting the lost run as an attempt) or fails them once they
// run out of attempts. Only one process sweeps at a time.

const (
	// DefaultRecoveryInterval is how often we scan for stale jobs.
	DefaultRecoveryInterval = time.Minute

	// DefaultLease is how long a running job may go without a heartbeat.
	DefaultLease = 10 * time.Minute

	recoveryQueryTimeout = 30 * time.Second
)

// StaleJobSweeper is the repository operation the recovery worker drives.
type StaleJobSweeper interface {
	RequeueStale(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, failed int, err error)
}

// QueueRecoveryWorker periodically recovers send jobs abandoned in running.
type QueueRecoveryWorker struct {
	repo        StaleJobSweeper
	lock        distlock.DistLock
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
	metrics     *Metrics
}

// NewQueueRecoveryWorker creates a recovery worker. lock may be nil when a
// single worker process runs.
func NewQueueRecoveryWorker(repo StaleJobSweeper, lock distlock.DistLock, interval, lease time.Duration, maxAttempts int, metrics *Metrics) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &QueueRecoveryWorker{
		repo:        repo,
		lock:        lock,
		interval:    interval,
		lease:       lease,
		maxAttempts: maxAttempts,
		metrics:     metrics,
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[QueueRecovery] Starting (interval=%s, lease=%s, max_attempts=%d)",
		qr.interval, qr.lease, qr.maxAttempts)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[QueueRecovery] Stopping")
			return
		case <-ticker.C:
			qr.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce runs one sweep if this process wins the lock. It reports how
// many jobs were requeued and failed.
func (qr *QueueRecoveryWorker) RecoverOnce(ctx context.Context) (requeued, failed int) {
	queryCtx, cancel := context.WithTimeout(ctx, recoveryQueryTimeout)
	defer cancel()

	if qr.lock != nil {
		acquired, err := qr.lock.Acquire(queryCtx)
		if err != nil {
			log.Printf("[QueueRecovery] lock error: %v", err)
			return 0, 0
		}
		if !acquired {
			return 0, 0
		}
		defer func() {
			relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer relCancel()
			if err := qr.lock.Release(relCtx); err != nil {
				log.Printf("[QueueRecovery] unlock error: %v", err)
			}
		}()
	}

	requeued, failed, err := qr.repo.RequeueStale(queryCtx, qr.lease, qr.maxAttempts)
	if err != nil {
		log.Printf("[QueueRecovery] sweep error: %v", err)
		return 0, 0
	}
	if requeued > 0 || failed > 0 {
		log.Printf("[QueueRecovery] requeued %d stale jobs, failed %d", requeued, failed)
	}
	qr.metrics.staleRecovered(requeued, failed)
	return requeued, failed
}
