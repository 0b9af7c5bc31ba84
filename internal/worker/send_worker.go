package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/pkg/logger"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

// DefaultPollInterval is how long an idle worker waits before claiming again.
const DefaultPollInterval = 1500 * time.Millisecond

// Claimer hands out queued jobs.
type Claimer interface {
	ClaimNext(ctx context.Context) (domain.Claim, error)
}

// JobProcessor runs one claimed job.
type JobProcessor interface {
	Process(ctx context.Context, claim domain.Claim) error
}

// SendWorker is the long-lived claim loop of a worker process. Any number of
// processes may run one against the same job table.
type SendWorker struct {
	claimer   Claimer
	processor JobProcessor
	poll      time.Duration
	wake      <-chan struct{}
	log       *logger.Logger
}

// NewSendWorker creates the loop. wake may be nil, in which case the worker
// only polls.
func NewSendWorker(claimer Claimer, processor JobProcessor, poll time.Duration, wake <-chan struct{}) *SendWorker {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &SendWorker{
		claimer:   claimer,
		processor: processor,
		poll:      poll,
		wake:      wake,
		log:       logger.With("component", "send_worker"),
	}
}

// Run claims and processes jobs until ctx is cancelled. Job failures and
// claim errors never stop the loop.
func (w *SendWorker) Run(ctx context.Context) {
	w.log.Info("send worker started", "poll", w.poll.String(), "wake", w.wake != nil)
	defer w.log.Info("send worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		claim, err := w.claimer.ClaimNext(ctx)
		switch {
		case err == nil:
			if perr := w.process(ctx, claim); perr != nil && ctx.Err() == nil {
				w.log.Warn("send job ended with error", "job_id", claim.JobID, "error", perr.Error())
			}
			continue
		case errors.Is(err, sendjob.ErrNoQueuedJob):
		case ctx.Err() != nil:
			return
		default:
			w.log.Error("claim send job", "error", err.Error())
		}

		if !w.idle(ctx) {
			return
		}
	}
}

// process shields the loop from a panicking processor. Panics inside a job
// run are settled by the dispatcher itself; one escaping here leaves the job
// running until the stale sweep recovers it.
func (w *SendWorker) process(ctx context.Context, claim domain.Claim) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing send job: %v", r)
		}
	}()
	return w.processor.Process(ctx, claim)
}

// idle waits one poll interval or until a wake-up. It returns false when ctx
// ends.
func (w *SendWorker) idle(ctx context.Context) bool {
	t := time.NewTimer(w.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case _, ok := <-w.wake:
		if !ok {
			w.wake = nil
		}
	}
	return true
}
