package jobqueue

import (
	"context"
	"sync/atomic"

	"github.com/relayq/jobqueue/job"
)

// CancelListener is invoked, cooperatively, when a job's lease has
// expired, when it is explicitly canceled, or when the engine is
// stopping. It should cause the handler to return promptly; the engine
// never forcibly terminates a handler goroutine.
type CancelListener func()

// JobHandle is passed to a HandlerFunc. It exposes the job being
// processed along with the two capabilities a handler gets: registering
// a cooperative cancel listener, and extending the job's own lease.
type JobHandle struct {
	Job *job.Job

	queue *JobQueue
	entry *runningEntry
}

// OnCancel registers a listener invoked when the job's lease expires,
// it is canceled, or the engine stops. Passing nil returns ErrConfig.
func (h *JobHandle) OnCancel(l CancelListener) error {
	if l == nil {
		return ErrConfig
	}
	h.entry.addListener(l)
	return nil
}

// UpdateTimeout extends the job's lease by seconds from now. It fails
// with ErrStateError if the job is already complete or its lease has
// already timed out, and with ErrLeaseLost if another worker has since
// superseded the lease.
func (h *JobHandle) UpdateTimeout(ctx context.Context, seconds int) error {
	if err := h.queue.updateTimeout(ctx, h.Job, seconds); err != nil {
		return err
	}
	if h.Job.Timeout != nil {
		h.entry.extendTimeout(*h.Job.Timeout)
	}
	return nil
}

// HandlerFunc processes a single job. Returning a non-nil error marks
// the job errored, making it eligible for retry or failure on the next
// poll. Returning (result, nil) completes the job; result is stored as
// the job's JobResult iff it is non-nil.
type HandlerFunc func(ctx context.Context, h *JobHandle) (result []byte, err error)

type handlerRecord struct {
	fn          HandlerFunc
	concurrency int
	running     atomic.Int64
}
