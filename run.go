package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayq/jobqueue/job"
)

// runnableTypes returns the job types with a registered handler that
// still has spare per-type concurrency, per the in-process counters on
// each handlerRecord. A type at capacity is left out of the next poll
// entirely rather than polled and immediately returned to waiting.
func (q *JobQueue) runnableTypes() []string {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	types := make([]string, 0, len(q.handlers))
	for t, rec := range q.handlers {
		if rec.concurrency <= 0 || rec.running.Load() < int64(rec.concurrency) {
			types = append(types, t)
		}
	}
	return types
}

// pollTick runs one iteration of the poll loop: claim at most one job
// and dispatch it. It returns how long the loop should sleep before the
// next tick, per internal.VariableHandler.
func (q *JobQueue) pollTick(ctx context.Context) time.Duration {
	if q.running.Len() >= q.cfg.Concurrency {
		return q.cfg.IdleSleep
	}
	types := q.runnableTypes()
	if len(types) == 0 {
		return q.cfg.IdleSleep
	}
	workerID := q.workerID
	newTimeout := time.Now().Add(q.cfg.LeaseDuration)
	j, err := q.storage.PollForRunnableJob(ctx, types, newTimeout, workerID)
	if err != nil {
		q.log.Error("poll failed", "err", err)
		q.emitter.emitErr(EventError, &StorageError{Op: "poll", Err: err})
		return q.cfg.IdleSleep
	}
	if j == nil {
		return q.cfg.IdleSleep
	}
	q.dispatch(ctx, j)
	return q.cfg.ActiveSleep
}

// dispatch decides what to do with a freshly claimed job: expire it,
// fail it outright if its attempts are exhausted, or hand it to its
// registered handler in a new goroutine.
func (q *JobQueue) dispatch(ctx context.Context, j *job.Job) {
	q.handlersMu.RLock()
	record, ok := q.handlers[j.Type]
	q.handlersMu.RUnlock()
	if !ok {
		// Claimed for a type we no longer (or never did) handle; leave
		// it for another worker to pick up or time out.
		return
	}

	if j.HasExpired() {
		if err := q.expireJob(ctx, j); err != nil {
			q.emitter.emitErr(EventError, err)
		}
		return
	}

	if !j.CanRetry() {
		if err := q.failJob(ctx, j); err != nil {
			q.emitter.emitErr(EventError, err)
		}
		return
	}

	if _, exists := q.running.Load(j.ID); exists {
		// The previous handler for this id lost its lease but has not
		// returned yet. Running a second handler for the same id inside
		// one engine is never allowed; the claim just made will expire
		// like any other and the job gets picked up again later.
		return
	}

	record.running.Add(1)
	entry := newRunningEntry(j)
	q.running.Store(j.ID, entry)
	q.emitter.emitJob(EventBeforeRun, j)

	q.wg.Add(1)
	go q.runHandler(q.handlerCtx, record, j, entry)
}

// runHandler invokes a claimed job's handler and applies the resulting
// transition. It always removes the job from the running set and
// decrements the type's concurrency counter on return, regardless of
// outcome.
func (q *JobQueue) runHandler(ctx context.Context, record *handlerRecord, j *job.Job, entry *runningEntry) {
	defer func() {
		record.running.Add(-1)
		q.running.Delete(j.ID)
		q.wg.Done()
	}()

	handle := &JobHandle{Job: j, queue: q, entry: entry}
	result, err := invokeHandler(ctx, record.fn, handle)

	if entry.isCanceled() {
		// The lease was already judged lost, or the job was explicitly
		// canceled, while the handler was still running. Its return
		// value is stale; the job's fate was already decided elsewhere.
		return
	}

	if err != nil {
		herr := &HandlerError{Type: j.Type, ID: j.ID, Err: err}
		q.log.Error("handler failed", "type", j.Type, "id", j.ID, "err", err)
		q.emitter.emitErr(EventHandlerError, herr)
		if terr := q.errorJob(ctx, j, herr); terr != nil && !errors.Is(terr, ErrLeaseLost) {
			q.emitter.emitErr(EventError, terr)
		}
		q.emitter.emitJob(EventAfterRun, j)
		return
	}

	if cerr := q.completeJob(ctx, j, result); cerr != nil {
		if errors.Is(cerr, ErrLeaseLost) {
			return
		}
		q.emitter.emitErr(EventError, cerr)
		return
	}
	q.emitter.emitJob(EventAfterRun, j)
}

// invokeHandler calls fn, converting a panic into an error so a single
// misbehaving handler never takes down the run loop.
func invokeHandler(ctx context.Context, fn HandlerFunc, h *JobHandle) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobqueue: handler panic: %v", r)
		}
	}()
	return fn(ctx, h)
}

// superviseLeases runs on a fixed cadence and fires cooperative cancel
// listeners for any running job whose lease has timed out. It never
// removes entries from the running set itself; only runHandler does
// that, once the handler has returned.
func (q *JobQueue) superviseLeases(ctx context.Context) {
	now := time.Now()
	q.running.Each(func(id string, entry *runningEntry) {
		if entry.isCanceled() {
			return
		}
		if !entry.hasTimedOut(now) {
			return
		}
		listeners := entry.cancel()
		q.emitter.emitJob(EventTimeout, entry.job)
		for _, l := range listeners {
			l()
		}
	})
}
