package jobqueue

import (
	"context"
	"time"

	"github.com/relayq/jobqueue/job"
	"github.com/relayq/jobqueue/recurrence"
)

func computeStopwatches(j *job.Job, now time.Time) map[string]time.Duration {
	sw := make(map[string]time.Duration, 3)
	if j.Acquired != nil {
		sw["waiting"] = j.Acquired.Sub(j.Scheduled)
		sw["running"] = now.Sub(*j.Acquired)
	}
	sw["completed"] = now.Sub(j.Scheduled)
	return sw
}

func nextScheduled(j *job.Job, now time.Time) (time.Time, error) {
	next, ok, err := recurrence.NextOccurrence(j.Recurring, j.Timezone, now)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return now, nil
	}
	return next, nil
}

// completeJob applies the handler's successful outcome to j: a
// non-recurring job becomes completed; a recurring job rearms into
// waiting at its next occurrence. It must only be called while j's
// lease is still believed valid.
func (q *JobQueue) completeJob(ctx context.Context, j *job.Job, result []byte) error {
	if j.IsComplete() || j.HasTimedOut() {
		return ErrStateError
	}
	now := time.Now()
	patch := Patch{
		FieldModified:    now,
		FieldStopwatches: computeStopwatches(j, now),
	}
	if j.Recurring != "" {
		scheduled, err := nextScheduled(j, now)
		if err != nil {
			return err
		}
		patch[FieldStatus] = job.Waiting
		patch[FieldScheduled] = scheduled
		patch[FieldAcquired] = Null()
		patch[FieldTimeout] = Null()
		patch[FieldTry] = 0
	} else {
		patch[FieldStatus] = job.Completed
		patch[FieldCompleted] = now
		patch[FieldTimeout] = Null()
	}
	post, err := q.storage.UpdateRunningJob(ctx, j.LeaseRef(), patch)
	if err != nil {
		return &StorageError{Op: "complete", Err: err}
	}
	if post == nil {
		return ErrLeaseLost
	}
	*j = *post
	// Results are only recorded for non-recurring completions; a
	// recurring job's rearm would overwrite the previous run's result
	// before anyone could read it.
	if result != nil && j.Recurring == "" {
		if err := q.storage.WriteJobResult(ctx, j.Type, j.ID, result); err != nil {
			return &StorageError{Op: "writeJobResult", Err: err}
		}
	}
	return nil
}

// errorJob records a handler failure: status becomes error, leaving the
// job eligible for reclaim while retries remain, and the error text is
// appended to the job's log.
func (q *JobQueue) errorJob(ctx context.Context, j *job.Job, cause error) error {
	now := time.Now()
	post, err := q.storage.UpdateJobByID(ctx, j.ID, Patch{
		FieldStatus:   job.Error,
		FieldModified: now,
	})
	if err != nil {
		return &StorageError{Op: "error", Err: err}
	}
	if post != nil {
		*j = *post
	}
	if _, err := q.storage.WriteJobLog(ctx, j.Type, j.ID, LogError, []byte(cause.Error())); err != nil {
		return &StorageError{Op: "errorLog", Err: err}
	}
	return nil
}

// failJob transitions a just-claimed job whose retries are exhausted
// into failed, normalizing Try by -1 to undo the increment the claim
// itself performed in promoting it from error. A recurring job stays
// failed but is rearmed (next Scheduled, Try reset to 0) instead of
// terminating, so a later poll claims it again at its next occurrence.
func (q *JobQueue) failJob(ctx context.Context, j *job.Job) error {
	now := time.Now()
	patch := Patch{FieldModified: now}
	if j.Recurring != "" {
		scheduled, err := nextScheduled(j, now)
		if err != nil {
			return err
		}
		patch[FieldStatus] = job.Failed
		patch[FieldScheduled] = scheduled
		patch[FieldAcquired] = Null()
		patch[FieldTimeout] = Null()
		patch[FieldTry] = 0
	} else {
		patch[FieldStatus] = job.Failed
		patch[FieldTry] = j.Try - 1
	}
	post, err := q.storage.UpdateJobByID(ctx, j.ID, patch)
	if err != nil {
		return &StorageError{Op: "fail", Err: err}
	}
	if post != nil {
		*j = *post
	}
	return nil
}

// expireJob marks j terminally expired; called by the run loop when a
// claimed job's hard deadline has already passed.
func (q *JobQueue) expireJob(ctx context.Context, j *job.Job) error {
	now := time.Now()
	post, err := q.storage.UpdateJobByID(ctx, j.ID, Patch{
		FieldStatus:    job.Expired,
		FieldCompleted: now,
		FieldModified:  now,
	})
	if err != nil {
		return &StorageError{Op: "expire", Err: err}
	}
	if post != nil {
		*j = *post
	}
	return nil
}

// updateTimeout extends j's lease by seconds from now, on behalf of a
// handler calling JobHandle.UpdateTimeout.
func (q *JobQueue) updateTimeout(ctx context.Context, j *job.Job, seconds int) error {
	if j.IsComplete() || j.HasTimedOut() {
		return ErrStateError
	}
	lease := j.LeaseRef()
	now := time.Now()
	newTimeout := now.Add(time.Duration(seconds) * time.Second)
	post, err := q.storage.UpdateRunningJob(ctx, lease, Patch{
		FieldTimeout:  newTimeout,
		FieldModified: now,
	})
	if err != nil {
		return &StorageError{Op: "updateTimeout", Err: err}
	}
	if post == nil {
		return ErrLeaseLost
	}
	*j = *post
	return nil
}
