package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayq/jobqueue/recurrence"
)

// DefaultRetries is the number of additional attempts granted to a job
// that does not specify Options.Retries explicitly.
const DefaultRetries = 2

// MergeOptions layers overrides on top of defaults: any field left at
// its zero value in overrides falls back to the corresponding field in
// defaults. Used by JobQueue.Proxy to combine a proxy's fixed defaults
// with the per-call options a producer supplies.
func MergeOptions(defaults, overrides Options) Options {
	merged := defaults
	if overrides.UniqueID != "" {
		merged.UniqueID = overrides.UniqueID
	}
	if overrides.Client != "" {
		merged.Client = overrides.Client
	}
	if overrides.Recurring != "" {
		merged.Recurring = overrides.Recurring
	}
	if overrides.Timezone != "" {
		merged.Timezone = overrides.Timezone
	}
	if overrides.Retries != nil {
		merged.Retries = overrides.Retries
	}
	if overrides.Priority != 0 {
		merged.Priority = overrides.Priority
	}
	if overrides.Scheduled != nil {
		merged.Scheduled = overrides.Scheduled
	}
	if overrides.Delay != 0 {
		merged.Delay = overrides.Delay
	}
	if overrides.Expire != nil {
		merged.Expire = overrides.Expire
	}
	if overrides.Metadata != nil {
		merged.Metadata = overrides.Metadata
	}
	return merged
}

// LeaseRef identifies a single claim of a job by a worker. Two leases on
// the same job id are never simultaneously valid: a lease is current only
// as long as the persisted row's (Acquired, Timeout) pair matches.
type LeaseRef struct {
	ID       string
	Acquired *time.Time
	Timeout  *time.Time
}

// Options carries the client-supplied fields used to construct a new Job.
// All fields are optional; zero values fall back to the defaults
// documented on Job's own fields.
type Options struct {
	UniqueID string
	Client   string

	Recurring string
	Timezone  string

	// Retries, if non-nil, overrides DefaultRetries. A pointer is used
	// so that an explicit 0 (no retries) is distinguishable from "not
	// set".
	Retries   *int
	Priority  int
	Scheduled *time.Time
	Delay     time.Duration
	Expire    *time.Time
	Metadata  map[string]any
}

// Job is the primary entity of the queue: a unit of work moving through
// the lifecycle described by Status, from Waiting through a terminal
// state.
//
// Job values returned from storage are snapshots. Mutating fields on a
// Job directly does not change persisted state; transitions happen
// through the engine, which always replaces its in-memory view with the
// post-image storage returns.
type Job struct {
	ID       string
	Type     string
	UniqueID string
	Message  []byte
	Metadata map[string]any

	Client string
	Worker string

	Recurring string
	Timezone  string

	Status   Status
	Retries  int
	Try      int
	Priority int

	Scheduled time.Time
	Acquired  *time.Time
	Timeout   *time.Time
	Expire    *time.Time
	Completed *time.Time

	Created  time.Time
	Modified time.Time

	Stopwatches map[string]time.Duration
}

// New constructs a waiting, in-memory Job from client inputs. It computes
// Scheduled according to the rule:
//
//   - if opts.Scheduled is set, use it verbatim;
//   - else if opts.Recurring is set, Scheduled := NextOccurrence(recurring, tz, now);
//   - else Scheduled := now;
//   - finally, if opts.Delay > 0, Scheduled := max(Scheduled, now+Delay).
//
// A recurring job with no explicit Scheduled gets its first occurrence
// computed before Delay is applied on top of it; Delay never shortens a
// later recurrence into the past relative to now+Delay.
func New(jobType string, message []byte, opts Options) (*Job, error) {
	now := time.Now()
	timezone := opts.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	retries := DefaultRetries
	if opts.Retries != nil {
		retries = *opts.Retries
	}

	scheduled := now
	switch {
	case opts.Scheduled != nil:
		scheduled = *opts.Scheduled
	case opts.Recurring != "":
		next, ok, err := recurrence.NextOccurrence(opts.Recurring, timezone, now)
		if err != nil {
			return nil, err
		}
		if ok {
			scheduled = next
		}
	}
	if opts.Delay > 0 {
		withDelay := now.Add(opts.Delay)
		if withDelay.After(scheduled) {
			scheduled = withDelay
		}
	}

	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		UniqueID:  opts.UniqueID,
		Message:   message,
		Metadata:  opts.Metadata,
		Client:    opts.Client,
		Recurring: opts.Recurring,
		Timezone:  timezone,
		Status:    Waiting,
		Retries:   retries,
		Try:       0,
		Priority:  opts.Priority,
		Scheduled: scheduled,
		Expire:    opts.Expire,
		Created:   now,
		Modified:  now,
	}, nil
}

// IsComplete reports whether the job has already reached a state that
// must not be completed again: completed, expired, canceled, or failed
// without a recurring schedule to rearm it.
func (j *Job) IsComplete() bool {
	return j.Status.Terminal(j.Recurring != "")
}

// HasTimedOut reports whether the job's lease, if any, has expired.
func (j *Job) HasTimedOut() bool {
	return j.Timeout != nil && !j.Timeout.After(time.Now())
}

// HasExpired reports whether the job's hard deadline has passed.
func (j *Job) HasExpired() bool {
	return j.Expire != nil && !j.Expire.After(time.Now())
}

// HasError reports whether the last attempt recorded a handler error.
func (j *Job) HasError() bool {
	return j.Status == Error
}

// CanRetry reports whether the job has attempts remaining.
func (j *Job) CanRetry() bool {
	return j.Try <= j.Retries+1
}

// LeaseRef returns the triple that identifies the job's current claim.
// It is only meaningful while Status is Running.
func (j *Job) LeaseRef() LeaseRef {
	return LeaseRef{ID: j.ID, Acquired: j.Acquired, Timeout: j.Timeout}
}
