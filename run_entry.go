package jobqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayq/jobqueue/job"
)

// runningEntry tracks one in-flight dispatch: the job itself, whether
// its lease has already been judged lost, and the cooperative cancel
// listeners a handler has registered for it. The lease deadline is
// mirrored here, separately from the Job, because the supervisor reads
// it concurrently with the handler goroutine replacing the Job's
// in-memory view after storage round trips. The lease supervisor
// mutates only these entries' fields; it never inserts or removes
// entries from the owning JobQueue's running map itself.
type runningEntry struct {
	job     *job.Job
	timeout atomic.Pointer[time.Time]

	canceled  atomic.Bool
	mu        sync.Mutex
	listeners []CancelListener
}

func newRunningEntry(j *job.Job) *runningEntry {
	e := &runningEntry{job: j}
	if j.Timeout != nil {
		t := *j.Timeout
		e.timeout.Store(&t)
	}
	return e
}

// hasTimedOut reports whether the entry's lease deadline has passed.
func (e *runningEntry) hasTimedOut(now time.Time) bool {
	t := e.timeout.Load()
	return t != nil && !t.After(now)
}

// extendTimeout records a renewed lease deadline after a successful
// JobHandle.UpdateTimeout.
func (e *runningEntry) extendTimeout(t time.Time) {
	e.timeout.Store(&t)
}

func (e *runningEntry) addListener(l CancelListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// cancel marks the entry canceled and returns a copy of the registered
// listeners for the caller to invoke. Safe to call more than once; only
// the first call returns them, later calls return nil, so each listener
// fires at most once.
func (e *runningEntry) cancel() []CancelListener {
	if !e.canceled.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CancelListener(nil), e.listeners...)
}

func (e *runningEntry) isCanceled() bool {
	return e.canceled.Load()
}
