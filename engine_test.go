package jobqueue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/jobqueue/job"
)

// memStorage is a minimal in-process Storage implementation used to
// exercise the engine's lifecycle independently of any real backend.
// It reproduces the atomicity and guard semantics the Storage contract
// requires, just over a mutex-guarded map instead of a database.
type memStorage struct {
	mu      sync.Mutex
	jobs    map[string]*job.Job
	logs    map[string][]*JobLogEntry
	results map[string]*JobResult
	seq     int64
}

func newMemStorage() *memStorage {
	return &memStorage{
		jobs:    make(map[string]*job.Job),
		logs:    make(map[string][]*JobLogEntry),
		results: make(map[string]*JobResult),
	}
}

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	return &cp
}

func (m *memStorage) SaveJob(ctx context.Context, j *job.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.UniqueID != "" {
		for _, existing := range m.jobs {
			if existing.UniqueID == j.UniqueID && !existing.Status.Terminal(existing.Recurring != "") {
				return false, nil
			}
		}
	}
	m.jobs[j.ID] = cloneJob(j)
	return true, nil
}

func (m *memStorage) FindJobByID(ctx context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(j), nil
}

func applyPatch(j *job.Job, patch Patch) {
	for k, v := range patch {
		switch k {
		case FieldStatus:
			j.Status = v.(job.Status)
		case FieldWorker:
			j.Worker = v.(string)
		case FieldScheduled:
			j.Scheduled = v.(time.Time)
		case FieldAcquired:
			if isNull(v) {
				j.Acquired = nil
			} else {
				t := v.(time.Time)
				j.Acquired = &t
			}
		case FieldTimeout:
			if isNull(v) {
				j.Timeout = nil
			} else {
				t := v.(time.Time)
				j.Timeout = &t
			}
		case FieldTry:
			j.Try = v.(int)
		case FieldCompleted:
			if isNull(v) {
				j.Completed = nil
			} else {
				t := v.(time.Time)
				j.Completed = &t
			}
		case FieldModified:
			j.Modified = v.(time.Time)
		case FieldStopwatches:
			j.Stopwatches = v.(map[string]time.Duration)
		}
	}
}

func (m *memStorage) UpdateJobByID(ctx context.Context, id string, patch Patch) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	applyPatch(j, patch)
	return cloneJob(j), nil
}

func (m *memStorage) CancelJob(ctx context.Context, id, uniqueID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *job.Job
	for _, j := range m.jobs {
		if (id != "" && j.ID == id) || (id == "" && j.UniqueID == uniqueID) {
			found = j
			break
		}
	}
	if found == nil {
		return nil, nil
	}
	found.Status = job.Canceled
	found.Modified = time.Now()
	return cloneJob(found), nil
}

func eligible(j *job.Job, types map[string]bool, now time.Time) bool {
	if !types[j.Type] {
		return false
	}
	if j.Scheduled.After(now) {
		return false
	}
	switch {
	case j.Status == job.Waiting:
		return true
	case j.Status == job.Running && j.Timeout != nil && !j.Timeout.After(now):
		return true
	case j.Status == job.Error:
		return true
	case j.Status == job.Failed && j.Recurring != "":
		return true
	default:
		return false
	}
}

func (m *memStorage) PollForRunnableJob(ctx context.Context, types []string, newTimeout time.Time, workerID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	now := time.Now()
	var candidates []*job.Job
	for _, j := range m.jobs {
		if eligible(j, typeSet, now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority < candidates[k].Priority
		}
		return candidates[i].Created.Before(candidates[k].Created)
	})
	claimed := candidates[0]
	claimed.Status = job.Running
	claimed.Acquired = &now
	t := newTimeout
	claimed.Timeout = &t
	claimed.Worker = workerID
	claimed.Modified = now
	claimed.Try++
	return cloneJob(claimed), nil
}

func (m *memStorage) UpdateRunningJob(ctx context.Context, lease job.LeaseRef, patch Patch) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[lease.ID]
	if !ok {
		return nil, nil
	}
	if j.Status != job.Running || !sameTimePtr(j.Acquired, lease.Acquired) || !sameTimePtr(j.Timeout, lease.Timeout) {
		return nil, nil
	}
	applyPatch(j, patch)
	return cloneJob(j), nil
}

func sameTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (m *memStorage) WriteJobLog(ctx context.Context, jobType, jobID string, level LogLevel, message []byte) (*JobLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &JobLogEntry{JobType: jobType, JobID: jobID, Level: level, Message: message, Created: time.Now()}
	m.logs[jobID] = append(m.logs[jobID], entry)
	return entry, nil
}

func (m *memStorage) ReadJobLog(ctx context.Context, jobID string, skip, limit int) ([]*JobLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.logs[jobID]
	if skip >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return append([]*JobLogEntry(nil), all[skip:end]...), nil
}

func (m *memStorage) WriteJobResult(ctx context.Context, jobType, jobID string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[jobID] = &JobResult{JobID: jobID, JobType: jobType, Message: message, Created: time.Now()}
	return nil
}

func (m *memStorage) ReadJobResult(ctx context.Context, jobID string) (*JobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[jobID], nil
}

func (m *memStorage) Close() error {
	return nil
}

func newTestQueue(t *testing.T, storage Storage, cfg Config) *JobQueue {
	t.Helper()
	RegisterBackend("memtest", func(ctx context.Context, uri string) (Storage, error) {
		return storage, nil
	})
	cfg.StorageURI = "memtest://inline"
	q, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return q
}

func fastConfig() Config {
	return Config{
		LeaseDuration:      200 * time.Millisecond,
		ActiveSleep:        time.Millisecond,
		IdleSleep:          5 * time.Millisecond,
		SupervisorInterval: 20 * time.Millisecond,
	}
}

func TestEndToEndSimpleRoundTrip(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	done := make(chan struct{})
	var gotMessage []byte
	require.NoError(t, q.Handle("echo", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		gotMessage = h.Job.Message
		close(done)
		return []byte("ok"), nil
	}))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	pushed, err := q.Push(context.Background(), "echo", []byte("hello"), job.Options{})
	require.NoError(t, err)
	require.NotNil(t, pushed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	require.Equal(t, []byte("hello"), gotMessage)

	time.Sleep(50 * time.Millisecond)
	result, err := storage.ReadJobResult(context.Background(), pushed.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, []byte("ok"), result.Message)

	final, err := storage.FindJobByID(context.Background(), pushed.ID)
	require.NoError(t, err)
	require.Equal(t, job.Completed, final.Status)
}

func TestEndToEndUniqueDedup(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	first, err := q.Push(context.Background(), "dedup", []byte("a"), job.Options{UniqueID: "only-one"})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Push(context.Background(), "dedup", []byte("b"), job.Options{UniqueID: "only-one"})
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestEndToEndLeaseTimeoutAndRetry(t *testing.T) {
	storage := newMemStorage()
	cfg := fastConfig()
	cfg.LeaseDuration = 30 * time.Millisecond
	cfg.SupervisorInterval = 10 * time.Millisecond
	q := newTestQueue(t, storage, cfg)

	var attempts atomicCounter
	secondTry := make(chan struct{})
	require.NoError(t, q.Handle("stall", 2, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		n := attempts.inc()
		if n == 1 {
			canceled := make(chan struct{})
			h.OnCancel(func() { close(canceled) })
			<-canceled
			// Returned after the lease was judged lost; discarded.
			return []byte("stale"), nil
		}
		close(secondTry)
		return []byte("done"), nil
	}))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	retries := 5
	pushed, err := q.Push(context.Background(), "stall", []byte("x"), job.Options{Retries: &retries})
	require.NoError(t, err)
	require.NotNil(t, pushed)

	select {
	case <-secondTry:
	case <-time.After(3 * time.Second):
		t.Fatal("job was never retried after lease timeout")
	}

	// Try is at least 2: one increment per claim, and the engine may
	// have burned an extra claim on a tick where the first handler was
	// still draining.
	require.Eventually(t, func() bool {
		j, err := storage.FindJobByID(context.Background(), pushed.ID)
		return err == nil && j != nil && j.Status == job.Completed && j.Try >= 2
	}, 2*time.Second, 10*time.Millisecond)

	result, err := storage.ReadJobResult(context.Background(), pushed.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, []byte("done"), result.Message)
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestEndToEndRetryExhaustion(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	zero := 0
	var calls atomicCounter
	require.NoError(t, q.Handle("bad", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		calls.inc()
		return nil, context.DeadlineExceeded
	}))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	pushed, err := q.Push(context.Background(), "bad", []byte("x"), job.Options{Retries: &zero})
	require.NoError(t, err)
	require.NotNil(t, pushed)

	require.Eventually(t, func() bool {
		j, err := storage.FindJobByID(context.Background(), pushed.ID)
		return err == nil && j != nil && j.Status == job.Failed
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, calls.get())
}

func TestEndToEndPriorityOrdering(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, Config{
		LeaseDuration:      time.Second,
		ActiveSleep:        time.Millisecond,
		IdleSleep:          5 * time.Millisecond,
		SupervisorInterval: time.Hour,
	})

	var order []int
	var mu sync.Mutex
	processed := make(chan struct{}, 3)
	require.NoError(t, q.Handle("ordered", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		mu.Lock()
		order = append(order, h.Job.Priority)
		mu.Unlock()
		processed <- struct{}{}
		return nil, nil
	}))

	_, err := q.Push(context.Background(), "ordered", nil, job.Options{Priority: 5})
	require.NoError(t, err)
	_, err = q.Push(context.Background(), "ordered", nil, job.Options{Priority: 1})
	require.NoError(t, err)
	_, err = q.Push(context.Background(), "ordered", nil, job.Options{Priority: 3})
	require.NoError(t, err)

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	for i := 0; i < 3; i++ {
		select {
		case <-processed:
		case <-time.After(3 * time.Second):
			t.Fatal("not all jobs processed")
		}
	}

	require.Equal(t, []int{1, 3, 5}, order)
}

func TestHandleDuplicateRegistration(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	fn := func(ctx context.Context, h *JobHandle) ([]byte, error) { return nil, nil }
	require.NoError(t, q.Handle("dup", 1, fn))
	require.ErrorIs(t, q.Handle("dup", 1, fn), ErrHandlerExists)
}

func TestCancelRequiresKey(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	_, err := q.Cancel(context.Background(), "", "")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestProxyPushMergesDefaults(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	proxy := q.Proxy("report", job.Options{Priority: 7, Timezone: "UTC"})
	pushed, err := proxy.Push(context.Background(), []byte("weekly"), job.Options{UniqueID: "report-1"})
	require.NoError(t, err)
	require.NotNil(t, pushed)
	require.Equal(t, 7, pushed.Priority)
	require.Equal(t, "report-1", pushed.UniqueID)

	saved, err := storage.FindJobByID(context.Background(), pushed.ID)
	require.NoError(t, err)
	require.Equal(t, 7, saved.Priority)
}

func TestEndToEndRecurringRearm(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	ran := make(chan struct{})
	var once sync.Once
	require.NoError(t, q.Handle("tick", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		once.Do(func() { close(ran) })
		return []byte("tick output"), nil
	}))

	// Saved directly so Scheduled can sit in the past; job.New would
	// compute the next cron occurrence, up to a minute away.
	rec := &job.Job{
		ID:        "rec-1",
		Type:      "tick",
		Recurring: "* * * * *",
		Timezone:  "UTC",
		Status:    job.Waiting,
		Retries:   2,
		Scheduled: time.Now().Add(-time.Second),
		Created:   time.Now(),
		Modified:  time.Now(),
	}
	saved, err := storage.SaveJob(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, saved)

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("recurring job never ran")
	}

	require.Eventually(t, func() bool {
		j, err := storage.FindJobByID(context.Background(), "rec-1")
		return err == nil && j != nil &&
			j.Status == job.Waiting && j.Try == 0 &&
			j.Acquired == nil && j.Scheduled.After(time.Now())
	}, 2*time.Second, 10*time.Millisecond)

	// A recurring completion rearms without recording a result.
	result, err := storage.ReadJobResult(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestEngineWideConcurrencyCap(t *testing.T) {
	storage := newMemStorage()
	cfg := fastConfig()
	cfg.Concurrency = 1
	q := newTestQueue(t, storage, cfg)

	release := make(chan struct{})
	var active atomicCounter
	handler := func(ctx context.Context, h *JobHandle) ([]byte, error) {
		active.inc()
		<-release
		return nil, nil
	}
	require.NoError(t, q.Handle("a", 2, handler))
	require.NoError(t, q.Handle("b", 2, handler))

	_, err := q.Push(context.Background(), "a", nil, job.Options{})
	require.NoError(t, err)
	_, err = q.Push(context.Background(), "b", nil, job.Options{})
	require.NoError(t, err)

	require.NoError(t, q.Start(context.Background()))
	defer func() {
		close(release)
		q.Stop(context.Background())
	}()

	require.Eventually(t, func() bool { return active.get() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The second job must stay unclaimed while the first still holds
	// the engine's single slot.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, active.get())
}

func TestUpdateTimeoutExtendsLease(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	extended := make(chan error, 1)
	var before, after *time.Time
	require.NoError(t, q.Handle("long", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		before = h.Job.Timeout
		err := h.UpdateTimeout(ctx, 120)
		after = h.Job.Timeout
		extended <- err
		return nil, nil
	}))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	_, err := q.Push(context.Background(), "long", nil, job.Options{})
	require.NoError(t, err)

	select {
	case err := <-extended:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	require.NotNil(t, before)
	require.NotNil(t, after)
	require.True(t, after.After(*before))
}

func TestPauseLeavesRunningHandlerAlone(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	started := make(chan struct{})
	proceed := make(chan struct{})
	require.NoError(t, q.Handle("slow", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		close(started)
		select {
		case <-proceed:
			return []byte("finished"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	pushed, err := q.Push(context.Background(), "slow", nil, job.Options{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, q.Pause())
	close(proceed)

	require.Eventually(t, func() bool {
		j, err := storage.FindJobByID(context.Background(), pushed.ID)
		return err == nil && j != nil && j.Status == job.Completed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndToEndCancelRunning(t *testing.T) {
	storage := newMemStorage()
	q := newTestQueue(t, storage, fastConfig())

	started := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, q.Handle("cancelable", 1, func(ctx context.Context, h *JobHandle) ([]byte, error) {
		h.OnCancel(func() { close(canceled) })
		close(started)
		<-canceled
		return nil, context.Canceled
	}))

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	pushed, err := q.Push(context.Background(), "cancelable", []byte("x"), job.Options{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	_, err = q.Cancel(context.Background(), pushed.ID, "")
	require.NoError(t, err)

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel listener never fired")
	}
}
