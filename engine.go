package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/relayq/jobqueue/internal"
	"github.com/relayq/jobqueue/job"
)

// Config holds the settings for a JobQueue. Zero values fall back to
// DefaultConfig's, except ActiveSleep, where zero is meaningful.
type Config struct {
	// StorageURI is passed to Open to resolve the backend. Required.
	StorageURI string

	// Concurrency caps how many jobs this engine runs at once across
	// all types, on top of each handler's own per-type limit. A tick
	// that finds the engine at capacity skips polling entirely.
	Concurrency int

	// LeaseDuration is how long a claimed job's lease runs before the
	// lease supervisor considers it timed out.
	LeaseDuration time.Duration

	// ActiveSleep is how long the poll loop waits after a tick that
	// claimed a job. Zero means poll again immediately.
	ActiveSleep time.Duration

	// IdleSleep is how long the poll loop waits after a tick that found
	// no eligible job, or found every registered type at capacity.
	IdleSleep time.Duration

	// SupervisorInterval is the cadence of the lease supervisor's sweep
	// for timed-out running jobs.
	SupervisorInterval time.Duration

	// WorkerID identifies this engine's claims in storage. Defaults to
	// processIdentity() if empty.
	WorkerID string

	// Log receives structured records for poll failures, handler
	// errors, and storage close failures. Defaults to slog.Default().
	Log *slog.Logger
}

// DefaultConfig returns the Config used for any field left at its zero
// value by the caller.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		LeaseDuration:      60 * time.Second,
		ActiveSleep:        10 * time.Millisecond,
		IdleSleep:          time.Second,
		SupervisorInterval: time.Second,
	}
}

func processIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s[%d]", host, os.Getpid())
}

// JobQueue is a single engine: one poll loop and one lease supervisor,
// backed by a Storage, dispatching claimed jobs to the handlers
// registered with Handle. A process may run more than one JobQueue
// against the same backend; claims are serialized by storage, not by
// any in-process lock.
type JobQueue struct {
	storage  Storage
	cfg      Config
	workerID string
	log      *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]*handlerRecord

	emitter *emitter
	running *internal.RunningJobs[string, *runningEntry]

	lcBase
	cancel         context.CancelFunc
	pollTask       internal.VariableTask
	supervisorTask internal.TimerTask
	wg             sync.WaitGroup

	// handlerCtx outlives any one Start/Pause cycle: handlers started
	// before a Pause keep running under it and complete normally. It is
	// canceled only by Stop, as the engine-wide signal to handlers that
	// block on ctx.Done.
	handlerCtx    context.Context
	handlerCancel context.CancelFunc
}

// New opens cfg.StorageURI via Open and returns a JobQueue ready to
// register handlers on. The engine does not start polling until Start
// is called.
func New(ctx context.Context, cfg Config) (*JobQueue, error) {
	if cfg.StorageURI == "" {
		return nil, fmt.Errorf("%w: StorageURI is required", ErrConfig)
	}
	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaults.LeaseDuration
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaults.IdleSleep
	}
	if cfg.SupervisorInterval <= 0 {
		cfg.SupervisorInterval = defaults.SupervisorInterval
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = processIdentity()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	storage, err := Open(ctx, cfg.StorageURI)
	if err != nil {
		return nil, err
	}

	q := &JobQueue{
		storage:  storage,
		cfg:      cfg,
		workerID: cfg.WorkerID,
		log:      cfg.Log,
		handlers: make(map[string]*handlerRecord),
		emitter:  newEmitter(),
		running:  internal.NewRunningJobs[string, *runningEntry](),
	}
	q.handlerCtx, q.handlerCancel = context.WithCancel(context.Background())
	q.emitter.emit(EventConnect, Event{})
	return q, nil
}

// On registers a listener for the named event. See EventName's
// constants for the full set of events a JobQueue emits.
func (q *JobQueue) On(name EventName, l Listener) {
	q.emitter.On(name, l)
}

// Handle registers fn as the handler for jobType, with concurrency
// limiting how many jobs of that type this engine runs at once (zero
// or negative means unlimited). Returns ErrHandlerExists if jobType
// already has a handler.
func (q *JobQueue) Handle(jobType string, concurrency int, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: handler func is nil", ErrConfig)
	}
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	if _, ok := q.handlers[jobType]; ok {
		return ErrHandlerExists
	}
	q.handlers[jobType] = &handlerRecord{fn: fn, concurrency: concurrency}
	q.emitter.emit(EventHandle, Event{})
	return nil
}

// Storage returns the backend this JobQueue was opened against, for
// callers that need to reach backend-specific functionality (e.g. a
// sqlstore.Sweeper) alongside the engine.
func (q *JobQueue) Storage() Storage {
	return q.storage
}

// Push constructs a new job of jobType from message and opts and saves
// it. A nil job with a nil error means opts.UniqueID collided with an
// existing non-terminal job: the push was a no-op duplicate, not a
// failure.
func (q *JobQueue) Push(ctx context.Context, jobType string, message []byte, opts job.Options) (*job.Job, error) {
	j, err := job.New(jobType, message, opts)
	if err != nil {
		return nil, err
	}
	saved, err := q.storage.SaveJob(ctx, j)
	if err != nil {
		return nil, &StorageError{Op: "push", Err: err}
	}
	if !saved {
		return nil, nil
	}
	q.emitter.emitJob(EventPush, j)
	return j, nil
}

// Proxy returns a Pusher bound to jobType with defaults pre-filled; a
// caller's own Options on each Push override only the fields they set.
func (q *JobQueue) Proxy(jobType string, defaults job.Options) *Pusher {
	return &Pusher{queue: q, jobType: jobType, defaults: defaults}
}

// Pusher is a JobQueue bound to one job type and a fixed set of default
// Options, so callers that always push the same type don't repeat
// themselves.
type Pusher struct {
	queue    *JobQueue
	jobType  string
	defaults job.Options
}

// Push merges overrides onto the Pusher's defaults and pushes the
// result, exactly as JobQueue.Push.
func (p *Pusher) Push(ctx context.Context, message []byte, overrides job.Options) (*job.Job, error) {
	merged := job.MergeOptions(p.defaults, overrides)
	return p.queue.Push(ctx, p.jobType, message, merged)
}

// Cancel marks a job canceled, identified by id if non-empty, else by
// uniqueID. If the job is currently running in this process, its
// cooperative cancel listeners fire immediately; if it is running in
// another process, that worker's own lease supervisor will never learn
// of the cancellation until the lease times out or the handler itself
// checks back with storage.
func (q *JobQueue) Cancel(ctx context.Context, id, uniqueID string) (*job.Job, error) {
	if id == "" && uniqueID == "" {
		return nil, ErrNoKey
	}
	j, err := q.storage.CancelJob(ctx, id, uniqueID)
	if err != nil {
		return nil, &StorageError{Op: "cancel", Err: err}
	}
	if j == nil {
		return nil, nil
	}
	if entry, ok := q.running.Load(j.ID); ok {
		for _, l := range entry.cancel() {
			l()
		}
	}
	q.emitter.emitJob(EventCancel, j)
	return j, nil
}

// Start begins polling and lease supervision. It is idempotent: calling
// Start on an already-started engine is a no-op. Calling Start after
// Pause resumes both loops.
func (q *JobQueue) Start(ctx context.Context) error {
	if !q.tryStart() {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.pollTask.Start(runCtx, q.pollTick)
	q.supervisorTask.Start(runCtx, q.superviseLeases, q.cfg.SupervisorInterval)
	q.emitter.emit(EventStart, Event{})
	return nil
}

// Pause stops polling and lease supervision without canceling any job
// currently being handled. Calling Pause on an engine that is not
// started is a no-op.
func (q *JobQueue) Pause() error {
	if !q.tryPause() {
		return nil
	}
	q.cancel()
	<-internal.Combine(q.pollTask.Stop(), q.supervisorTask.Stop())
	q.emitter.emit(EventPause, Event{})
	return nil
}

// Stop halts polling and lease supervision, cooperatively cancels every
// job still running in this process, and waits for their handlers to
// return before returning itself. It respects ctx's deadline for that
// wait; a timed-out Stop leaves handlers running in the background and
// leaves storage connected, since jobs may still be writing to it. Once
// running has drained to 0, Stop closes storage and emits
// EventDisconnect before emitting EventStop. Stop is terminal: calling
// it again is a no-op.
func (q *JobQueue) Stop(ctx context.Context) error {
	if !q.tryStop() {
		return nil
	}
	if q.cancel != nil {
		q.cancel()
		<-internal.Combine(q.pollTask.Stop(), q.supervisorTask.Stop())
	}

	q.running.Each(func(_ string, entry *runningEntry) {
		for _, l := range entry.cancel() {
			l()
		}
	})
	q.handlerCancel()

	waitDone := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		q.emitter.emit(EventStop, Event{})
		return ctx.Err()
	}
	if err := q.storage.Close(); err != nil {
		q.log.Error("storage close failed", "error", err)
	}
	q.emitter.emit(EventDisconnect, Event{})
	q.emitter.emit(EventStop, Event{})
	return nil
}
