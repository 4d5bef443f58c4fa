// Package jobqueue provides a storage-agnostic, distributed, persistent
// job queue with at-least-once delivery, leased execution, retries,
// cron recurrence, prioritization and per-job logs and results.
//
// # Overview
//
// jobqueue models a durable work queue with explicit state transitions.
// Job (package job) carries both the application payload and its
// delivery/scheduling metadata; a JobQueue is a worker-process engine
// that polls a Storage implementation for runnable jobs and dispatches
// them to registered per-type handlers.
//
// The package does not mandate any particular storage backend. The
// sqlstore subpackage provides a bun-based reference implementation
// over SQLite and PostgreSQL, registered by URI scheme.
//
// # Delivery Semantics
//
// jobqueue provides at-least-once processing guarantees, not
// exactly-once. A job may be delivered more than once if a worker
// crashes before completing it, if its lease expires before
// completion, or if the lease is lost to a concurrent claim. Handlers
// must therefore be idempotent.
//
// # Visibility Timeout (Lease Model)
//
// When a job is polled, it transitions from waiting to running and
// receives a lease: Acquired is set to now, Timeout to now plus the
// engine's configured lease duration. While the lease is valid the job
// is not eligible for another claim. If the lease expires before
// completion, the job becomes claimable again without any special
// handling: the poll predicate simply admits running jobs whose
// Timeout has passed.
//
// Unlike some lease-based queues, the engine does not auto-renew a
// lease on the handler's behalf. A long-running handler must call
// JobHandle.UpdateTimeout itself, or register an OnCancel listener and
// stop promptly when the lease supervisor invokes it.
//
// # State Machine
//
// Jobs follow this lifecycle:
//
//	waiting  -> running
//	running  -> completed   (or -> waiting again, if recurring)
//	running  -> error       (handler returned an error)
//	error    -> running     (retries remain)
//	error    -> failed      (retries exhausted)
//	failed   -> running     (if recurring, on its next occurrence)
//	any      -> expired     (hard deadline passed)
//	any      -> canceled    (explicit client request)
//
// Terminal states (completed, expired, canceled, and failed when not
// recurring) are not retried unless explicitly requeued.
//
// # Retry Policy
//
// Retry eligibility is governed by Job.CanRetry: Try <= Retries+1. Try
// is incremented on every claim, including reclaims of an errored job.
// Once a poll finds an errored job whose Try already exceeds that
// bound, the engine transitions it to failed instead of dispatching it
// again.
//
// # JobQueue
//
// JobQueue coordinates polling, dispatching, lease supervision and
// lifecycle transitions. It:
//
//   - polls storage for a single runnable job per tick, restricted to
//     handler types under their configured concurrency
//   - dispatches the job to its registered handler
//   - runs a 1 Hz lease supervisor that notifies handlers of expired
//     leases via cooperative cancellation
//   - completes, retries, fails or expires jobs according to the
//     handler's outcome and the job's own state
//
// JobQueue does not guarantee exactly-once delivery.
//
// # Storage Contract
//
// Storage defines the following operations: SaveJob, FindJobByID,
// UpdateJobByID, CancelJob, PollForRunnableJob, UpdateRunningJob,
// WriteJobLog, ReadJobLog, WriteJobResult and ReadJobResult. These
// interfaces allow storage implementations to be plugged in without
// coupling queue logic to a specific database. PollForRunnableJob and
// UpdateRunningJob are the two operations that must be atomic with
// respect to concurrent callers across processes.
//
// # Concurrency Model
//
// The run loop is single-threaded and cooperative: one logical polling
// task drives ticks, and dispatched handlers execute concurrently with
// each other but never twice for the same job id within one engine.
// Per-type concurrency is enforced by an in-process counter, not by the
// store.
//
// # Events
//
// JobQueue emits named events (push, handle, start, pause, stop,
// beforeRun, afterRun, timeout, cancel, error, handlerError, connect,
// disconnect) to registered listeners, carrying the related Job or
// error as payload.
//
// # Summary
//
// jobqueue provides a minimal yet structured foundation for building
// durable background processing systems with explicit lifecycle
// control, retry semantics, cron recurrence and pluggable storage
// backends.
package jobqueue
