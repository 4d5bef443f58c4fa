// Package sqlstore provides a bun-based implementation of
// jobqueue.Storage for relational databases.
//
// # Overview
//
// The backend registers two jobqueue.BackendFactory entries via init:
// "sqlite" and "postgres". Both share the same query layer and differ
// only in dialect and driver.
//
// # Concurrency Model
//
// PollForRunnableJob is implemented as a single atomic
// UPDATE ... WHERE id IN (subquery) ... RETURNING statement, so the
// selection and the claim happen without a race window between two
// concurrent pollers. UpdateRunningJob guards its UPDATE with the
// caller's lease (acquired, timeout) in the WHERE clause, so a lease
// that has already been superseded updates zero rows rather than
// silently overwriting another worker's claim.
//
// # Schema
//
// InitDB creates the jobs, job_logs and job_results tables, plus the
// indexes PollForRunnableJob and the TTL sweeper depend on. It is
// idempotent and runs inside a single transaction.
//
// # Limitations
//
// Lease semantics rest on status and timestamp columns, not on a
// separate lease token or optimistic-locking version; two pollers
// racing the same already-expired lease are serialized by the
// database, not by anything in this package. Delivery remains
// at-least-once.
package sqlstore
