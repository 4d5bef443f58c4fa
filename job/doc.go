// Package job defines Job, the primary entity moving through a queue's
// lifecycle from waiting through a terminal state, along with the
// Status enum and the lease triple that identifies a single claim of a
// job by a worker.
//
// Job values are storage-agnostic: the engine and a Storage
// implementation exchange them as plain snapshots. Mutating a Job's
// fields directly never changes persisted state; transitions happen
// through the engine, which replaces its in-memory view with whatever
// post-image storage returns after each claim or patch.
package job
