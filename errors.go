package jobqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates invalid engine configuration: a missing or
	// unrecognized storage URI, a duplicate handler registration for a
	// job type, or an invalid listener.
	ErrConfig = errors.New("jobqueue: config error")

	// ErrHandlerExists is returned by Handle when a handler is already
	// registered for the given job type. It wraps ErrConfig.
	ErrHandlerExists = fmt.Errorf("%w: handler already registered for type", ErrConfig)

	// ErrLeaseLost indicates that UpdateRunningJob found the persisted
	// row no longer matching the caller's lease: another worker
	// reclaimed or rescheduled the job. Treated as a silent cancel.
	ErrLeaseLost = errors.New("jobqueue: lease lost")

	// ErrStateError indicates an attempt to complete or update a job
	// that is already in an incompatible state, such as one already
	// completed or whose lease has already timed out.
	ErrStateError = errors.New("jobqueue: invalid job state for operation")

	// ErrNoKey is returned by Cancel when neither an id nor a unique id
	// is supplied.
	ErrNoKey = errors.New("jobqueue: cancel requires an id or unique id")

	// ErrUnknownScheme is returned by Open when no backend is
	// registered for the storage URI's scheme. It wraps ErrConfig.
	ErrUnknownScheme = fmt.Errorf("%w: no backend registered for scheme", ErrConfig)
)

// HandlerError wraps a panic or error value produced by a user handler.
// It is the error fed into the job's error-recording transition and
// emitted on EventHandlerError.
type HandlerError struct {
	Type string
	ID   string
	Err  error
}

func (e *HandlerError) Error() string {
	return "jobqueue: handler error for " + e.Type + " job " + e.ID + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// StorageError wraps any non-duplicate failure surfaced by a Storage
// implementation. It is emitted on EventError and does not stop the run
// loop.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "jobqueue: storage error during " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
