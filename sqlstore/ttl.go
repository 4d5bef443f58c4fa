package sqlstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue/internal"
	"github.com/relayq/jobqueue/job"
)

// errNonTerminalStatus is returned by Sweeper.Delete if asked to evict
// a status that can still transition on its own (anything but
// completed, expired, canceled or failed).
var errNonTerminalStatus = errors.New("sqlstore: status is not eligible for eviction")

// defaultTTL is the retention window for terminal jobs and for
// job_logs/job_results rows.
const defaultTTL = 24 * time.Hour

// TTLConfig controls a Sweeper's periodic deletion of old terminal
// jobs, job_logs entries and job_results entries: retention
// management, not part of the queue's delivery semantics.
type TTLConfig struct {
	// Statuses to evict from jobs. Only terminal statuses are
	// meaningful; a non-terminal status is rejected by Delete.
	Statuses []job.Status

	// Interval between sweeps.
	Interval time.Duration

	// Age is how long after Modified a job becomes eligible for
	// deletion.
	Age time.Duration

	// LogAge is how long after Created a job_logs row becomes eligible
	// for deletion. Zero disables log eviction.
	LogAge time.Duration

	// ResultAge is how long after Created a job_results row becomes
	// eligible for deletion. Zero disables result eviction.
	ResultAge time.Duration
}

// DefaultTTLConfig returns 24-hour retention for terminal jobs,
// job_logs and job_results, swept hourly.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Statuses:  []job.Status{job.Completed, job.Expired, job.Canceled, job.Failed},
		Interval:  time.Hour,
		Age:       defaultTTL,
		LogAge:    defaultTTL,
		ResultAge: defaultTTL,
	}
}

// Sweeper periodically deletes terminal jobs, and job_logs/job_results
// rows, older than its configured ages. It has no effect on active
// delivery: Delete only ever matches statuses that are already
// terminal.
type Sweeper struct {
	store *Store
	log   *slog.Logger
	cfg   TTLConfig
	task  internal.TimerTask
}

// NewSweeper creates a Sweeper over store. A nil log falls back to
// slog.Default(). The sweeper is not started automatically.
func NewSweeper(store *Store, cfg TTLConfig, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, log: log, cfg: cfg}
}

// Delete removes jobs in one of w.cfg.Statuses whose Modified is older
// than w.cfg.Age, returning the number of rows removed.
func (w *Sweeper) Delete(ctx context.Context) (int64, error) {
	for _, status := range w.cfg.Statuses {
		if !status.Terminal(false) {
			return 0, errNonTerminalStatus
		}
	}
	cutoff := time.Now().Add(-w.cfg.Age)
	res, err := w.store.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("status IN (?)", bun.In(w.cfg.Statuses)).
		Where("modified <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

// DeleteLogs removes job_logs rows whose Created is older than
// w.cfg.LogAge, returning the number of rows removed.
func (w *Sweeper) DeleteLogs(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-w.cfg.LogAge)
	res, err := w.store.db.NewDelete().
		Model((*jobLogModel)(nil)).
		Where("created <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

// DeleteResults removes job_results rows whose Created is older than
// w.cfg.ResultAge, returning the number of rows removed.
func (w *Sweeper) DeleteResults(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-w.cfg.ResultAge)
	res, err := w.store.db.NewDelete().
		Model((*jobResultModel)(nil)).
		Where("created <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

func (w *Sweeper) sweep(ctx context.Context) {
	count, err := w.Delete(ctx)
	if err != nil {
		w.log.Error("ttl sweep failed", "error", err)
	} else {
		w.log.Info("ttl sweep evicted jobs", "count", count)
	}

	if w.cfg.LogAge > 0 {
		count, err := w.DeleteLogs(ctx)
		if err != nil {
			w.log.Error("ttl sweep of job_logs failed", "error", err)
		} else {
			w.log.Info("ttl sweep evicted job_logs", "count", count)
		}
	}

	if w.cfg.ResultAge > 0 {
		count, err := w.DeleteResults(ctx)
		if err != nil {
			w.log.Error("ttl sweep of job_results failed", "error", err)
		} else {
			w.log.Info("ttl sweep evicted job_results", "count", count)
		}
	}
}

// Start begins periodic sweeping on w.cfg.Interval until ctx is
// canceled or Stop is called.
func (w *Sweeper) Start(ctx context.Context) {
	w.task.Start(ctx, w.sweep, w.cfg.Interval)
}

// Stop requests the sweeper to exit and returns a channel that closes
// once it has.
func (w *Sweeper) Stop() internal.DoneChan {
	return w.task.Stop()
}
