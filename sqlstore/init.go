package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue/job"
)

func createJobsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createJobLogsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobLogModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createJobResultsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobResultModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// createPollIndex backs PollForRunnableJob's eligibility scan: type,
// status and scheduled are the columns its WHERE clause filters on.
func createPollIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_type_status_scheduled").
		Column("type", "status", "scheduled").
		IfNotExists().
		Exec(ctx)
	return err
}

// createTimeoutIndex backs PollForRunnableJob's reclaim-on-timeout
// branch (status=running AND timeout <= now).
func createTimeoutIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_status_timeout").
		Column("status", "timeout").
		IfNotExists().
		Exec(ctx)
	return err
}

// createUniqueIndex backs SaveJob's duplicate check for non-terminal
// jobs sharing a unique_id. It is a partial index so the constraint it
// enforces matches job.Status.Terminal's notion of "non-terminal"
// exactly: a completed, expired or canceled job, or a non-recurring
// failed job, never blocks a new push under the same unique_id, while
// two concurrent pushes racing an exists-check can no longer both
// insert, since the second insert now fails the constraint itself.
func createUniqueIndex(ctx context.Context, db bun.IDB) error {
	where := fmt.Sprintf(
		"unique_id != '' AND status NOT IN (%d, %d, %d) AND NOT (status = %d AND recurring = '')",
		int(job.Completed), int(job.Expired), int(job.Canceled), int(job.Failed),
	)
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_unique_id").
		Column("unique_id").
		Unique().
		Where(where).
		IfNotExists().
		Exec(ctx)
	return err
}

// createModifiedIndex backs a storage backend's TTL eviction sweep over
// terminal jobs.
func createModifiedIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_status_modified").
		Column("status", "modified").
		IfNotExists().
		Exec(ctx)
	return err
}

func createJobLogIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobLogModel)(nil)).
		Index("idx_job_logs_job_id_created").
		Column("job_id", "created").
		IfNotExists().
		Exec(ctx)
	return err
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	steps := []func(context.Context, bun.IDB) error{
		createJobsTable,
		createJobLogsTable,
		createJobResultsTable,
		createPollIndex,
		createTimeoutIndex,
		createUniqueIndex,
		createModifiedIndex,
		createJobLogIndex,
	}
	for _, step := range steps {
		if err := step(ctx, tx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitDB creates the jobs, job_logs and job_results tables and the
// indexes PollForRunnableJob, SaveJob's duplicate check and a TTL
// sweep depend on, inside a single transaction. It is idempotent and
// does not drop or alter existing objects.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics on failure, for use in
// application bootstrap code where a broken schema is unrecoverable.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
