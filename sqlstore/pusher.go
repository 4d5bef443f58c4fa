package sqlstore

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue/job"
)

// SaveJob inserts j, or replaces the existing row carrying the same id.
// If j.UniqueID is non-empty, it first checks for a non-terminal job
// already holding that unique id and reports a duplicate instead of
// inserting, mirroring Storage.SaveJob's contract. The existence check
// and the insert are not wrapped in a single transaction: a race
// between two concurrent pushes of the same unique id is caught by the
// insert instead, by unwrapping a unique-constraint violation on
// idx_jobs_unique_id, the partial unique index created by
// createUniqueIndex that enforces this same non-terminal condition at
// the database level.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) (bool, error) {
	if j.UniqueID != "" {
		exists, err := s.db.NewSelect().
			Model((*jobModel)(nil)).
			Where("unique_id = ?", j.UniqueID).
			WhereGroup("AND", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					Where("status IN (?)", bun.In(nonTerminalStatuses())).
					WhereOr("status = ? AND recurring != ''", job.Failed)
			}).
			Exists(ctx)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	model := fromJob(j)
	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("unique_id = EXCLUDED.unique_id").
		Set("message = EXCLUDED.message").
		Set("metadata = EXCLUDED.metadata").
		Set("client = EXCLUDED.client").
		Set("worker = EXCLUDED.worker").
		Set("recurring = EXCLUDED.recurring").
		Set("timezone = EXCLUDED.timezone").
		Set("status = EXCLUDED.status").
		Set("retries = EXCLUDED.retries").
		Set("try = EXCLUDED.try").
		Set("priority = EXCLUDED.priority").
		Set("scheduled = EXCLUDED.scheduled").
		Set("acquired = EXCLUDED.acquired").
		Set("timeout = EXCLUDED.timeout").
		Set("expire = EXCLUDED.expire").
		Set("completed = EXCLUDED.completed").
		Set("modified = EXCLUDED.modified").
		Set("stopwatches = EXCLUDED.stopwatches").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// nonTerminalStatuses lists the statuses that, on their own (independent
// of recurring), still block a push under the same unique_id.
func nonTerminalStatuses() []job.Status {
	return []job.Status{job.Unknown, job.Waiting, job.Running, job.Error, job.Ignore}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// modernc.org/sqlite reports constraint violations through its own
	// error type; matching its message is the pragmatic option bun's
	// driver-agnostic layer leaves us, short of a type import per
	// dialect.
	return err != nil && containsConstraintText(err.Error())
}

func containsConstraintText(msg string) bool {
	return strings.Contains(msg, "UNIQUE constraint failed")
}
