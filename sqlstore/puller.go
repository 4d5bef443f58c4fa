package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue"
	"github.com/relayq/jobqueue/job"
)

// PollForRunnableJob selects and claims the single highest-priority
// eligible job among types using one UPDATE ... WHERE id IN (subquery)
// ... RETURNING statement, so two concurrent pollers never observe and
// claim the same row: the database's own row-level locking during the
// subquery's evaluation against the UPDATE serializes them.
func (s *Store) PollForRunnableJob(ctx context.Context, types []string, newTimeout time.Time, workerID string) (*job.Job, error) {
	now := time.Now()
	subQuery := s.db.NewSelect().
		Model((*jobModel)(nil)).
		Column("id").
		Where("type IN (?)", bun.In(types)).
		Where("scheduled <= ?", now).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("status = ?", job.Waiting).
				WhereOr("status = ? AND timeout <= ?", job.Running, now).
				WhereOr("status = ?", job.Error).
				WhereOr("status = ? AND recurring != ''", job.Failed)
		}).
		OrderExpr("priority ASC, created ASC").
		Limit(1)

	var claimed jobModel
	err := s.db.NewUpdate().
		Model(&claimed).
		Set("status = ?", job.Running).
		Set("acquired = ?", now).
		Set("timeout = ?", newTimeout).
		Set("worker = ?", workerID).
		Set("modified = ?", now).
		Set("try = try + 1").
		Where("id IN (?)", subQuery).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if claimed.ID == "" {
		return nil, nil
	}
	return claimed.toJob(), nil
}

// UpdateRunningJob applies patch to the job identified by lease.ID,
// guarded by status=running and the caller's (acquired, timeout) pair
// still matching the persisted row. A guard mismatch affects zero rows
// and is reported as (nil, nil), leaving ErrLeaseLost to the caller.
func (s *Store) UpdateRunningJob(ctx context.Context, lease job.LeaseRef, patch jobqueue.Patch) (*job.Job, error) {
	q := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Where("id = ?", lease.ID).
		Where("status = ?", job.Running)
	if lease.Acquired != nil {
		q = q.Where("acquired = ?", *lease.Acquired)
	} else {
		q = q.Where("acquired IS NULL")
	}
	if lease.Timeout != nil {
		q = q.Where("timeout = ?", *lease.Timeout)
	} else {
		q = q.Where("timeout IS NULL")
	}

	q, err := applySet(q, patch)
	if err != nil {
		return nil, err
	}

	var post jobModel
	err = q.Returning("*").Scan(ctx, &post)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return post.toJob(), nil
}
