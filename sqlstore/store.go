package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue"
	"github.com/relayq/jobqueue/job"
)

// Store implements jobqueue.Storage over a bun.DB. It is dialect
// agnostic: sqlite.go and postgres.go each construct one with a
// different driver and dialect and register it under a scheme.
type Store struct {
	db *bun.DB
}

// NewStore wraps an already-connected, already-initialized *bun.DB. The
// caller is responsible for calling InitDB first.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying *bun.DB, releasing its connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindJobByID returns the job with the given id, or (nil, nil) if none
// exists.
func (s *Store) FindJobByID(ctx context.Context, id string) (*job.Job, error) {
	var m jobModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m.toJob(), nil
}

// UpdateJobByID applies patch unconditionally to the job with the given
// id.
func (s *Store) UpdateJobByID(ctx context.Context, id string, patch jobqueue.Patch) (*job.Job, error) {
	q := s.db.NewUpdate().Model((*jobModel)(nil)).Where("id = ?", id)
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

// CancelJob sets status=canceled on the job selected by id if
// non-empty, else by uniqueID.
func (s *Store) CancelJob(ctx context.Context, id, uniqueID string) (*job.Job, error) {
	q := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", job.Canceled).
		Set("modified = ?", time.Now())
	if id != "" {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("unique_id = ?", uniqueID)
	}
	var post jobModel
	err := q.Returning("*").Scan(ctx, &post)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return post.toJob(), nil
}
