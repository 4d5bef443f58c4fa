package sqlstore

import (
	"context"
	"database/sql"

	"github.com/relayq/jobqueue"
)

// WriteJobResult stores the at-most-one result for jobID, replacing
// any prior result for the same id.
func (s *Store) WriteJobResult(ctx context.Context, jobType, jobID string, message []byte) error {
	m := &jobResultModel{JobID: jobID, JobType: jobType, Message: message}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (job_id) DO UPDATE").
		Set("job_type = EXCLUDED.job_type").
		Set("message = EXCLUDED.message").
		Set("created = EXCLUDED.created").
		Exec(ctx)
	return err
}

// ReadJobResult returns the result for jobID, or (nil, nil) if none has
// been written.
func (s *Store) ReadJobResult(ctx context.Context, jobID string) (*jobqueue.JobResult, error) {
	var m jobResultModel
	err := s.db.NewSelect().Model(&m).Where("job_id = ?", jobID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m.toResult(), nil
}
