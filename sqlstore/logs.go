package sqlstore

import (
	"context"

	"github.com/relayq/jobqueue"
)

// WriteJobLog appends a log entry for jobID.
func (s *Store) WriteJobLog(ctx context.Context, jobType, jobID string, level jobqueue.LogLevel, message []byte) (*jobqueue.JobLogEntry, error) {
	m := &jobLogModel{
		JobType: jobType,
		JobID:   jobID,
		Level:   uint8(level),
		Message: message,
	}
	if _, err := s.db.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return m.toEntry(), nil
}

// ReadJobLog returns up to limit entries for jobID, ordered by Created
// ascending, skipping the first skip matches. limit <= 0 means no
// limit.
func (s *Store) ReadJobLog(ctx context.Context, jobID string, skip, limit int) ([]*jobqueue.JobLogEntry, error) {
	var rows []*jobLogModel
	q := s.db.NewSelect().
		Model(&rows).
		Where("job_id = ?", jobID).
		Order("created ASC").
		Offset(skip)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	entries := make([]*jobqueue.JobLogEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	return entries, nil
}
