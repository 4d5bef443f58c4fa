package sqlstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue"
	"github.com/relayq/jobqueue/job"
)

// applySet translates a jobqueue.Patch into Set clauses on an UPDATE
// query. jobqueue.Null() values become "column = NULL"; every other
// column is set to a bound parameter, with the handful of typed
// conversions the jobs table's columns need (time.Time <-> *time.Time,
// map[string]time.Duration <-> jsonb).
func applySet(q *bun.UpdateQuery, patch jobqueue.Patch) (*bun.UpdateQuery, error) {
	for key, value := range patch {
		col, ok := patchColumns[key]
		if !ok {
			return nil, fmt.Errorf("sqlstore: unknown patch field %q", key)
		}
		if jobqueue.IsNull(value) {
			q = q.Set(col + " = NULL")
			continue
		}
		switch key {
		case jobqueue.FieldStatus:
			q = q.Set(col+" = ?", value.(job.Status))
		case jobqueue.FieldWorker:
			q = q.Set(col+" = ?", value.(string))
		case jobqueue.FieldScheduled, jobqueue.FieldAcquired, jobqueue.FieldTimeout, jobqueue.FieldCompleted, jobqueue.FieldModified:
			q = q.Set(col+" = ?", value.(time.Time))
		case jobqueue.FieldTry:
			q = q.Set(col+" = ?", value.(int))
		case jobqueue.FieldStopwatches:
			sw := value.(map[string]time.Duration)
			raw := make(map[string]int64, len(sw))
			for k, v := range sw {
				raw[k] = int64(v)
			}
			q = q.Set(col+" = ?", raw)
		}
	}
	return q, nil
}

var patchColumns = map[string]string{
	jobqueue.FieldStatus:      "status",
	jobqueue.FieldWorker:      "worker",
	jobqueue.FieldScheduled:   "scheduled",
	jobqueue.FieldAcquired:    "acquired",
	jobqueue.FieldTimeout:     "timeout",
	jobqueue.FieldTry:         "try",
	jobqueue.FieldCompleted:   "completed",
	jobqueue.FieldModified:    "modified",
	jobqueue.FieldStopwatches: "stopwatches",
}
