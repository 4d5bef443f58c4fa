package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/relayq/jobqueue"
	"github.com/relayq/jobqueue/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`

	ID       string `bun:"id,pk"`
	Type     string `bun:"type,notnull"`
	UniqueID string `bun:"unique_id"`
	Message  []byte `bun:"message,type:blob"`
	Metadata map[string]any `bun:"metadata,type:jsonb"`

	Client string `bun:"client"`
	Worker string `bun:"worker"`

	Recurring string `bun:"recurring"`
	Timezone  string `bun:"timezone"`

	Status   job.Status `bun:"status,notnull,default:0"`
	Retries  int        `bun:"retries,notnull,default:0"`
	Try      int        `bun:"try,notnull,default:0"`
	Priority int        `bun:"priority,notnull,default:0"`

	Scheduled time.Time  `bun:"scheduled,notnull"`
	Acquired  *time.Time `bun:"acquired,nullzero,default:null"`
	Timeout   *time.Time `bun:"timeout,nullzero,default:null"`
	Expire    *time.Time `bun:"expire,nullzero,default:null"`
	Completed *time.Time `bun:"completed,nullzero,default:null"`

	Created  time.Time `bun:"created,nullzero,notnull,default:current_timestamp"`
	Modified time.Time `bun:"modified,nullzero,notnull,default:current_timestamp"`

	Stopwatches map[string]int64 `bun:"stopwatches,type:jsonb"`
}

func (jm *jobModel) toJob() *job.Job {
	j := &job.Job{
		ID:        jm.ID,
		Type:      jm.Type,
		UniqueID:  jm.UniqueID,
		Message:   jm.Message,
		Metadata:  jm.Metadata,
		Client:    jm.Client,
		Worker:    jm.Worker,
		Recurring: jm.Recurring,
		Timezone:  jm.Timezone,
		Status:    jm.Status,
		Retries:   jm.Retries,
		Try:       jm.Try,
		Priority:  jm.Priority,
		Scheduled: jm.Scheduled,
		Acquired:  jm.Acquired,
		Timeout:   jm.Timeout,
		Expire:    jm.Expire,
		Completed: jm.Completed,
		Created:   jm.Created,
		Modified:  jm.Modified,
	}
	if jm.Stopwatches != nil {
		j.Stopwatches = make(map[string]time.Duration, len(jm.Stopwatches))
		for k, v := range jm.Stopwatches {
			j.Stopwatches[k] = time.Duration(v)
		}
	}
	return j
}

func fromJob(j *job.Job) *jobModel {
	jm := &jobModel{
		ID:        j.ID,
		Type:      j.Type,
		UniqueID:  j.UniqueID,
		Message:   j.Message,
		Metadata:  j.Metadata,
		Client:    j.Client,
		Worker:    j.Worker,
		Recurring: j.Recurring,
		Timezone:  j.Timezone,
		Status:    j.Status,
		Retries:   j.Retries,
		Try:       j.Try,
		Priority:  j.Priority,
		Scheduled: j.Scheduled,
		Acquired:  j.Acquired,
		Timeout:   j.Timeout,
		Expire:    j.Expire,
		Completed: j.Completed,
		Created:   j.Created,
		Modified:  j.Modified,
	}
	if j.Stopwatches != nil {
		jm.Stopwatches = make(map[string]int64, len(j.Stopwatches))
		for k, v := range j.Stopwatches {
			jm.Stopwatches[k] = int64(v)
		}
	}
	return jm
}

type jobLogModel struct {
	bun.BaseModel `bun:"table:job_logs"`

	ID      int64  `bun:"id,pk,autoincrement"`
	JobType string `bun:"job_type,notnull"`
	JobID   string `bun:"job_id,notnull"`
	Level   uint8  `bun:"level,notnull"`
	Message []byte `bun:"message,type:blob"`
	Created time.Time `bun:"created,nullzero,notnull,default:current_timestamp"`
}

func (lm *jobLogModel) toEntry() *jobqueue.JobLogEntry {
	return &jobqueue.JobLogEntry{
		JobType: lm.JobType,
		JobID:   lm.JobID,
		Level:   jobqueue.LogLevel(lm.Level),
		Message: lm.Message,
		Created: lm.Created,
	}
}

type jobResultModel struct {
	bun.BaseModel `bun:"table:job_results"`

	JobID   string    `bun:"job_id,pk"`
	JobType string    `bun:"job_type,notnull"`
	Message []byte    `bun:"message,type:blob"`
	Created time.Time `bun:"created,nullzero,notnull,default:current_timestamp"`
}

func (rm *jobResultModel) toResult() *jobqueue.JobResult {
	return &jobqueue.JobResult{
		JobID:   rm.JobID,
		JobType: rm.JobType,
		Message: rm.Message,
		Created: rm.Created,
	}
}
