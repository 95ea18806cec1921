package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed
}

// jobTransitions is the legal-predecessor table for job status writes.
// running never returns to queued on its own; failed->queued is the explicit
// re-enqueue path after a worker failure or a reaped stale job.
var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning},
	JobRunning: {JobSuccess, JobFailed},
	JobFailed:  {JobQueued},
}

func CanTransitionJob(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Actor kinds recorded in requested_by_kind.
const (
	ActorUser      = "user"
	ActorScheduler = "scheduler"
)

// RankFetchJob is one rank-check task handed to an out-of-process worker,
// unique per (storefront, keyword, target date). The job carries lifecycle
// and audit metadata only; the measured rank lands in RankLog through a
// separate call.
type RankFetchJob struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	StorefrontID uint64         `gorm:"not null;uniqueIndex:idx_rank_job_key"`
	KeywordID    uint64         `gorm:"not null;uniqueIndex:idx_rank_job_key"`
	TargetDate   datatypes.Date `gorm:"not null;uniqueIndex:idx_rank_job_key"`

	Status          JobStatus `gorm:"type:varchar(20);not null;index"`
	RequestedByKind string    `gorm:"type:varchar(20);not null"`
	RequestedByID   *uint64

	StartedAt    *time.Time `gorm:"type:timestamptz"`
	FinishedAt   *time.Time `gorm:"type:timestamptz"`
	ErrorMessage *string    `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (RankFetchJob) TableName() string {
	return "rank_fetch_jobs"
}
