package diagnosis

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued diagnosis request handled by the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID   uint64 `gorm:"not null;index:uniq_diag_job_idempo,unique,priority:1"`
	Symptoms string `gorm:"type:text;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_diag_job_idempo,unique,priority:2"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	DiagnosisID *uint64 `gorm:"index"`
	Result      datatypes.JSON

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "diagnosis_jobs" }
