package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Job types map one to one onto pipeline stages.
const (
	JobTypeAssembly = "assembly"
	JobTypeCAM      = "cam"
	JobTypeSim      = "sim"
	JobTypeDesign   = "design"
	JobTypeCAD      = "cad"
	JobTypeReport   = "report"
)

// Queued refines pending: the row exists and the broker has accepted the
// dispatch. Every other status follows the submission lifecycle.
const (
	JobStatusPending   = "pending"
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Terminal error codes recorded next to status failed.
const (
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeTimeLimitExceeded = "TIME_LIMIT_EXCEEDED"
	ErrCodeTaskException     = "TASK_EXCEPTION"
)

// JobMetrics is filled in by the worker as an attempt progresses.
type JobMetrics struct {
	QueueWaitMs  int64  `json:"queue_wait_ms,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms,omitempty"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	TimedOut     bool   `json:"timed_out,omitempty"`
	WorkerHost   string `json:"worker_host,omitempty"`
	EngineOutput string `json:"engine_output,omitempty"`
}

// Artefact describes one output object stored in the artefact bucket.
type Artefact struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	Kind     string `json:"kind,omitempty"`
}

type Job struct {
	gorm.Model
	ID     uuid.UUID `gorm:"primaryKey;"`
	Type   string    `gorm:"uniqueIndex:jobs_type_idempotency_key;not null"`
	Status string    `gorm:"not null;index"`
	Queue  string    `gorm:"not null"`

	// IdempotencyKey is unique per job type. A nil key never collides.
	IdempotencyKey *string `gorm:"uniqueIndex:jobs_type_idempotency_key"`

	Payload     []byte     `gorm:"type:jsonb"`
	ParentJobID *uuid.UUID `gorm:"index"`

	// TaskHandle is the queue-side identifier of the dispatched task. It is
	// set once the job has been handed to the broker.
	TaskHandle *int64

	Attempts int

	// Error fields are set together when the job fails terminally.
	ErrorCode    *string
	ErrorMessage *string

	Metrics   *JSONField[JobMetrics] `gorm:"type:jsonb"`
	Artefacts *JSONField[[]Artefact] `gorm:"type:jsonb"`

	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

func NewJobFromId(id uuid.UUID) *Job {
	return &Job{ID: id}
}
