package queue

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

const TaskKind = "pipeline_task"

// TaskArgs is stored in river_job.args as JSON. The payload itself stays in
// the jobs table, the queue only carries the reference.
type TaskArgs struct {
	JobID   uuid.UUID `json:"job_id"`
	JobType string    `json:"job_type"`
}

// Kind returns the job kind for River registration.
func (TaskArgs) Kind() string {
	return TaskKind
}

// InsertOpts returns the default insert options for this job type. The real
// queue and attempt budget are set per insert from the job type binding.
func (TaskArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueCPU,
		MaxAttempts: 3,
	}
}
