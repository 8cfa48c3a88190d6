package events

import "time"

type JobEvent struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Queue     string    `json:"queue"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type QueueEvent struct {
	Queue     string    `json:"queue"`
	Paused    bool      `json:"paused"`
	Timestamp time.Time `json:"timestamp"`
}

type DeadLetterEvent struct {
	JobID     string    `json:"job_id"`
	Task      string    `json:"task"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
