package domain

import "time"

// TaskStatus is the structured outcome of a maintenance task run.
type TaskStatus string

const (
	TaskSuccess TaskStatus = "success"
	TaskRetry   TaskStatus = "retry"   // transient failure, next cycle retries
	TaskFailure TaskStatus = "failure" // needs operator attention
	TaskSkipped TaskStatus = "skipped"
)

// TaskRun is one recorded execution of a maintenance task.
type TaskRun struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Status     TaskStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
