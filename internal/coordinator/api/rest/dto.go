package rest

import (
	"time"

	pkgcore "github.com/nemanja-m/logmr/pkg/core"
)

type GetJobResponse struct {
	JobID      string           `json:"job_id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Input      InputInfo        `json:"input"`
	Config     JobConfigInfo    `json:"config"`
	Progress   ProgressInfo     `json:"progress"`
	Counters   pkgcore.Counters `json:"counters"`
	Timestamps TimestampsInfo   `json:"timestamps"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Output     OutputInfo       `json:"output"`
	Errors     []ErrorInfo      `json:"errors"`
}

type InputInfo struct {
	Paths  []string `json:"paths"`
	Splits int      `json:"splits"`
}

type JobConfigInfo struct {
	NumReducers        int   `json:"num_reducers"`
	MaxMapAttempts     int   `json:"max_map_attempts"`
	MaxReduceAttempts  int   `json:"max_reduce_attempts"`
	TaskTimeoutSeconds int64 `json:"task_timeout_seconds"`
}

type ProgressInfo struct {
	Map    TaskProgress `json:"map"`
	Reduce TaskProgress `json:"reduce"`
}

type TaskProgress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type TimestampsInfo struct {
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started"`
	Completed *time.Time `json:"completed"`
}

type OutputInfo struct {
	Location  string `json:"location"`
	Available bool   `json:"available"`
}

type ErrorInfo struct {
	TaskID    string    `json:"task_id"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
	NextOffset *int         `json:"next_offset,omitempty"`
}

type JobSummary struct {
	JobID       string     `json:"job_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type GetTasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type TaskInfo struct {
	TaskID    string     `json:"task_id"`
	Type      string     `json:"type"` // "MAP" or "REDUCE"
	Index     int        `json:"index"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	WorkerID  string     `json:"worker_id,omitempty"`
	Input     string     `json:"input,omitempty"`
	Progress  int64      `json:"progress"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     *string    `json:"error,omitempty"`
}

type ListWorkersResponse struct {
	Workers []WorkerInfo `json:"workers"`
}

type WorkerInfo struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"`
	TaskID        string    `json:"task_id,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
