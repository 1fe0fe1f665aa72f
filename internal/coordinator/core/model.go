package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/source"
	"github.com/nemanja-m/logmr/pkg/core"
)

type JobStatus string

const (
	JobStatusSubmitted     JobStatus = "SUBMITTED"
	JobStatusMapRunning    JobStatus = "MAP_RUNNING"
	JobStatusMapComplete   JobStatus = "MAP_COMPLETE"
	JobStatusReduceRunning JobStatus = "REDUCE_RUNNING"
	JobStatusSucceeded     JobStatus = "SUCCEEDED"
	JobStatusFailed        JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

type Job struct {
	ID       uuid.UUID
	Name     string
	Status   JobStatus
	Progress JobProgress
	Counters core.Counters
	Input    InputConfig
	Output   OutputConfig
	Config   JobConfig

	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Errors []JobError
}

// Duration is the wall time between start and completion, or zero for a job
// that has not completed.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	c.Input.Paths = append([]string(nil), j.Input.Paths...)
	c.Errors = append([]JobError(nil), j.Errors...)
	return &c
}

type InputConfig struct {
	Paths  []string
	Splits int
}

type OutputConfig struct {
	Path string
}

type JobConfig struct {
	NumReducers int

	TaskTimeout time.Duration

	MaxMapAttempts    int
	MaxReduceAttempts int
}

type JobProgress struct {
	Map    TaskProgress
	Reduce TaskProgress
}

type TaskProgress struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
}

type JobError struct {
	TaskID    uuid.UUID
	Attempt   int
	Error     string
	Timestamp time.Time
}

type TaskType string

const (
	TaskTypeMap    TaskType = "MAP"
	TaskTypeReduce TaskType = "REDUCE"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

type Task struct {
	ID     uuid.UUID
	JobID  uuid.UUID
	Type   TaskType
	Index  int
	Status TaskStatus

	// Split is the input of a map task.
	Split source.Split

	// Runs holds the committed output of a map task, indexed by reduce
	// group.
	Runs [][]string

	WorkerID uuid.UUID
	Attempt  int
	Progress int64

	StartedAt      *time.Time
	EndedAt        *time.Time
	LastProgressAt *time.Time

	Error *string
}

func (t *Task) Clone() *Task {
	c := *t
	if t.Runs != nil {
		c.Runs = make([][]string, len(t.Runs))
		for i, runs := range t.Runs {
			c.Runs[i] = append([]string(nil), runs...)
		}
	}
	return &c
}

type JobFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

type WorkerStatus string

const (
	WorkerStatusIdle WorkerStatus = "IDLE"
	WorkerStatusBusy WorkerStatus = "BUSY"
)

type Worker struct {
	ID              uuid.UUID
	Status          WorkerStatus
	TaskID          uuid.UUID
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
}
