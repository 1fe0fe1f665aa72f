package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrWorkerNotFound = errors.New("worker not found")
)

// JobStore is the task table. Implementations store and return copies, so
// callers may keep mutating their own values.
type JobStore interface {
	SaveJob(job *Job, tasks ...*Task) error
	UpdateJob(job *Job, tasks ...*Task) error
	GetJobByID(id uuid.UUID) (*Job, error)
	GetJobs(filter JobFilter) ([]*Job, int, error)

	UpdateTask(task *Task) error
	GetTaskByID(id uuid.UUID) (*Task, error)
	GetTasksByJobID(jobID uuid.UUID) ([]*Task, error)

	IsMapPhaseCompleted(jobID uuid.UUID) (bool, error)
}

type WorkerStore interface {
	AddWorker(worker *Worker) error
	GetWorkerByID(id uuid.UUID) (*Worker, error)
	GetAllWorkers() ([]*Worker, error)
	UpdateWorker(worker *Worker) error
	UpdateWorkerHeartbeat(id uuid.UUID, timestamp time.Time) error
	RemoveWorker(id uuid.UUID) error
	GetStaleWorkers(threshold time.Time) ([]*Worker, error)
}
