package core

import (
	"time"

	"github.com/google/uuid"
)

// JobService is the read side of the coordinator used by the status API.
type JobService interface {
	GetJob(id uuid.UUID) (*Job, error)
	GetJobs(filter JobFilter) ([]*Job, int, error)
	GetTasks(jobID uuid.UUID) ([]*Task, error)
}

// WorkerService manages the worker registry.
type WorkerService interface {
	RegisterWorker(worker *Worker) error
	GetWorker(id uuid.UUID) (*Worker, error)
	GetWorkers() ([]*Worker, error)
	AssignTask(workerID, taskID uuid.UUID) error
	ReleaseWorker(workerID uuid.UUID) error
	RecordHeartbeat(workerID uuid.UUID) error
	RemoveWorker(workerID uuid.UUID) error
	GetStaleWorkers(timeout time.Duration) ([]*Worker, error)
}
