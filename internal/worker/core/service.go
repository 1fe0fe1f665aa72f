package core

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/shared/protocol"
)

// CoordinatorClient is the worker's view of the coordinator.
type CoordinatorClient interface {
	RequestTask(ctx context.Context, workerID uuid.UUID) (*protocol.TaskAssignment, error)
	ReportTask(ctx context.Context, report *protocol.TaskReport) error
	Heartbeat(ctx context.Context, hb *protocol.Heartbeat) error
}

type WorkerService interface {
	ID() uuid.UUID
	Run(ctx context.Context) error
}

// TaskExecutor runs one attempt. It increments progress as the attempt
// advances and must return promptly once ctx is cancelled.
type TaskExecutor interface {
	Execute(ctx context.Context, task *protocol.TaskAssignment, progress *atomic.Int64) *protocol.TaskReport
}
