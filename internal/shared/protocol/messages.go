// Package protocol holds the messages exchanged between workers and the
// coordinator.
package protocol

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/source"
	"github.com/nemanja-m/logmr/pkg/core"
)

var (
	// ErrJobFinished tells a worker that no more tasks will be handed out.
	ErrJobFinished = errors.New("job finished")

	// ErrWorkerRemoved tells a worker that the coordinator no longer
	// accepts it, usually after one of its attempts timed out.
	ErrWorkerRemoved = errors.New("worker removed")
)

type TaskType string

const (
	TaskTypeMap    TaskType = "MAP"
	TaskTypeReduce TaskType = "REDUCE"
)

// TaskAssignment is one attempt of one task handed to a worker.
type TaskAssignment struct {
	JobID   uuid.UUID
	TaskID  uuid.UUID
	Type    TaskType
	Index   int
	Attempt int

	NumPartitions int

	// Split is the input of a map attempt.
	Split source.Split

	// Runs are the committed map output runs of the reduce group, in map
	// task order.
	Runs []string

	// ScratchDir is private to the attempt. Map attempts write their runs
	// below it.
	ScratchDir string

	// OutputPath is where a reduce attempt writes its part file.
	OutputPath string

	ctx context.Context
}

// Context is cancelled when the attempt is timed out or the job ends.
func (a *TaskAssignment) Context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of a bound to ctx.
func (a *TaskAssignment) WithContext(ctx context.Context) *TaskAssignment {
	if ctx == nil {
		panic("nil context")
	}
	a2 := *a
	a2.ctx = ctx
	return &a2
}

// TaskReport is sent by a worker when an attempt ends.
type TaskReport struct {
	WorkerID uuid.UUID
	TaskID   uuid.UUID
	Attempt  int

	// Err is nil for a successful attempt.
	Err error

	// Runs holds the run files of a map attempt, indexed by reduce group.
	Runs [][]string

	Counters core.Counters
}

// Heartbeat is sent periodically by every live worker. Progress grows while
// the current attempt makes progress.
type Heartbeat struct {
	WorkerID uuid.UUID
	TaskID   uuid.UUID
	Attempt  int
	Progress int64
}

// Idle reports whether the sender was not running an attempt.
func (h *Heartbeat) Idle() bool {
	return h.TaskID == uuid.Nil
}
