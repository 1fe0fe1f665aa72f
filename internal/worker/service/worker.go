package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/shared/logging"
	"github.com/nemanja-m/logmr/internal/shared/protocol"
	"github.com/nemanja-m/logmr/internal/worker/core"
)

type workerService struct {
	id                uuid.UUID
	client            core.CoordinatorClient
	executor          core.TaskExecutor
	heartbeatInterval time.Duration
	logger            logging.Logger

	mu       sync.Mutex
	current  *protocol.TaskAssignment
	progress *atomic.Int64
}

func NewWorkerService(
	id uuid.UUID,
	client core.CoordinatorClient,
	executor core.TaskExecutor,
	heartbeatInterval time.Duration,
	logger logging.Logger,
) core.WorkerService {
	return &workerService{
		id:                id,
		client:            client,
		executor:          executor,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

func (w *workerService) ID() uuid.UUID {
	return w.id
}

// Run pulls and executes tasks until the job finishes, the coordinator
// removes this worker or ctx is cancelled.
func (w *workerService) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { w.runHeartbeatLoop(ctx) })

	err := w.runTaskLoop(ctx)
	cancel()
	wg.Wait()
	return err
}

func (w *workerService) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.client.Heartbeat(ctx, w.heartbeat())
			switch {
			case err == nil:
			case errors.Is(err, protocol.ErrJobFinished), ctx.Err() != nil:
				return
			default:
				w.logger.Error("Failed to send heartbeat", "worker_id", w.id.String(), "error", err)
			}
		}
	}
}

func (w *workerService) heartbeat() *protocol.Heartbeat {
	w.mu.Lock()
	defer w.mu.Unlock()

	hb := &protocol.Heartbeat{WorkerID: w.id}
	if w.current != nil {
		hb.TaskID = w.current.TaskID
		hb.Attempt = w.current.Attempt
		hb.Progress = w.progress.Load()
	}
	return hb
}

func (w *workerService) runTaskLoop(ctx context.Context) error {
	const (
		minBackoff = 100 * time.Millisecond
		maxBackoff = 5 * time.Second
	)
	backoff := minBackoff

	for {
		task, err := w.client.RequestTask(ctx, w.id)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrJobFinished):
			w.logger.Debug("No more tasks", "worker_id", w.id.String())
			return nil
		case errors.Is(err, protocol.ErrWorkerRemoved):
			w.logger.Warn("Worker removed by coordinator", "worker_id", w.id.String())
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			w.logger.Error("Failed to request task", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		w.logger.Debug("Received task",
			"worker_id", w.id.String(),
			"task_id", task.TaskID.String(),
			"type", string(task.Type),
			"index", task.Index,
			"attempt", task.Attempt,
		)

		report := w.execute(task)
		report.WorkerID = w.id

		if report.Err != nil {
			w.logger.Warn("Task execution failed", "task_id", task.TaskID.String(), "attempt", task.Attempt, "error", report.Err)
		} else {
			w.logger.Debug("Task completed", "task_id", task.TaskID.String(), "attempt", task.Attempt)
		}

		if err := w.client.ReportTask(ctx, report); err != nil {
			if errors.Is(err, protocol.ErrJobFinished) || ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Failed to report task", "task_id", task.TaskID.String(), "error", err)
		}
	}
}

// execute runs the attempt on its own goroutine so that a callback ignoring
// cancellation cannot pin the worker once the attempt is cancelled. The
// abandoned goroutine keeps a progress counter nobody reads any more.
func (w *workerService) execute(task *protocol.TaskAssignment) *protocol.TaskReport {
	ctx := task.Context()
	progress := new(atomic.Int64)
	w.setCurrent(task, progress)
	defer w.setCurrent(nil, nil)

	result := make(chan *protocol.TaskReport, 1)
	go func() {
		result <- w.executor.Execute(ctx, task, progress)
	}()

	select {
	case report := <-result:
		return report
	case <-ctx.Done():
		return &protocol.TaskReport{
			TaskID:  task.TaskID,
			Attempt: task.Attempt,
			Err:     context.Cause(ctx),
		}
	}
}

func (w *workerService) setCurrent(task *protocol.TaskAssignment, progress *atomic.Int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = task
	w.progress = progress
}
