package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
	"github.com/nemanja-m/logmr/internal/shared/logging"
	"github.com/nemanja-m/logmr/internal/shared/protocol"
)

// Reaper fails the attempts of workers that stopped making progress.
// The Coordinator implements it.
type Reaper interface {
	ExpireStalledTasks(ctx context.Context, timeout time.Duration) error
	ExpireWorker(ctx context.Context, workerID uuid.UUID) error
}

// WorkerHealthChecker periodically expires workers that stopped sending
// heartbeats and attempts that stopped reporting progress.
type WorkerHealthChecker struct {
	checkInterval time.Duration
	staleTimeout  time.Duration
	workerService core.WorkerService
	reaper        Reaper
	logger        logging.Logger
}

func NewWorkerHealthChecker(
	checkInterval time.Duration,
	staleTimeout time.Duration,
	workerService core.WorkerService,
	reaper Reaper,
	logger logging.Logger,
) *WorkerHealthChecker {
	return &WorkerHealthChecker{
		checkInterval: checkInterval,
		staleTimeout:  staleTimeout,
		workerService: workerService,
		reaper:        reaper,
		logger:        logger,
	}
}

// Start runs checks until ctx is cancelled or the job finishes.
func (h *WorkerHealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.check(ctx) {
				return
			}
		}
	}
}

func (h *WorkerHealthChecker) check(ctx context.Context) bool {
	if !h.removeStaleWorkers(ctx) {
		return false
	}
	err := h.reaper.ExpireStalledTasks(ctx, h.staleTimeout)
	if errors.Is(err, protocol.ErrJobFinished) {
		return false
	}
	if err != nil && ctx.Err() == nil {
		h.logger.Error("Failed to expire stalled tasks", "error", err)
	}
	return true
}

func (h *WorkerHealthChecker) removeStaleWorkers(ctx context.Context) bool {
	staleWorkers, err := h.workerService.GetStaleWorkers(h.staleTimeout)
	if err != nil {
		h.logger.Error("Failed to get stale workers", "error", err)
		return true
	}
	for _, worker := range staleWorkers {
		h.logger.Info("Removing stale worker", "worker_id", worker.ID)

		err := h.reaper.ExpireWorker(ctx, worker.ID)
		if errors.Is(err, protocol.ErrJobFinished) {
			return false
		}
		if err != nil {
			h.logger.Error("Failed to remove stale worker", "worker_id", worker.ID, "error", err)
		}
	}
	return true
}
