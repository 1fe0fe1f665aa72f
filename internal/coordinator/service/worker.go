package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
	"github.com/nemanja-m/logmr/internal/shared/logging"
)

type workerService struct {
	workerStore core.WorkerStore
	logger      logging.Logger
	now         func() time.Time
}

func NewWorkerService(workerStore core.WorkerStore, logger logging.Logger) core.WorkerService {
	return &workerService{
		workerStore: workerStore,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *workerService) RegisterWorker(worker *core.Worker) error {
	s.logger.Debug("Registering worker", "worker_id", worker.ID)
	now := s.now()
	worker.Status = core.WorkerStatusIdle
	worker.TaskID = uuid.Nil
	worker.RegisteredAt = now
	worker.LastHeartbeatAt = now
	return s.workerStore.AddWorker(worker)
}

func (s *workerService) GetWorker(id uuid.UUID) (*core.Worker, error) {
	return s.workerStore.GetWorkerByID(id)
}

func (s *workerService) GetWorkers() ([]*core.Worker, error) {
	return s.workerStore.GetAllWorkers()
}

func (s *workerService) AssignTask(workerID, taskID uuid.UUID) error {
	return s.setStatus(workerID, core.WorkerStatusBusy, taskID)
}

func (s *workerService) ReleaseWorker(workerID uuid.UUID) error {
	return s.setStatus(workerID, core.WorkerStatusIdle, uuid.Nil)
}

func (s *workerService) setStatus(workerID uuid.UUID, status core.WorkerStatus, taskID uuid.UUID) error {
	worker, err := s.workerStore.GetWorkerByID(workerID)
	if err != nil {
		return err
	}
	worker.Status = status
	worker.TaskID = taskID
	return s.workerStore.UpdateWorker(worker)
}

func (s *workerService) RecordHeartbeat(workerID uuid.UUID) error {
	return s.workerStore.UpdateWorkerHeartbeat(workerID, s.now())
}

func (s *workerService) RemoveWorker(workerID uuid.UUID) error {
	s.logger.Debug("Removing worker", "worker_id", workerID)
	return s.workerStore.RemoveWorker(workerID)
}

func (s *workerService) GetStaleWorkers(timeout time.Duration) ([]*core.Worker, error) {
	threshold := s.now().Add(-timeout)
	return s.workerStore.GetStaleWorkers(threshold)
}
