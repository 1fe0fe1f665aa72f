package storage

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
)

type InMemoryWorkerStore struct {
	mu      sync.RWMutex
	workers map[uuid.UUID]*core.Worker
}

func NewInMemoryWorkerStore() *InMemoryWorkerStore {
	return &InMemoryWorkerStore{workers: make(map[uuid.UUID]*core.Worker)}
}

func (s *InMemoryWorkerStore) AddWorker(worker *core.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := *worker
	s.workers[worker.ID] = &w
	return nil
}

func (s *InMemoryWorkerStore) GetWorkerByID(id uuid.UUID) (*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, exists := s.workers[id]
	if !exists {
		return nil, core.ErrWorkerNotFound
	}
	w := *worker
	return &w, nil
}

// GetAllWorkers returns workers ordered by registration time.
func (s *InMemoryWorkerStore) GetAllWorkers() ([]*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workers := make([]*core.Worker, 0, len(s.workers))
	for _, worker := range s.workers {
		w := *worker
		workers = append(workers, &w)
	}
	sortWorkers(workers)
	return workers, nil
}

func (s *InMemoryWorkerStore) UpdateWorker(worker *core.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[worker.ID]; !exists {
		return core.ErrWorkerNotFound
	}
	w := *worker
	s.workers[worker.ID] = &w
	return nil
}

func (s *InMemoryWorkerStore) UpdateWorkerHeartbeat(id uuid.UUID, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	worker, exists := s.workers[id]
	if !exists {
		return core.ErrWorkerNotFound
	}
	worker.LastHeartbeatAt = timestamp
	return nil
}

func (s *InMemoryWorkerStore) RemoveWorker(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[id]; !exists {
		return core.ErrWorkerNotFound
	}
	delete(s.workers, id)
	return nil
}

// GetStaleWorkers returns workers whose last heartbeat is before threshold.
func (s *InMemoryWorkerStore) GetStaleWorkers(threshold time.Time) ([]*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*core.Worker
	for _, worker := range s.workers {
		if worker.LastHeartbeatAt.Before(threshold) {
			w := *worker
			stale = append(stale, &w)
		}
	}
	sortWorkers(stale)
	return stale, nil
}

func sortWorkers(workers []*core.Worker) {
	slices.SortFunc(workers, func(a, b *core.Worker) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}
