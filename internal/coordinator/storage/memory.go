package storage

import (
	"cmp"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
)

// InMemoryJobStore keeps jobs and tasks in maps guarded by a RWMutex. Values
// are copied on the way in and out.
type InMemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*core.Job
	tasks map[uuid.UUID][]*core.Task // jobID -> tasks
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs:  make(map[uuid.UUID]*core.Job),
		tasks: make(map[uuid.UUID][]*core.Task),
	}
}

func (s *InMemoryJobStore) SaveJob(job *core.Job, tasks ...*core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	for _, task := range tasks {
		s.tasks[job.ID] = append(s.tasks[job.ID], task.Clone())
	}
	return nil
}

// UpdateJob replaces the job and upserts the given tasks.
func (s *InMemoryJobStore) UpdateJob(job *core.Job, tasks ...*core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return core.ErrJobNotFound
	}
	s.jobs[job.ID] = job.Clone()
	for _, task := range tasks {
		s.upsertTask(task)
	}
	return nil
}

func (s *InMemoryJobStore) GetJobByID(id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrJobNotFound
	}
	return job.Clone(), nil
}

// GetJobs returns one page of jobs ordered by submission time, and the
// number of jobs matching the filter.
func (s *InMemoryJobStore) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*core.Job
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		matched = append(matched, job)
	}
	slices.SortFunc(matched, func(a, b *core.Job) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	jobs := make([]*core.Job, 0, end-start)
	for _, job := range matched[start:end] {
		jobs = append(jobs, job.Clone())
	}
	return jobs, total, nil
}

func (s *InMemoryJobStore) UpdateTask(task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[task.JobID]; !exists {
		return core.ErrJobNotFound
	}
	s.upsertTask(task)
	return nil
}

func (s *InMemoryJobStore) upsertTask(task *core.Task) {
	tasks := s.tasks[task.JobID]
	for i, t := range tasks {
		if t.ID == task.ID {
			tasks[i] = task.Clone()
			return
		}
	}
	s.tasks[task.JobID] = append(tasks, task.Clone())
}

func (s *InMemoryJobStore) GetTaskByID(id uuid.UUID) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tasks := range s.tasks {
		for _, task := range tasks {
			if task.ID == id {
				return task.Clone(), nil
			}
		}
	}
	return nil, core.ErrTaskNotFound
}

func (s *InMemoryJobStore) GetTasksByJobID(jobID uuid.UUID) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.jobs[jobID]; !exists {
		return nil, core.ErrJobNotFound
	}
	tasks := make([]*core.Task, 0, len(s.tasks[jobID]))
	for _, task := range s.tasks[jobID] {
		tasks = append(tasks, task.Clone())
	}
	return tasks, nil
}

// IsMapPhaseCompleted reports whether every map task of the job succeeded.
func (s *InMemoryJobStore) IsMapPhaseCompleted(jobID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.jobs[jobID]; !exists {
		return false, core.ErrJobNotFound
	}
	for _, task := range s.tasks[jobID] {
		if task.Type == core.TaskTypeMap && task.Status != core.TaskStatusSucceeded {
			return false, nil
		}
	}
	return true, nil
}
