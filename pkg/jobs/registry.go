package jobs

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nemanja-m/logmr/pkg/core"
)

type Job struct {
	Description string

	Map     core.MapFunc
	Reduce  core.ReduceFunc
	Combine core.ReduceFunc // optional
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Job)
)

func Register(name string, job Job) error {
	if job.Map == nil || job.Reduce == nil {
		return fmt.Errorf("job %s: map and reduce functions are required", name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}
	registry[name] = job
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(name string, job Job) {
	if err := Register(name, job); err != nil {
		panic(err)
	}
}

func Get(name string) (Job, error) {
	mu.RLock()
	defer mu.RUnlock()
	job, exists := registry[name]
	if !exists {
		return Job{}, fmt.Errorf("job not found: %s", name)
	}
	return job, nil
}

// List returns registered job names in lexical order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
