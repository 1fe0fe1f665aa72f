package local

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Runner is one worker's task loop.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFactory func(id uuid.UUID) Runner

// Pool runs worker loops and can grow while running, so a worker expelled
// by the coordinator can be replaced. Once every runner has returned the
// pool is stopped and Spawn becomes a no-op.
type Pool struct {
	newRunner RunnerFactory

	mu      sync.Mutex
	ctx     context.Context
	running int
	spawned int
	stopped bool
	errs    []error
	idle    chan struct{}
}

func NewPool(newRunner RunnerFactory) *Pool {
	return &Pool{
		newRunner: newRunner,
		idle:      make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context, numWorkers int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	for range numWorkers {
		p.spawnLocked()
	}
	if p.running == 0 {
		p.stopLocked()
	}
}

// Spawn adds one runner and reports whether it was started.
func (p *Pool) Spawn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil || p.stopped {
		return false
	}
	p.spawnLocked()
	return true
}

func (p *Pool) spawnLocked() {
	runner := p.newRunner(uuid.New())
	p.running++
	p.spawned++

	go func() {
		err := runner.Run(p.ctx)

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.errs = append(p.errs, err)
		}
		p.running--
		if p.running == 0 {
			p.stopLocked()
		}
	}()
}

func (p *Pool) stopLocked() {
	if !p.stopped {
		p.stopped = true
		close(p.idle)
	}
}

// Spawned is the number of runners started so far.
func (p *Pool) Spawned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned
}

// Wait blocks until every runner has returned and joins their errors.
func (p *Pool) Wait() error {
	<-p.idle

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}
