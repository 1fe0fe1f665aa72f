package local

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

func TestPool_RunsWorkers(t *testing.T) {
	var called atomic.Int32
	ids := make(map[uuid.UUID]bool)
	p := NewPool(func(id uuid.UUID) Runner {
		ids[id] = true
		return runnerFunc(func(context.Context) error {
			called.Add(1)
			return nil
		})
	})

	p.Start(context.Background(), 3)
	require.NoError(t, p.Wait())
	require.Equal(t, int32(3), called.Load())
	require.Equal(t, 3, p.Spawned())
	require.Len(t, ids, 3)
}

func TestPool_WaitForLongRunner(t *testing.T) {
	var done atomic.Bool
	p := NewPool(func(uuid.UUID) Runner {
		return runnerFunc(func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			done.Store(true)
			return nil
		})
	})

	p.Start(context.Background(), 1)
	require.NoError(t, p.Wait())
	require.True(t, done.Load())
}

func TestPool_SpawnWhileRunning(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Int32
	p := NewPool(func(uuid.UUID) Runner {
		return runnerFunc(func(context.Context) error {
			<-release
			finished.Add(1)
			return nil
		})
	})

	p.Start(context.Background(), 1)
	require.True(t, p.Spawn())
	close(release)

	require.NoError(t, p.Wait())
	require.Equal(t, int32(2), finished.Load())
	require.False(t, p.Spawn(), "spawn after the pool drained")
}

func TestPool_SpawnBeforeStart(t *testing.T) {
	p := NewPool(func(uuid.UUID) Runner {
		return runnerFunc(func(context.Context) error { return nil })
	})
	require.False(t, p.Spawn())
}

func TestPool_StartWithoutWorkers(t *testing.T) {
	p := NewPool(func(uuid.UUID) Runner {
		return runnerFunc(func(context.Context) error { return nil })
	})
	p.Start(context.Background(), 0)
	require.NoError(t, p.Wait())
}

func TestPool_WaitJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	errs := make(chan error, 2)
	errs <- errA
	errs <- errB

	p := NewPool(func(uuid.UUID) Runner {
		return runnerFunc(func(context.Context) error { return <-errs })
	})
	p.Start(context.Background(), 2)

	err := p.Wait()
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestPool_RunnersSeeContext(t *testing.T) {
	p := NewPool(func(uuid.UUID) Runner {
		return runnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, 2)
	cancel()
	require.NoError(t, p.Wait())
}
