package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
	"github.com/nemanja-m/logmr/internal/coordinator/storage"
	"github.com/nemanja-m/logmr/internal/shared/protocol"
	"github.com/nemanja-m/logmr/internal/sink"
	"github.com/nemanja-m/logmr/internal/source"
	pkgcore "github.com/nemanja-m/logmr/pkg/core"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

type executeFunc func(a *protocol.TaskAssignment) *protocol.TaskReport

type testJob struct {
	coordinator *Coordinator
	store       *storage.InMemoryJobStore
	output      string
}

func newTestJob(t *testing.T, splits, reducers, maxAttempts int) *testJob {
	t.Helper()
	dir := t.TempDir()
	output := filepath.Join(dir, "out")

	cfg := Config{
		JobName:           "test",
		Input:             []string{"input"},
		Output:            output,
		ShuffleDir:        filepath.Join(dir, "shuffle"),
		NumReducers:       reducers,
		MaxMapAttempts:    maxAttempts,
		MaxReduceAttempts: maxAttempts,
		TaskTimeout:       time.Minute,
	}
	for i := range splits {
		cfg.Splits = append(cfg.Splits, source.Split{Path: "input", Start: int64(i * 10), Length: 10})
	}

	store := storage.NewInMemoryJobStore()
	workers := NewWorkerService(storage.NewInMemoryWorkerStore(), &mockLogger{})
	c, err := NewCoordinator(cfg, store, workers, sink.NewCommitter(output), &mockLogger{})
	require.NoError(t, err)
	return &testJob{coordinator: c, store: store, output: output}
}

func runWorker(ctx context.Context, c *Coordinator, workerID uuid.UUID, execute executeFunc) {
	for {
		a, err := c.RequestTask(ctx, workerID)
		if err != nil {
			return
		}
		report := execute(a)
		report.WorkerID = workerID
		report.TaskID = a.TaskID
		report.Attempt = a.Attempt
		if err := c.ReportTask(ctx, report); err != nil {
			return
		}
	}
}

func startWorkers(ctx context.Context, wg *sync.WaitGroup, c *Coordinator, n int, execute executeFunc) {
	for range n {
		id := uuid.New()
		wg.Go(func() { runWorker(ctx, c, id, execute) })
	}
}

// succeed emits one run per reduce group for map attempts and writes a part
// file for reduce attempts.
func succeed(a *protocol.TaskAssignment) *protocol.TaskReport {
	if a.Type == protocol.TaskTypeMap {
		runs := make([][]string, a.NumPartitions)
		for g := range runs {
			runs[g] = []string{fmt.Sprintf("m%d-g%d", a.Index, g)}
		}
		return &protocol.TaskReport{Runs: runs, Counters: pkgcore.Counters{RecordsRead: 10}}
	}

	w, err := sink.CreatePart(a.OutputPath)
	if err != nil {
		return &protocol.TaskReport{Err: err}
	}
	for _, run := range a.Runs {
		if err := w.Write(run, []byte("1")); err != nil {
			return &protocol.TaskReport{Err: err}
		}
	}
	if err := w.Close(); err != nil {
		return &protocol.TaskReport{Err: err}
	}
	return &protocol.TaskReport{Counters: pkgcore.Counters{OutputRecords: w.Records()}}
}

func (j *testJob) job(t *testing.T) *core.Job {
	t.Helper()
	job, err := j.coordinator.GetJob(j.coordinator.JobID())
	require.NoError(t, err)
	return job
}

func (j *testJob) tasks(t *testing.T, taskType core.TaskType) []*core.Task {
	t.Helper()
	all, err := j.coordinator.GetTasks(j.coordinator.JobID())
	require.NoError(t, err)
	var tasks []*core.Task
	for _, task := range all {
		if task.Type == taskType {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

func TestNewCoordinator_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"no splits", Config{NumReducers: 1, MaxMapAttempts: 1, MaxReduceAttempts: 1, ShuffleDir: "s"}, "input"},
		{"no reducers", Config{Splits: []source.Split{{}}, MaxMapAttempts: 1, MaxReduceAttempts: 1, ShuffleDir: "s"}, "reducers"},
		{"no attempts", Config{Splits: []source.Split{{}}, NumReducers: 1, MaxReduceAttempts: 1, ShuffleDir: "s"}, "retry"},
		{"no shuffle dir", Config{Splits: []source.Split{{}}, NumReducers: 1, MaxMapAttempts: 1, MaxReduceAttempts: 1}, "shuffle.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewInMemoryJobStore()
			workers := NewWorkerService(storage.NewInMemoryWorkerStore(), &mockLogger{})
			_, err := NewCoordinator(tt.cfg, store, workers, sink.NewCommitter(t.TempDir()), &mockLogger{})

			var cfgErr *pkgcore.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, tt.field, cfgErr.Field)

			_, total, _ := store.GetJobs(core.JobFilter{})
			require.Zero(t, total, "no job may be created for an invalid configuration")
		})
	}
}

func TestCoordinator_SubmittedBeforeRun(t *testing.T) {
	j := newTestJob(t, 2, 1, 1)
	job := j.job(t)
	require.Equal(t, core.JobStatusSubmitted, job.Status)
	require.Equal(t, 2, job.Input.Splits)
}

func TestCoordinator_RunsJobToCompletion(t *testing.T) {
	j := newTestJob(t, 3, 2, 1)
	ctx := context.Background()

	var mapsDone atomic.Int32
	var mu sync.Mutex
	reduceInputs := map[int][]string{}

	execute := func(a *protocol.TaskAssignment) *protocol.TaskReport {
		if a.Type == protocol.TaskTypeMap {
			defer mapsDone.Add(1)
			return succeed(a)
		}
		if mapsDone.Load() != 3 {
			return &protocol.TaskReport{Err: errors.New("reduce started before the map phase completed")}
		}
		mu.Lock()
		reduceInputs[a.Index] = a.Runs
		mu.Unlock()
		return succeed(a)
	}

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, j.coordinator, 2, execute)
	require.NoError(t, j.coordinator.Run(ctx))
	wg.Wait()

	job := j.job(t)
	require.Equal(t, core.JobStatusSucceeded, job.Status)
	require.Empty(t, job.Errors)
	require.Equal(t, core.TaskProgress{Total: 3, Completed: 3}, job.Progress.Map)
	require.Equal(t, core.TaskProgress{Total: 2, Completed: 2}, job.Progress.Reduce)
	require.EqualValues(t, 30, job.Counters.RecordsRead)
	require.EqualValues(t, 6, job.Counters.OutputRecords)
	require.NotNil(t, job.CompletedAt)

	require.Equal(t, map[int][]string{
		0: {"m0-g0", "m1-g0", "m2-g0"},
		1: {"m0-g1", "m1-g1", "m2-g1"},
	}, reduceInputs)

	entries, err := os.ReadDir(j.output)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{sink.SuccessMarker, "part-r-00000", "part-r-00001"}, names)
}

func TestCoordinator_RetriesFailedAttempt(t *testing.T) {
	j := newTestJob(t, 2, 1, 3)
	ctx := context.Background()

	execute := func(a *protocol.TaskAssignment) *protocol.TaskReport {
		if a.Type == protocol.TaskTypeMap && a.Index == 1 && a.Attempt == 1 {
			return &protocol.TaskReport{Err: errors.New("transient failure")}
		}
		return succeed(a)
	}

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, j.coordinator, 1, execute)
	require.NoError(t, j.coordinator.Run(ctx))
	wg.Wait()

	job := j.job(t)
	require.Equal(t, core.JobStatusSucceeded, job.Status)
	require.Len(t, job.Errors, 1)
	require.Equal(t, "transient failure", job.Errors[0].Error)

	maps := j.tasks(t, core.TaskTypeMap)
	require.Equal(t, 1, maps[0].Attempt)
	require.Equal(t, 2, maps[1].Attempt)
	// Only the successful attempt contributes counters.
	require.EqualValues(t, 20, job.Counters.RecordsRead)
}

func TestCoordinator_FailsAfterAttemptsExhausted(t *testing.T) {
	j := newTestJob(t, 2, 1, 2)
	ctx := context.Background()

	var reduces atomic.Int32
	execute := func(a *protocol.TaskAssignment) *protocol.TaskReport {
		if a.Type == protocol.TaskTypeReduce {
			reduces.Add(1)
		}
		if a.Type == protocol.TaskTypeMap && a.Index == 0 {
			return &protocol.TaskReport{Err: fmt.Errorf("line 3: %w", pkgcore.ErrMalformedRecord)}
		}
		return succeed(a)
	}

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, j.coordinator, 2, execute)
	err := j.coordinator.Run(ctx)
	wg.Wait()

	var jobErr *pkgcore.JobError
	require.ErrorAs(t, err, &jobErr)
	require.ErrorIs(t, err, pkgcore.ErrMalformedRecord)

	var taskErr *pkgcore.TaskError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "MAP", taskErr.Type)
	require.Equal(t, 0, taskErr.Index)
	require.Equal(t, 2, taskErr.Attempt)

	require.Zero(t, reduces.Load(), "no reduce task may run when a map task failed")
	require.Equal(t, core.JobStatusFailed, j.job(t).Status)
	require.Equal(t, core.TaskStatusFailed, j.tasks(t, core.TaskTypeMap)[0].Status)

	_, err = os.Stat(filepath.Join(j.output, sink.SuccessMarker))
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(j.output, sink.TemporaryDir))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCoordinator_CommitErrorFailsJobWithoutRetry(t *testing.T) {
	j := newTestJob(t, 1, 1, 3)
	ctx := context.Background()

	var reduceAttempts atomic.Int32
	execute := func(a *protocol.TaskAssignment) *protocol.TaskReport {
		if a.Type == protocol.TaskTypeReduce {
			// Reports success without writing the part file.
			reduceAttempts.Add(1)
			return &protocol.TaskReport{}
		}
		return succeed(a)
	}

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, j.coordinator, 1, execute)
	err := j.coordinator.Run(ctx)
	wg.Wait()

	require.ErrorIs(t, err, pkgcore.ErrSinkCommit)
	require.EqualValues(t, 1, reduceAttempts.Load())
	require.Equal(t, core.JobStatusFailed, j.job(t).Status)
}

func TestCoordinator_ExpiresStalledAttempt(t *testing.T) {
	j := newTestJob(t, 1, 1, 2)
	ctx := context.Background()

	started := make(chan context.Context, 1)
	stalled := uuid.New()

	var wg sync.WaitGroup
	var removed []uuid.UUID
	var mu sync.Mutex
	j.coordinator.OnWorkerRemoved(func(id uuid.UUID) {
		mu.Lock()
		removed = append(removed, id)
		mu.Unlock()
		replacement := uuid.New()
		wg.Go(func() { runWorker(ctx, j.coordinator, replacement, succeed) })
	})

	wg.Go(func() {
		runWorker(ctx, j.coordinator, stalled, func(a *protocol.TaskAssignment) *protocol.TaskReport {
			started <- a.Context()
			<-a.Context().Done()
			return &protocol.TaskReport{Err: a.Context().Err()}
		})
	})

	var stalledCtx context.Context
	var expireErr error
	wg.Go(func() {
		stalledCtx = <-started
		time.Sleep(20 * time.Millisecond)
		expireErr = j.coordinator.ExpireStalledTasks(ctx, time.Millisecond)
	})

	require.NoError(t, j.coordinator.Run(ctx))
	wg.Wait()
	require.NoError(t, expireErr)

	require.ErrorIs(t, context.Cause(stalledCtx), pkgcore.ErrTaskTimeout)
	mu.Lock()
	require.Equal(t, []uuid.UUID{stalled}, removed)
	mu.Unlock()

	maps := j.tasks(t, core.TaskTypeMap)
	require.Equal(t, core.TaskStatusSucceeded, maps[0].Status)
	require.Equal(t, 2, maps[0].Attempt)
	require.NotEqual(t, stalled, maps[0].WorkerID)

	job := j.job(t)
	require.Len(t, job.Errors, 1)
	require.Contains(t, job.Errors[0].Error, pkgcore.ErrTaskTimeout.Error())

	_, err := j.coordinator.RequestTask(ctx, stalled)
	require.ErrorIs(t, err, protocol.ErrJobFinished)
}

func TestCoordinator_ReplacesWorkerBeforeReleasingIt(t *testing.T) {
	j := newTestJob(t, 1, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var replaced atomic.Bool
	j.coordinator.OnWorkerRemoved(func(uuid.UUID) {
		replaced.Store(true)
		replacement := uuid.New()
		wg.Go(func() { runWorker(ctx, j.coordinator, replacement, succeed) })
	})

	runErr := make(chan error, 1)
	go func() { runErr <- j.coordinator.Run(ctx) }()

	// The busy worker holds the only map task, so the idle worker's request
	// waits behind the barrier.
	started := make(chan struct{})
	release := make(chan struct{})
	wg.Go(func() {
		runWorker(ctx, j.coordinator, uuid.New(), func(a *protocol.TaskAssignment) *protocol.TaskReport {
			if a.Type == protocol.TaskTypeMap {
				close(started)
				<-release
			}
			return succeed(a)
		})
	})
	<-started

	idle := uuid.New()
	type reply struct {
		err      error
		replaced bool
	}
	replies := make(chan reply, 1)
	go func() {
		_, err := j.coordinator.RequestTask(ctx, idle)
		replies <- reply{err: err, replaced: replaced.Load()}
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, j.coordinator.ExpireWorker(ctx, idle))
	got := <-replies
	require.ErrorIs(t, got.err, protocol.ErrWorkerRemoved)
	require.True(t, got.replaced, "replacement must be spawned before the removed worker is released")

	close(release)
	require.NoError(t, <-runErr)
	wg.Wait()
	require.Equal(t, core.JobStatusSucceeded, j.job(t).Status)
}

func TestCoordinator_HeartbeatProgressKeepsAttemptAlive(t *testing.T) {
	j := newTestJob(t, 1, 1, 1)
	ctx := context.Background()
	workerID := uuid.New()

	release := make(chan struct{})
	checked := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Go(func() {
		runWorker(ctx, j.coordinator, workerID, func(a *protocol.TaskAssignment) *protocol.TaskReport {
			if a.Type == protocol.TaskTypeMap {
				time.Sleep(20 * time.Millisecond)
				err := j.coordinator.Heartbeat(ctx, &protocol.Heartbeat{
					WorkerID: workerID,
					TaskID:   a.TaskID,
					Attempt:  a.Attempt,
					Progress: 5,
				})
				if err == nil {
					err = j.coordinator.ExpireStalledTasks(ctx, 10*time.Millisecond)
				}
				checked <- err
				<-release
			}
			return succeed(a)
		})
	})
	var checkErr error
	wg.Go(func() {
		checkErr = <-checked
		close(release)
	})

	require.NoError(t, j.coordinator.Run(ctx))
	wg.Wait()
	require.NoError(t, checkErr)

	require.Equal(t, 1, j.tasks(t, core.TaskTypeMap)[0].Attempt)
	require.Empty(t, j.job(t).Errors)
}

func TestCoordinator_IgnoresStaleReports(t *testing.T) {
	j := newTestJob(t, 1, 1, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Go(func() {
		runWorker(ctx, j.coordinator, uuid.New(), func(a *protocol.TaskAssignment) *protocol.TaskReport {
			if a.Type == protocol.TaskTypeMap {
				// A report for an attempt that was never handed out.
				_ = j.coordinator.ReportTask(ctx, &protocol.TaskReport{
					TaskID:  a.TaskID,
					Attempt: a.Attempt + 1,
					Err:     errors.New("stale failure"),
				})
			}
			return succeed(a)
		})
	})

	require.NoError(t, j.coordinator.Run(ctx))
	wg.Wait()
	require.Empty(t, j.job(t).Errors)
}

func TestCoordinator_Cancelled(t *testing.T) {
	j := newTestJob(t, 1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := j.coordinator.Run(ctx)
	var jobErr *pkgcore.JobError
	require.ErrorAs(t, err, &jobErr)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, core.JobStatusFailed, j.job(t).Status)

	select {
	case <-j.coordinator.Done():
	default:
		t.Fatal("Done must be closed after Run returns")
	}
}
