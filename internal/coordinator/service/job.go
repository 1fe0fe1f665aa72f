package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
	"github.com/nemanja-m/logmr/internal/shared/logging"
	"github.com/nemanja-m/logmr/internal/shared/protocol"
	"github.com/nemanja-m/logmr/internal/sink"
	"github.com/nemanja-m/logmr/internal/source"
	pkgcore "github.com/nemanja-m/logmr/pkg/core"
)

type Config struct {
	JobName     string
	Input       []string
	Splits      []source.Split
	Output      string
	ShuffleDir  string
	NumReducers int

	MaxMapAttempts    int
	MaxReduceAttempts int
	TaskTimeout       time.Duration
}

func (c Config) validate() error {
	switch {
	case len(c.Splits) == 0:
		return &pkgcore.ConfigError{Field: "input", Reason: "no input splits"}
	case c.NumReducers < 1:
		return &pkgcore.ConfigError{Field: "reducers", Reason: "must be at least 1"}
	case c.MaxMapAttempts < 1 || c.MaxReduceAttempts < 1:
		return &pkgcore.ConfigError{Field: "retry", Reason: "attempts must be at least 1"}
	case c.ShuffleDir == "":
		return &pkgcore.ConfigError{Field: "shuffle.dir", Reason: "must not be empty"}
	}
	return nil
}

// Coordinator runs one job. A single goroutine, Run, owns the task table,
// the queue and the worker registry; workers reach it only through the
// exported methods, which pass messages over channels.
type Coordinator struct {
	cfg       Config
	job       *core.Job
	tasks     []*core.Task
	byID      map[uuid.UUID]*core.Task
	queue     *core.TaskQueue
	jobStore  core.JobStore
	workers   core.WorkerService
	committer *sink.Committer
	logger    logging.Logger

	onWorkerRemoved func(workerID uuid.UUID)

	requests   chan *taskRequest
	reports    chan *protocol.TaskReport
	heartbeats chan *protocol.Heartbeat
	expiries   chan *expiry
	done       chan struct{}

	// Owned by Run.
	jobCtx      context.Context
	cancelJob   context.CancelCauseFunc
	attempts    map[uuid.UUID]context.CancelCauseFunc
	waiting     []*taskRequest
	removed     map[uuid.UUID]bool
	mapsLeft    int
	reducesLeft int
	failure     error
}

type taskRequest struct {
	workerID uuid.UUID
	reply    chan taskReply
}

type taskReply struct {
	assignment *protocol.TaskAssignment
	err        error
}

// expiry asks the loop to expire one worker, or every stalled attempt when
// workerID is nil.
type expiry struct {
	workerID uuid.UUID
	timeout  time.Duration
	done     chan struct{}
}

func NewCoordinator(
	cfg Config,
	jobStore core.JobStore,
	workerService core.WorkerService,
	committer *sink.Committer,
	logger logging.Logger,
) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	job := &core.Job{
		ID:     uuid.New(),
		Name:   cfg.JobName,
		Status: core.JobStatusSubmitted,
		Input: core.InputConfig{
			Paths:  cfg.Input,
			Splits: len(cfg.Splits),
		},
		Output: core.OutputConfig{Path: cfg.Output},
		Config: core.JobConfig{
			NumReducers:       cfg.NumReducers,
			TaskTimeout:       cfg.TaskTimeout,
			MaxMapAttempts:    cfg.MaxMapAttempts,
			MaxReduceAttempts: cfg.MaxReduceAttempts,
		},
		SubmittedAt: time.Now().UTC(),
		Errors:      []core.JobError{},
	}
	if err := jobStore.SaveJob(job); err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:        cfg,
		job:        job,
		byID:       make(map[uuid.UUID]*core.Task),
		queue:      core.NewTaskQueue(),
		jobStore:   jobStore,
		workers:    workerService,
		committer:  committer,
		logger:     logger,
		requests:   make(chan *taskRequest),
		reports:    make(chan *protocol.TaskReport),
		heartbeats: make(chan *protocol.Heartbeat),
		expiries:   make(chan *expiry),
		done:       make(chan struct{}),
		attempts:   make(map[uuid.UUID]context.CancelCauseFunc),
		removed:    make(map[uuid.UUID]bool),
	}, nil
}

func (c *Coordinator) JobID() uuid.UUID {
	return c.job.ID
}

// OnWorkerRemoved registers a callback invoked from the loop whenever a
// worker is expelled. It must not block. Call it before Run.
func (c *Coordinator) OnWorkerRemoved(fn func(workerID uuid.UUID)) {
	c.onWorkerRemoved = fn
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run executes the job to completion. It returns nil when the job succeeded
// and a *pkgcore.JobError when it failed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.jobCtx, c.cancelJob = context.WithCancelCause(ctx)
	defer close(c.done)
	defer c.cancelJob(nil)

	if err := c.start(); err != nil {
		c.fail("job setup failed", err)
	}

	for !c.job.Status.Terminal() {
		c.dispatch()
		if c.job.Status.Terminal() {
			break
		}

		select {
		case <-ctx.Done():
			c.fail("job cancelled", context.Cause(ctx))
		case req := <-c.requests:
			c.handleRequest(req)
		case report := <-c.reports:
			c.handleReport(report)
		case hb := <-c.heartbeats:
			c.handleHeartbeat(hb)
		case exp := <-c.expiries:
			c.handleExpiry(exp)
			close(exp.done)
		}
	}

	return c.finish()
}

func (c *Coordinator) start() error {
	if err := c.committer.SetupJob(); err != nil {
		return err
	}

	for i, split := range c.cfg.Splits {
		c.addTask(&core.Task{
			ID:     uuid.New(),
			JobID:  c.job.ID,
			Type:   core.TaskTypeMap,
			Index:  i,
			Status: core.TaskStatusPending,
			Split:  split,
		})
	}
	for i := range c.cfg.NumReducers {
		c.addTask(&core.Task{
			ID:     uuid.New(),
			JobID:  c.job.ID,
			Type:   core.TaskTypeReduce,
			Index:  i,
			Status: core.TaskStatusPending,
		})
	}
	c.mapsLeft = len(c.cfg.Splits)
	c.reducesLeft = c.cfg.NumReducers

	// Reduce tasks sit behind every map task and map retry in the queue;
	// dispatch additionally holds them back until the map phase completes.
	for _, task := range c.tasks {
		c.queue.Push(task)
	}

	now := time.Now().UTC()
	c.job.Status = core.JobStatusMapRunning
	c.job.StartedAt = &now
	c.refreshProgress()
	if err := c.jobStore.UpdateJob(c.job, c.tasks...); err != nil {
		return err
	}

	c.logger.Info(
		"Job started",
		"job_id", c.job.ID.String(),
		"name", c.job.Name,
		"num_map_tasks", c.mapsLeft,
		"num_reduce_tasks", c.reducesLeft,
		"shuffle_dir", c.cfg.ShuffleDir,
	)
	return nil
}

func (c *Coordinator) addTask(task *core.Task) {
	c.tasks = append(c.tasks, task)
	c.byID[task.ID] = task
}

// RequestTask blocks until the coordinator hands the worker an attempt. It
// returns protocol.ErrJobFinished once the job has ended.
func (c *Coordinator) RequestTask(ctx context.Context, workerID uuid.UUID) (*protocol.TaskAssignment, error) {
	req := &taskRequest{workerID: workerID, reply: make(chan taskReply, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return nil, protocol.ErrJobFinished
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.assignment, r.err
	case <-c.done:
		select {
		case r := <-req.reply:
			return r.assignment, r.err
		default:
			return nil, protocol.ErrJobFinished
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) ReportTask(ctx context.Context, report *protocol.TaskReport) error {
	select {
	case c.reports <- report:
		return nil
	case <-c.done:
		return protocol.ErrJobFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) Heartbeat(ctx context.Context, hb *protocol.Heartbeat) error {
	select {
	case c.heartbeats <- hb:
		return nil
	case <-c.done:
		return protocol.ErrJobFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExpireStalledTasks fails every running attempt whose progress has not
// advanced for timeout, and removes the workers running them.
func (c *Coordinator) ExpireStalledTasks(ctx context.Context, timeout time.Duration) error {
	return c.expire(ctx, &expiry{timeout: timeout, done: make(chan struct{})})
}

// ExpireWorker removes a worker and fails the attempt it was running.
func (c *Coordinator) ExpireWorker(ctx context.Context, workerID uuid.UUID) error {
	return c.expire(ctx, &expiry{workerID: workerID, done: make(chan struct{})})
}

func (c *Coordinator) expire(ctx context.Context, exp *expiry) error {
	select {
	case c.expiries <- exp:
	case <-c.done:
		return protocol.ErrJobFinished
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-exp.done:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) GetJob(id uuid.UUID) (*core.Job, error) {
	return c.jobStore.GetJobByID(id)
}

func (c *Coordinator) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	return c.jobStore.GetJobs(filter)
}

func (c *Coordinator) GetTasks(jobID uuid.UUID) ([]*core.Task, error) {
	return c.jobStore.GetTasksByJobID(jobID)
}

func (c *Coordinator) handleRequest(req *taskRequest) {
	if c.removed[req.workerID] {
		req.reply <- taskReply{err: protocol.ErrWorkerRemoved}
		return
	}

	if _, err := c.workers.GetWorker(req.workerID); errors.Is(err, core.ErrWorkerNotFound) {
		if err := c.workers.RegisterWorker(&core.Worker{ID: req.workerID}); err != nil {
			c.logger.Error("Failed to register worker", "worker_id", req.workerID, "error", err)
		}
	} else if err := c.workers.ReleaseWorker(req.workerID); err != nil {
		c.logger.Error("Failed to release worker", "worker_id", req.workerID, "error", err)
	}
	c.waiting = append(c.waiting, req)
}

// dispatch hands queued tasks to waiting workers in arrival order.
func (c *Coordinator) dispatch() {
	for len(c.waiting) > 0 && !c.job.Status.Terminal() {
		task := c.nextTask()
		if task == nil {
			return
		}
		req := c.waiting[0]
		c.waiting[0] = nil
		c.waiting = c.waiting[1:]
		c.assign(req, task)
	}
}

func (c *Coordinator) nextTask() *core.Task {
	top, ok := c.queue.Peek()
	if !ok {
		return nil
	}

	// All map tasks must succeed before any reduce task runs.
	if top.Type == core.TaskTypeReduce {
		completed, err := c.jobStore.IsMapPhaseCompleted(c.job.ID)
		if err != nil {
			c.fail("task table unavailable", err)
			return nil
		}
		if !completed {
			return nil
		}
	}

	task, _ := c.queue.Pop()
	return task
}

func (c *Coordinator) assign(req *taskRequest, task *core.Task) {
	now := time.Now().UTC()
	task.Attempt++
	task.Status = core.TaskStatusRunning
	task.WorkerID = req.workerID
	task.Progress = 0
	task.StartedAt = &now
	task.EndedAt = nil
	task.LastProgressAt = &now

	attemptCtx, cancel := context.WithCancelCause(c.jobCtx)
	c.attempts[task.ID] = cancel

	assignment := &protocol.TaskAssignment{
		JobID:         c.job.ID,
		TaskID:        task.ID,
		Type:          protocol.TaskType(task.Type),
		Index:         task.Index,
		Attempt:       task.Attempt,
		NumPartitions: c.cfg.NumReducers,
	}
	attemptDir := fmt.Sprintf("attempt-%d", task.Attempt)

	switch task.Type {
	case core.TaskTypeMap:
		assignment.Split = task.Split
		assignment.ScratchDir = filepath.Join(c.cfg.ShuffleDir, fmt.Sprintf("map-%05d", task.Index), attemptDir)
	case core.TaskTypeReduce:
		if c.job.Status == core.JobStatusMapComplete {
			c.job.Status = core.JobStatusReduceRunning
			c.logger.Info("Reduce phase started", "job_id", c.job.ID.String())
		}
		assignment.Runs = c.reduceInputs(task.Index)
		assignment.ScratchDir = filepath.Join(c.cfg.ShuffleDir, fmt.Sprintf("reduce-%05d", task.Index), attemptDir)
		assignment.OutputPath = c.committer.AttemptPath(task.Index, task.Attempt)
	}

	if err := c.workers.AssignTask(req.workerID, task.ID); err != nil {
		c.logger.Error("Failed to mark worker busy", "worker_id", req.workerID, "error", err)
	}
	c.save(task)

	c.logger.Debug(
		"Task assigned",
		"task_id", task.ID.String(),
		"type", task.Type,
		"index", task.Index,
		"attempt", task.Attempt,
		"worker_id", req.workerID.String(),
	)
	req.reply <- taskReply{assignment: assignment.WithContext(attemptCtx)}
}

// reduceInputs collects the committed runs of one reduce group in map task
// order.
func (c *Coordinator) reduceInputs(group int) []string {
	var runs []string
	for _, task := range c.tasks {
		if task.Type != core.TaskTypeMap || group >= len(task.Runs) {
			continue
		}
		runs = append(runs, task.Runs[group]...)
	}
	return runs
}

func (c *Coordinator) handleReport(report *protocol.TaskReport) {
	task, ok := c.byID[report.TaskID]
	if !ok {
		c.logger.Warn("Report for unknown task", "task_id", report.TaskID.String())
		return
	}
	if task.Status != core.TaskStatusRunning || task.Attempt != report.Attempt || task.WorkerID != report.WorkerID {
		c.logger.Debug(
			"Ignoring report from stale attempt",
			"task_id", task.ID.String(),
			"attempt", report.Attempt,
			"current_attempt", task.Attempt,
		)
		return
	}

	c.endAttempt(task, nil)
	if report.Err != nil {
		c.retryOrFail(task, report.Err)
		return
	}
	c.succeed(task, report)
}

func (c *Coordinator) endAttempt(task *core.Task, cause error) {
	if cancel, ok := c.attempts[task.ID]; ok {
		cancel(cause)
		delete(c.attempts, task.ID)
	}
	now := time.Now().UTC()
	task.EndedAt = &now
	if err := c.workers.ReleaseWorker(task.WorkerID); err != nil && !errors.Is(err, core.ErrWorkerNotFound) {
		c.logger.Error("Failed to release worker", "worker_id", task.WorkerID, "error", err)
	}
}

func (c *Coordinator) succeed(task *core.Task, report *protocol.TaskReport) {
	switch task.Type {
	case core.TaskTypeMap:
		task.Runs = report.Runs
		task.Status = core.TaskStatusSucceeded
		c.job.Counters.Add(report.Counters)
		c.mapsLeft--
		c.save(task)

		c.logger.Debug("Map task succeeded", "index", task.Index, "attempt", task.Attempt)
		if c.mapsLeft == 0 {
			c.job.Status = core.JobStatusMapComplete
			c.save()
			c.logger.Info("Map phase completed", "job_id", c.job.ID.String())
		}

	case core.TaskTypeReduce:
		err := c.committer.CommitTask(task.Index, task.Attempt)
		if errors.Is(err, sink.ErrAttemptCleanup) {
			c.logger.Warn("Committed reduce output but left attempt files behind", "index", task.Index, "error", err)
			err = nil
		}
		if err != nil {
			task.Status = core.TaskStatusFailed
			c.recordError(task, err)
			c.save(task)
			c.fail("output commit failed", c.taskError(task, err))
			return
		}
		task.Status = core.TaskStatusSucceeded
		c.job.Counters.Add(report.Counters)
		c.reducesLeft--
		c.save(task)

		c.logger.Debug("Reduce task succeeded", "index", task.Index, "attempt", task.Attempt)
		if c.reducesLeft == 0 {
			c.commitJob()
		}
	}
}

func (c *Coordinator) commitJob() {
	if err := c.committer.CommitJob(); err != nil {
		c.fail("output commit failed", err)
		return
	}
	now := time.Now().UTC()
	c.job.Status = core.JobStatusSucceeded
	c.job.CompletedAt = &now
	c.save()
}

func (c *Coordinator) retryOrFail(task *core.Task, err error) {
	c.recordError(task, err)
	if task.Type == core.TaskTypeReduce {
		if abortErr := c.committer.AbortTask(task.Index, task.Attempt); abortErr != nil {
			c.logger.Warn("Failed to clean up reduce attempt", "index", task.Index, "error", abortErr)
		}
	}

	if errors.Is(err, pkgcore.ErrSinkCommit) {
		task.Status = core.TaskStatusFailed
		c.save(task)
		c.fail("output commit failed", c.taskError(task, err))
		return
	}

	if task.Attempt < c.maxAttempts(task.Type) {
		task.Status = core.TaskStatusPending
		task.WorkerID = uuid.Nil
		c.queue.Push(task)
		c.save(task)
		c.logger.Warn(
			"Task attempt failed, retrying",
			"type", task.Type,
			"index", task.Index,
			"attempt", task.Attempt,
			"error", err,
		)
		return
	}

	task.Status = core.TaskStatusFailed
	c.save(task)
	c.fail("task attempts exhausted", c.taskError(task, err))
}

func (c *Coordinator) maxAttempts(taskType core.TaskType) int {
	if taskType == core.TaskTypeReduce {
		return c.cfg.MaxReduceAttempts
	}
	return c.cfg.MaxMapAttempts
}

func (c *Coordinator) taskError(task *core.Task, err error) *pkgcore.TaskError {
	return &pkgcore.TaskError{
		TaskID:  task.ID.String(),
		Type:    string(task.Type),
		Index:   task.Index,
		Attempt: task.Attempt,
		Err:     err,
	}
}

func (c *Coordinator) recordError(task *core.Task, err error) {
	msg := err.Error()
	task.Error = &msg
	c.job.Errors = append(c.job.Errors, core.JobError{
		TaskID:    task.ID,
		Attempt:   task.Attempt,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Coordinator) handleHeartbeat(hb *protocol.Heartbeat) {
	if c.removed[hb.WorkerID] {
		return
	}
	if err := c.workers.RecordHeartbeat(hb.WorkerID); errors.Is(err, core.ErrWorkerNotFound) {
		if err := c.workers.RegisterWorker(&core.Worker{ID: hb.WorkerID}); err != nil {
			c.logger.Error("Failed to register worker", "worker_id", hb.WorkerID, "error", err)
		}
	}
	if hb.Idle() {
		return
	}

	task, ok := c.byID[hb.TaskID]
	if !ok || task.Status != core.TaskStatusRunning || task.Attempt != hb.Attempt || task.WorkerID != hb.WorkerID {
		return
	}
	if hb.Progress > task.Progress {
		now := time.Now().UTC()
		task.Progress = hb.Progress
		task.LastProgressAt = &now
		if err := c.jobStore.UpdateTask(task); err != nil {
			c.logger.Error("Failed to update task", "task_id", task.ID.String(), "error", err)
		}
	}
}

func (c *Coordinator) handleExpiry(exp *expiry) {
	if exp.workerID != uuid.Nil {
		c.expireWorker(exp.workerID)
		return
	}

	deadline := time.Now().UTC().Add(-exp.timeout)
	for _, task := range c.tasks {
		if task.Status != core.TaskStatusRunning || task.LastProgressAt == nil || !task.LastProgressAt.Before(deadline) {
			continue
		}
		c.logger.Warn(
			"Task attempt stalled",
			"type", task.Type,
			"index", task.Index,
			"attempt", task.Attempt,
			"worker_id", task.WorkerID.String(),
			"timeout", exp.timeout.String(),
		)
		workerID := task.WorkerID
		c.expireAttempt(task, fmt.Errorf("%w: no progress for %s", pkgcore.ErrTaskTimeout, exp.timeout))
		c.removeWorker(workerID)
		if c.job.Status.Terminal() {
			return
		}
	}
}

func (c *Coordinator) expireWorker(workerID uuid.UUID) {
	for _, task := range c.tasks {
		if task.Status == core.TaskStatusRunning && task.WorkerID == workerID {
			c.expireAttempt(task, fmt.Errorf("%w: worker %s stopped responding", pkgcore.ErrTaskTimeout, workerID))
			break
		}
	}
	c.removeWorker(workerID)
}

func (c *Coordinator) expireAttempt(task *core.Task, err error) {
	c.endAttempt(task, err)
	c.retryOrFail(task, err)
}

func (c *Coordinator) removeWorker(workerID uuid.UUID) {
	if c.removed[workerID] {
		return
	}
	c.removed[workerID] = true
	if err := c.workers.RemoveWorker(workerID); err != nil && !errors.Is(err, core.ErrWorkerNotFound) {
		c.logger.Error("Failed to remove worker", "worker_id", workerID, "error", err)
	}

	c.logger.Info("Worker removed", "worker_id", workerID.String())

	// The replacement must exist before the removed worker is told to exit,
	// otherwise a pool of one can drain and stop.
	if c.onWorkerRemoved != nil && !c.job.Status.Terminal() {
		c.onWorkerRemoved(workerID)
	}

	waiting := c.waiting[:0]
	for _, req := range c.waiting {
		if req.workerID == workerID {
			req.reply <- taskReply{err: protocol.ErrWorkerRemoved}
			continue
		}
		waiting = append(waiting, req)
	}
	c.waiting = waiting
}

func (c *Coordinator) fail(reason string, err error) {
	if c.job.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	c.job.Status = core.JobStatusFailed
	c.job.CompletedAt = &now
	c.failure = &pkgcore.JobError{JobID: c.job.ID.String(), Reason: reason, Err: err}

	c.cancelJob(c.failure)
	clear(c.attempts)
	if abortErr := c.committer.AbortJob(); abortErr != nil {
		c.logger.Error("Failed to abort job output", "job_id", c.job.ID.String(), "error", abortErr)
	}
	c.save()
}

func (c *Coordinator) finish() error {
	for _, req := range c.waiting {
		req.reply <- taskReply{err: protocol.ErrJobFinished}
	}
	c.waiting = nil

	args := append([]any{
		"job_id", c.job.ID.String(),
		"status", c.job.Status,
		"duration", c.job.Duration().String(),
	}, c.job.Counters.LogArgs()...)

	if c.failure != nil {
		c.logger.Error("Job failed", append(args, "error", c.failure)...)
		return c.failure
	}
	c.logger.Info("Job succeeded", args...)
	return nil
}

// save persists the job, refreshed progress and the given tasks.
func (c *Coordinator) save(tasks ...*core.Task) {
	c.refreshProgress()
	if err := c.jobStore.UpdateJob(c.job, tasks...); err != nil {
		c.logger.Error("Failed to update job", "job_id", c.job.ID.String(), "error", err)
	}
}

func (c *Coordinator) refreshProgress() {
	var progress core.JobProgress
	for _, task := range c.tasks {
		p := &progress.Map
		if task.Type == core.TaskTypeReduce {
			p = &progress.Reduce
		}
		p.Total++
		switch task.Status {
		case core.TaskStatusPending:
			p.Pending++
		case core.TaskStatusRunning:
			p.Running++
		case core.TaskStatusSucceeded:
			p.Completed++
		case core.TaskStatusFailed:
			p.Failed++
		}
	}
	c.job.Progress = progress
}
