package local

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	statusgrpc "github.com/nemanja-m/logmr/internal/coordinator/api/grpc"
	"github.com/nemanja-m/logmr/internal/coordinator/api/rest"
	coordcore "github.com/nemanja-m/logmr/internal/coordinator/core"
	coordservice "github.com/nemanja-m/logmr/internal/coordinator/service"
	"github.com/nemanja-m/logmr/internal/coordinator/storage"
	"github.com/nemanja-m/logmr/internal/shared/config"
	"github.com/nemanja-m/logmr/internal/shared/logging"
	"github.com/nemanja-m/logmr/internal/sink"
	"github.com/nemanja-m/logmr/internal/source"
	workerservice "github.com/nemanja-m/logmr/internal/worker/service"
	"github.com/nemanja-m/logmr/pkg/core"
	"github.com/nemanja-m/logmr/pkg/jobs"
)

const shutdownTimeout = 5 * time.Second

// Config describes one job run. Zero values fall back to the defaults of
// internal/shared/config.
type Config struct {
	Name      string
	Job       jobs.Job
	Partition core.PartitionFunc // optional, defaults to core.Partition

	Input     []string
	Output    string
	Reducers  int
	Workers   int
	SplitSize int64

	MaxMapAttempts    int
	MaxReduceAttempts int
	TaskTimeout       time.Duration
	HeartbeatInterval time.Duration
	CheckInterval     time.Duration

	// ShuffleDir is the parent of the job's scratch directory.
	ShuffleDir     string
	SpillThreshold int
	MergeFactor    int

	Status config.StatusConfig
	Logger logging.Logger
}

// FromJobConfig builds an engine Config from loaded configuration.
func FromJobConfig(cfg *config.JobConfig, job jobs.Job, logger logging.Logger) Config {
	return Config{
		Name:              cfg.Job,
		Job:               job,
		Input:             cfg.Input,
		Output:            cfg.Output,
		Reducers:          cfg.Reducers,
		Workers:           cfg.Workers,
		SplitSize:         cfg.SplitSize,
		MaxMapAttempts:    cfg.Retry.MaxMapAttempts,
		MaxReduceAttempts: cfg.Retry.MaxReduceAttempts,
		TaskTimeout:       cfg.Timeout.Task,
		HeartbeatInterval: cfg.Timeout.HeartbeatInterval,
		CheckInterval:     cfg.Timeout.CheckInterval,
		ShuffleDir:        cfg.Shuffle.Dir,
		SpillThreshold:    cfg.Shuffle.SpillThreshold,
		MergeFactor:       cfg.Shuffle.MergeFactor,
		Status:            cfg.Status,
		Logger:            logger,
	}
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = config.DefaultJob
	}
	if c.Partition == nil {
		c.Partition = core.Partition
	}
	if c.Reducers == 0 {
		c.Reducers = config.DefaultReducers
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.SplitSize == 0 {
		c.SplitSize = config.DefaultSplitSize
	}
	if c.MaxMapAttempts == 0 {
		c.MaxMapAttempts = config.DefaultMaxMapAttempts
	}
	if c.MaxReduceAttempts == 0 {
		c.MaxReduceAttempts = config.DefaultMaxReduceAttempts
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = config.DefaultTaskTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = min(config.DefaultHeartbeatInterval, c.TaskTimeout/3)
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = min(config.DefaultCheckInterval, c.TaskTimeout/2)
	}
	if c.SpillThreshold == 0 {
		c.SpillThreshold = config.DefaultSpillThreshold
	}
	if c.MergeFactor == 0 {
		c.MergeFactor = config.DefaultMergeFactor
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

func (c *Config) validate() error {
	switch {
	case c.Job.Map == nil || c.Job.Reduce == nil:
		return &core.ConfigError{Field: "job", Reason: "map and reduce functions are required"}
	case len(c.Input) == 0:
		return &core.ConfigError{Field: "input", Reason: "at least one input location is required"}
	case c.Output == "":
		return &core.ConfigError{Field: "output", Reason: "output location is required"}
	case c.Reducers < 0 || c.Workers < 0 || c.SplitSize < 0:
		return &core.ConfigError{Field: "reducers", Reason: "reducers, workers and split size must be positive"}
	case c.MergeFactor < 2:
		return &core.ConfigError{Field: "shuffle.merge_factor", Reason: "must be at least 2"}
	case c.HeartbeatInterval <= 0 || c.CheckInterval <= 0 || c.HeartbeatInterval >= c.TaskTimeout:
		return &core.ConfigError{Field: "timeout", Reason: "heartbeat and check intervals must be positive and shorter than the task timeout"}
	}
	return nil
}

// Result summarizes a finished job.
type Result struct {
	JobID    uuid.UUID
	Status   coordcore.JobStatus
	Counters core.Counters
	Output   string
	Parts    []string
	Duration time.Duration
	Workers  int
}

type Engine struct {
	config Config
}

func NewEngine(cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{config: cfg}
}

// Run executes the job and blocks until it has succeeded or failed. The
// returned Result is non-nil whenever the job was started, including when it
// failed; the error is then a *core.JobError. Configuration problems are
// reported as *core.ConfigError before any task is scheduled.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	cfg := e.config
	logger := cfg.Logger

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := CheckOutput(cfg.Output); err != nil {
		return nil, err
	}

	files, err := resolveInputs(cfg.Input)
	if err != nil {
		return nil, err
	}
	splits, err := source.ComputeSplits(files, cfg.SplitSize)
	if err != nil {
		return nil, &core.ConfigError{Field: "input", Reason: err.Error()}
	}

	if cfg.ShuffleDir != "" {
		if err := os.MkdirAll(cfg.ShuffleDir, 0o755); err != nil {
			return nil, &core.ConfigError{Field: "shuffle.dir", Reason: err.Error()}
		}
	}
	shuffleDir, err := os.MkdirTemp(cfg.ShuffleDir, "logmr-shuffle-")
	if err != nil {
		return nil, &core.ConfigError{Field: "shuffle.dir", Reason: err.Error()}
	}
	defer func() {
		if err := os.RemoveAll(shuffleDir); err != nil {
			logger.Warn("Failed to remove shuffle directory", "dir", shuffleDir, "error", err)
		}
	}()

	jobStore := storage.NewInMemoryJobStore()
	workerService := coordservice.NewWorkerService(storage.NewInMemoryWorkerStore(), logger)

	coordinator, err := coordservice.NewCoordinator(
		coordservice.Config{
			JobName:           cfg.Name,
			Input:             cfg.Input,
			Splits:            splits,
			Output:            cfg.Output,
			ShuffleDir:        shuffleDir,
			NumReducers:       cfg.Reducers,
			MaxMapAttempts:    cfg.MaxMapAttempts,
			MaxReduceAttempts: cfg.MaxReduceAttempts,
			TaskTimeout:       cfg.TaskTimeout,
		},
		jobStore,
		workerService,
		sink.NewCommitter(cfg.Output),
		logger,
	)
	if err != nil {
		return nil, err
	}

	executor := workerservice.NewExecutor(workerservice.ExecutorConfig{
		Map:            cfg.Job.Map,
		Reduce:         cfg.Job.Reduce,
		Combine:        cfg.Job.Combine,
		Partition:      cfg.Partition,
		SpillThreshold: cfg.SpillThreshold,
		MergeFactor:    cfg.MergeFactor,
	}, logger)

	pool := NewPool(func(id uuid.UUID) Runner {
		return workerservice.NewWorkerService(id, coordinator, executor, cfg.HeartbeatInterval, logger)
	})
	coordinator.OnWorkerRemoved(func(workerID uuid.UUID) {
		if pool.Spawn() {
			logger.Info("Spawned replacement worker", "removed_worker_id", workerID.String())
		}
	})

	checker := coordservice.NewWorkerHealthChecker(
		cfg.CheckInterval,
		cfg.TaskTimeout,
		workerService,
		coordinator,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	var grpcServer *statusgrpc.Server
	if cfg.Status.GRPC.Addr != "" {
		grpcServer = statusgrpc.NewServer(cfg.Status.GRPC, logger)
		g.Go(grpcServer.Start)
	}
	var restServer *http.Server
	if cfg.Status.REST.Addr != "" {
		restServer = rest.NewServer(cfg.Status.REST, coordinator, workerService, logger)
		g.Go(func() error {
			logger.Info("REST status server listening", "addr", restServer.Addr)
			if err := restServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		return coordinator.Run(gctx)
	})
	g.Go(func() error {
		pool.Start(gctx, cfg.Workers)
		return pool.Wait()
	})
	g.Go(func() error {
		checker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-coordinator.Done():
		case <-gctx.Done():
		}
		if job, err := coordinator.GetJob(coordinator.JobID()); err == nil && grpcServer != nil {
			grpcServer.SetJobStatus(job.Status)
		}
		if grpcServer != nil {
			grpcServer.Stop()
		}
		if restServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return restServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	runErr := g.Wait()

	job, err := coordinator.GetJob(coordinator.JobID())
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	result := &Result{
		JobID:    job.ID,
		Status:   job.Status,
		Counters: job.Counters,
		Output:   cfg.Output,
		Duration: job.Duration(),
		Workers:  pool.Spawned(),
	}
	if job.Status == coordcore.JobStatusSucceeded {
		if result.Parts, err = ListParts(cfg.Output); err != nil {
			return result, err
		}
	}

	var jobErr *core.JobError
	if errors.As(runErr, &jobErr) {
		return result, jobErr
	}
	return result, runErr
}
