package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/nemanja-m/logmr/internal/shared/logging"
	"github.com/nemanja-m/logmr/internal/shared/protocol"
	"github.com/nemanja-m/logmr/internal/shuffle"
	"github.com/nemanja-m/logmr/internal/sink"
	"github.com/nemanja-m/logmr/internal/source"
	"github.com/nemanja-m/logmr/internal/worker/core"
	pkgcore "github.com/nemanja-m/logmr/pkg/core"
)

type ExecutorConfig struct {
	Map       pkgcore.MapFunc
	Reduce    pkgcore.ReduceFunc
	Combine   pkgcore.ReduceFunc // optional
	Partition pkgcore.PartitionFunc

	SpillThreshold int
	MergeFactor    int
}

type executor struct {
	cfg    ExecutorConfig
	logger logging.Logger
}

func NewExecutor(cfg ExecutorConfig, logger logging.Logger) core.TaskExecutor {
	if cfg.Partition == nil {
		cfg.Partition = pkgcore.Partition
	}
	return &executor{cfg: cfg, logger: logger}
}

// Execute runs one map or reduce attempt. Panics in user callbacks are turned
// into attempt failures.
func (e *executor) Execute(ctx context.Context, task *protocol.TaskAssignment, progress *atomic.Int64) (report *protocol.TaskReport) {
	report = &protocol.TaskReport{TaskID: task.TaskID, Attempt: task.Attempt}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Task panicked",
				"task_id", task.TaskID.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			report.Runs = nil
			report.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch task.Type {
	case protocol.TaskTypeMap:
		report.Runs, report.Counters, report.Err = e.runMap(ctx, task, progress)
	case protocol.TaskTypeReduce:
		report.Counters, report.Err = e.runReduce(ctx, task, progress)
	default:
		report.Err = fmt.Errorf("unknown task type %q", task.Type)
	}
	return report
}

func (e *executor) runMap(ctx context.Context, task *protocol.TaskAssignment, progress *atomic.Int64) ([][]string, pkgcore.Counters, error) {
	var counters pkgcore.Counters

	if err := os.RemoveAll(task.ScratchDir); err != nil {
		return nil, counters, err
	}

	reader, err := source.Open(task.Split)
	if err != nil {
		return nil, counters, err
	}
	defer reader.Close()

	spiller := shuffle.NewSpiller(shuffle.SpillerConfig{
		Dir:           task.ScratchDir,
		NumPartitions: task.NumPartitions,
		Threshold:     e.cfg.SpillThreshold,
		Partition:     e.cfg.Partition,
		Combine:       e.cfg.Combine,
		Progress:      progress,
	})

	for reader.Next() {
		if ctx.Err() != nil {
			return nil, counters, context.Cause(ctx)
		}

		record := reader.Record()
		counters.RecordsRead++
		err := e.cfg.Map(record.Offset, record.Data, spiller.Emit)
		switch {
		case errors.Is(err, pkgcore.ErrIncompleteRecord):
			counters.RecordsSkipped++
		case err != nil:
			return nil, counters, fmt.Errorf("%s at offset %d: %w", task.Split.Path, record.Offset, err)
		}
		progress.Add(1)
	}
	if err := reader.Err(); err != nil {
		return nil, counters, fmt.Errorf("read %s: %w", task.Split, err)
	}
	if ctx.Err() != nil {
		return nil, counters, context.Cause(ctx)
	}

	runs, err := spiller.Close()
	if err != nil {
		return nil, counters, fmt.Errorf("spill: %w", err)
	}

	stats := spiller.Stats()
	counters.MapOutputs = stats.Emitted
	counters.Spills = int64(stats.Spills)
	counters.CombineInputs = stats.CombineInputs
	counters.CombineOutputs = stats.CombineOutputs
	return runs, counters, nil
}

func (e *executor) runReduce(ctx context.Context, task *protocol.TaskAssignment, progress *atomic.Int64) (pkgcore.Counters, error) {
	var counters pkgcore.Counters

	if err := os.RemoveAll(task.ScratchDir); err != nil {
		return counters, err
	}
	defer os.RemoveAll(task.ScratchDir)

	runs, err := shuffle.MergeRuns(task.Runs, e.cfg.MergeFactor, task.ScratchDir, progress)
	if err != nil {
		return counters, fmt.Errorf("merge runs: %w", err)
	}
	merger, err := shuffle.NewMerger(runs)
	if err != nil {
		return counters, fmt.Errorf("open runs: %w", err)
	}
	defer merger.Close()

	part, err := sink.CreatePart(task.OutputPath)
	if err != nil {
		return counters, err
	}

	input := &countingStream{Stream: merger, progress: progress}
	grouper := shuffle.NewGrouper(input)
	for grouper.NextKey() {
		if ctx.Err() != nil {
			part.Abort()
			return counters, context.Cause(ctx)
		}

		key := grouper.Key()
		if err := e.cfg.Reduce(key, grouper.Values(), part.Write); err != nil {
			part.Abort()
			return counters, fmt.Errorf("reduce %q: %w", key, err)
		}
	}
	if err := grouper.Err(); err != nil {
		part.Abort()
		return counters, err
	}

	if err := part.Close(); err != nil {
		return counters, err
	}

	counters.ReduceGroups = grouper.Groups()
	counters.ReduceInputs = input.records
	counters.OutputRecords = part.Records()
	return counters, nil
}

// countingStream counts merged records and reports each one as progress, so
// a reducer working through a large group keeps its attempt alive.
type countingStream struct {
	shuffle.Stream
	progress *atomic.Int64
	records  int64
}

func (s *countingStream) Next() bool {
	if s.Stream.Next() {
		s.records++
		s.progress.Add(1)
		return true
	}
	return false
}
