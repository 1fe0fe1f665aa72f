package rest

import (
	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
)

func ToGetJobResponse(job *core.Job) GetJobResponse {
	errors := make([]ErrorInfo, 0, len(job.Errors))
	for _, e := range job.Errors {
		errors = append(errors, ErrorInfo{
			TaskID:    e.TaskID.String(),
			Attempt:   e.Attempt,
			Error:     e.Error,
			Timestamp: e.Timestamp,
		})
	}

	return GetJobResponse{
		JobID:  job.ID.String(),
		Name:   job.Name,
		Status: string(job.Status),
		Input: InputInfo{
			Paths:  job.Input.Paths,
			Splits: job.Input.Splits,
		},
		Config: JobConfigInfo{
			NumReducers:        job.Config.NumReducers,
			MaxMapAttempts:     job.Config.MaxMapAttempts,
			MaxReduceAttempts:  job.Config.MaxReduceAttempts,
			TaskTimeoutSeconds: int64(job.Config.TaskTimeout.Seconds()),
		},
		Progress: ProgressInfo{
			Map:    toTaskProgress(job.Progress.Map),
			Reduce: toTaskProgress(job.Progress.Reduce),
		},
		Counters: job.Counters,
		Timestamps: TimestampsInfo{
			Submitted: job.SubmittedAt,
			Started:   job.StartedAt,
			Completed: job.CompletedAt,
		},
		DurationMs: job.Duration().Milliseconds(),
		Output: OutputInfo{
			Location:  job.Output.Path,
			Available: job.Status == core.JobStatusSucceeded,
		},
		Errors: errors,
	}
}

func toTaskProgress(p core.TaskProgress) TaskProgress {
	return TaskProgress{
		Total:     p.Total,
		Pending:   p.Pending,
		Running:   p.Running,
		Completed: p.Completed,
		Failed:    p.Failed,
	}
}

func ToJobSummary(job *core.Job) JobSummary {
	return JobSummary{
		JobID:       job.ID.String(),
		Name:        job.Name,
		Status:      string(job.Status),
		SubmittedAt: job.SubmittedAt,
		CompletedAt: job.CompletedAt,
	}
}

func ToTaskInfo(task *core.Task) TaskInfo {
	info := TaskInfo{
		TaskID:    task.ID.String(),
		Type:      string(task.Type),
		Index:     task.Index,
		Status:    string(task.Status),
		Attempts:  task.Attempt,
		Progress:  task.Progress,
		StartTime: task.StartedAt,
		EndTime:   task.EndedAt,
		Error:     task.Error,
	}
	if task.WorkerID != uuid.Nil {
		info.WorkerID = task.WorkerID.String()
	}
	if task.Type == core.TaskTypeMap {
		info.Input = task.Split.String()
	}
	return info
}

func ToWorkerInfo(worker *core.Worker) WorkerInfo {
	info := WorkerInfo{
		WorkerID:      worker.ID.String(),
		Status:        string(worker.Status),
		RegisteredAt:  worker.RegisteredAt,
		LastHeartbeat: worker.LastHeartbeatAt,
	}
	if worker.TaskID != uuid.Nil {
		info.TaskID = worker.TaskID.String()
	}
	return info
}
