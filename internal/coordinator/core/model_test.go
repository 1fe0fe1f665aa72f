package core

import (
	"testing"
	"time"
)

func TestJob_Duration(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		startedAt   *time.Time
		completedAt *time.Time
		want        time.Duration
	}{
		{
			name:        "both nil returns zero",
			startedAt:   nil,
			completedAt: nil,
			want:        0,
		},
		{
			name:        "completed job returns duration",
			startedAt:   ptrTime(now),
			completedAt: ptrTime(now.Add(5 * time.Minute)),
			want:        5 * time.Minute,
		},
		{
			name:        "zero duration when started and completed at same time",
			startedAt:   ptrTime(now),
			completedAt: ptrTime(now),
			want:        0,
		},
		{
			name:        "sub-second duration",
			startedAt:   ptrTime(now),
			completedAt: ptrTime(now.Add(500 * time.Millisecond)),
			want:        500 * time.Millisecond,
		},
		{
			name:        "long duration",
			startedAt:   ptrTime(now),
			completedAt: ptrTime(now.Add(24 * time.Hour)),
			want:        24 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{
				StartedAt:   tt.startedAt,
				CompletedAt: tt.completedAt,
			}

			got := job.Duration()
			if got != tt.want {
				t.Errorf("Job.Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusSubmitted, false},
		{JobStatusMapRunning, false},
		{JobStatusMapComplete, false},
		{JobStatusReduceRunning, false},
		{JobStatusSucceeded, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTask_Clone(t *testing.T) {
	task := &Task{Runs: [][]string{{"a.run"}, {"b.run"}}}
	clone := task.Clone()
	clone.Runs[0][0] = "changed"
	clone.Runs[1] = append(clone.Runs[1], "c.run")

	if task.Runs[0][0] != "a.run" {
		t.Errorf("clone shares run paths with original")
	}
	if len(task.Runs[1]) != 1 {
		t.Errorf("clone shares run slices with original")
	}
}

func TestJob_Clone(t *testing.T) {
	job := &Job{Errors: []JobError{{Attempt: 1}}}
	clone := job.Clone()
	clone.Errors[0].Attempt = 2
	clone.Errors = append(clone.Errors, JobError{Attempt: 3})

	if job.Errors[0].Attempt != 1 || len(job.Errors) != 1 {
		t.Errorf("clone shares errors with original: %+v", job.Errors)
	}
}
