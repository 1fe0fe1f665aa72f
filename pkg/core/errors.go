package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord marks a record whose required field is present but
	// cannot be parsed. It fails the owning task attempt.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrIncompleteRecord marks a record with an absent or empty field. Map
	// functions may return it to have the record skipped and counted.
	ErrIncompleteRecord = errors.New("incomplete record")

	// ErrSinkCommit fails the whole job without retrying the task.
	ErrSinkCommit = errors.New("sink commit failed")

	// ErrTaskTimeout is recorded for attempts that stopped reporting progress.
	ErrTaskTimeout = errors.New("task timed out")
)

// ConfigError is returned before any task is scheduled.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// TaskError describes a failed task attempt.
type TaskError struct {
	TaskID  string
	Type    string
	Index   int
	Attempt int
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task %d (attempt %d): %v", e.Type, e.Index, e.Attempt, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// JobError is the error returned for a job that ended in the FAILED state.
type JobError struct {
	JobID  string
	Reason string
	Err    error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
	}
	return fmt.Sprintf("job %s failed: %s: %v", e.JobID, e.Reason, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
