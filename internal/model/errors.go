package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyPublishing  = errors.New("post is already publishing")
	ErrIneligiblePlatform = errors.New("post does not target instagram")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrNoMedia            = errors.New("post has no media")
)

// SubmissionError means the backend rejected a generation request.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("submission rejected: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is a transient failure while refreshing a job; it is retried on the next tick.
type PollError struct {
	JobID string
	Err   error
}

func (e *PollError) Error() string { return fmt.Sprintf("poll job %s: %v", e.JobID, e.Err) }
func (e *PollError) Unwrap() error { return e.Err }

// JobFailedError is a terminal backend failure of a generation job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string { return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message) }

// RecoveryWriteError means a repair write-back did not persist.
type RecoveryWriteError struct {
	Kind   ContentKind
	ItemID string
	Err    error
}

func (e *RecoveryWriteError) Error() string {
	return fmt.Sprintf("repair %s %s: %v", e.Kind, e.ItemID, e.Err)
}
func (e *RecoveryWriteError) Unwrap() error { return e.Err }

// PublishStepError is a failure at one step of the publish state machine.
type PublishStepError struct {
	Step PublishStep
	Err  error
}

func (e *PublishStepError) Error() string { return fmt.Sprintf("publish step %s: %v", e.Step, e.Err) }
func (e *PublishStepError) Unwrap() error { return e.Err }
