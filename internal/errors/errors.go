package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound     = errors.New("download task not found")
	ErrServerNotFound   = errors.New("plex server not found")
	ErrJobAlreadyActive = errors.New("job already active")
	ErrJobNotFound      = errors.New("job not found")
	ErrSchedulerClosed  = errors.New("scheduler is shutting down")
	ErrNoExecutor       = errors.New("no executor registered for job kind")
	ErrQueueFull        = errors.New("job queue is full")
)

// Kind classifies an orchestration failure.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFoundError"
	KindJobScheduling  Kind = "JobSchedulingError"
	KindProbeExhausted Kind = "ProbeExhaustedError"
	KindStore          Kind = "StoreError"
)

// Error is a structured failure entry. TaskID is zero when the failure is not
// bound to a single task.
type Error struct {
	Kind    Kind   `json:"kind"`
	TaskID  int    `json:"task_id,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.TaskID > 0 {
		msg = fmt.Sprintf("task %d: %s", e.TaskID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func NotFound(taskID int, err error) *Error {
	if err == nil {
		err = ErrTaskNotFound
	}
	return &Error{Kind: KindNotFound, TaskID: taskID, Message: "could not find download task", Err: err}
}

func JobScheduling(taskID int, msg string, err error) *Error {
	return &Error{Kind: KindJobScheduling, TaskID: taskID, Message: msg, Err: err}
}

func ProbeExhausted(serverID, attempts int, err error) *Error {
	return &Error{
		Kind:    KindProbeExhausted,
		Message: fmt.Sprintf("server %d unreachable after %d attempts", serverID, attempts),
		Err:     err,
	}
}

func Store(msg string, err error) *Error {
	return &Error{Kind: KindStore, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
