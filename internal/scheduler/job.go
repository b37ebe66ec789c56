package scheduler

import (
	"context"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
)

// JobKind tags the variant of a Job and selects its executor.
type JobKind string

const (
	KindDownload       JobKind = "download"
	KindMerge          JobKind = "merge"
	KindInspect        JobKind = "inspect"
	KindRefreshAccount JobKind = "refreshAccount"
)

// Job is a unit of background work bound to one task id (or server id for
// inspection kinds). Payload is kind specific.
type Job struct {
	Kind     JobKind
	TaskID   int
	ServerID int
	Payload  any
}

// Executor runs jobs of one kind. Execute must return promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// FinishFunc is called after a job left the active set.
type FinishFunc func(ctx context.Context, job Job, status domain.JobStatus, err error)

// PoolConfig sizes the worker pool of one kind.
type PoolConfig struct {
	Workers   int
	QueueSize int
	// Rate limits job starts per second; zero or less disables limiting.
	Rate     float64
	Burst    int
	OnFinish FinishFunc
}

type jobKey struct {
	kind JobKind
	id   int
}
