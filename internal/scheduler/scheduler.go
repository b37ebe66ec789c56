package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
)

// Scheduler owns a fixed-size worker pool per job kind and enforces at most one
// active (queued or running) job per kind and task id.
type Scheduler struct {
	mu     sync.Mutex
	pools  map[JobKind]*pool
	active map[jobKey]*activeJob
	closed bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	publisher events.Publisher
	logger    *slog.Logger
}

type pool struct {
	kind     JobKind
	executor Executor
	queue    chan *activeJob
	limiter  *rate.Limiter
	onFinish FinishFunc
}

type activeJob struct {
	job       Job
	runID     string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// New creates a Scheduler. publisher may be nil.
func New(publisher events.Publisher, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pools:     make(map[JobKind]*pool),
		active:    make(map[jobKey]*activeJob),
		baseCtx:   ctx,
		cancelAll: cancel,
		publisher: publisher,
		logger:    logger,
	}
}

// Register installs the executor of kind and starts its workers.
func (s *Scheduler) Register(kind JobKind, executor Executor, cfg PoolConfig) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	var limiter *rate.Limiter
	if cfg.Rate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, burst)
	} else {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	p := &pool{
		kind:     kind,
		executor: executor,
		queue:    make(chan *activeJob, cfg.QueueSize),
		limiter:  limiter,
		onFinish: cfg.OnFinish,
	}

	s.mu.Lock()
	s.pools[kind] = p
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			for aj := range p.queue {
				s.run(workerID, p, aj)
			}
		}(i + 1)
	}

	s.logger.Info("job pool started", "kind", kind, "workers", cfg.Workers, "queue_size", cfg.QueueSize)
}

// Start enqueues job. It fails when a job of the same kind is already active for
// the task id, when the kind is unknown, when the queue is full or after Shutdown.
func (s *Scheduler) Start(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errpkg.JobScheduling(job.TaskID, "cannot start job", errpkg.ErrSchedulerClosed)
	}
	p, ok := s.pools[job.Kind]
	if !ok {
		return errpkg.JobScheduling(job.TaskID, fmt.Sprintf("cannot start %s job", job.Kind), errpkg.ErrNoExecutor)
	}
	key := jobKey{kind: job.Kind, id: job.TaskID}
	if _, exists := s.active[key]; exists {
		return errpkg.JobScheduling(job.TaskID, fmt.Sprintf("cannot start %s job", job.Kind), errpkg.ErrJobAlreadyActive)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	aj := &activeJob{
		job:    job,
		runID:  uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	select {
	case p.queue <- aj:
	default:
		cancel()
		return errpkg.JobScheduling(job.TaskID, fmt.Sprintf("cannot start %s job", job.Kind), errpkg.ErrQueueFull)
	}
	s.active[key] = aj

	metrics.JobsStarted.WithLabelValues(string(job.Kind)).Inc()
	metrics.ActiveJobs.WithLabelValues(string(job.Kind)).Inc()
	s.logger.Debug("job enqueued", "kind", job.Kind, "task_id", job.TaskID, "run_id", aj.runID)
	return nil
}

// Stop signals the active job of kind for taskID to cancel and returns without
// waiting. Cancellation is cooperative; use Wait to observe teardown.
func (s *Scheduler) Stop(kind JobKind, taskID int) error {
	s.mu.Lock()
	aj, ok := s.active[jobKey{kind: kind, id: taskID}]
	s.mu.Unlock()

	if !ok {
		return errpkg.JobScheduling(taskID, fmt.Sprintf("cannot stop %s job", kind), errpkg.ErrJobNotFound)
	}
	aj.cancel()
	s.logger.Debug("job cancellation requested", "kind", kind, "task_id", taskID, "run_id", aj.runID)
	return nil
}

// Wait blocks until the job of kind for taskID is no longer active.
func (s *Scheduler) Wait(ctx context.Context, kind JobKind, taskID int) error {
	s.mu.Lock()
	aj, ok := s.active[jobKey{kind: kind, id: taskID}]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-aj.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive reports whether a job of kind is queued or running for taskID.
func (s *Scheduler) IsActive(kind JobKind, taskID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[jobKey{kind: kind, id: taskID}]
	return ok
}

// ActiveJobs returns the active jobs of kind.
func (s *Scheduler) ActiveJobs(kind JobKind) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for key, aj := range s.active {
		if key.kind == kind {
			jobs = append(jobs, aj.job)
		}
	}
	return jobs
}

// HasActiveForServer reports whether any job of kind is active for serverID.
func (s *Scheduler) HasActiveForServer(kind JobKind, serverID int) bool {
	for _, job := range s.ActiveJobs(kind) {
		if job.ServerID == serverID {
			return true
		}
	}
	return false
}

func (s *Scheduler) run(workerID int, p *pool, aj *activeJob) {
	var err error
	if err = p.limiter.Wait(aj.ctx); err == nil {
		if err = aj.ctx.Err(); err == nil {
			aj.startedAt = time.Now()
			s.publishStatus(aj, domain.JobStatusStarted)
			err = s.execute(p, aj)
		}
	}

	status := domain.JobStatusCompleted
	switch {
	case err == nil:
	case aj.ctx.Err() != nil || errors.Is(err, context.Canceled):
		status = domain.JobStatusCancelled
	default:
		status = domain.JobStatusFailed
	}

	s.mu.Lock()
	key := jobKey{kind: aj.job.Kind, id: aj.job.TaskID}
	if s.active[key] == aj {
		delete(s.active, key)
	}
	s.mu.Unlock()
	aj.cancel()
	close(aj.done)

	metrics.ActiveJobs.WithLabelValues(string(aj.job.Kind)).Dec()
	metrics.JobsFinished.WithLabelValues(string(aj.job.Kind), string(status)).Inc()

	if status == domain.JobStatusFailed {
		s.logger.Error("job failed",
			"worker_id", workerID,
			"kind", aj.job.Kind,
			"task_id", aj.job.TaskID,
			"error", err,
		)
	} else {
		s.logger.Info("job finished",
			"worker_id", workerID,
			"kind", aj.job.Kind,
			"task_id", aj.job.TaskID,
			"status", status,
		)
	}

	s.publishStatus(aj, status)
	if p.onFinish != nil {
		p.onFinish(context.Background(), aj.job, status, err)
	}
}

func (s *Scheduler) execute(p *pool, aj *activeJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s job panicked: %v", aj.job.Kind, r)
		}
	}()
	return p.executor.Execute(aj.ctx, aj.job)
}

func (s *Scheduler) publishStatus(aj *activeJob, status domain.JobStatus) {
	if s.publisher == nil {
		return
	}
	var runtime time.Duration
	if !aj.startedAt.IsZero() {
		runtime = time.Since(aj.startedAt)
	}
	update := domain.JobStatusUpdate{
		ID:         aj.runID,
		JobName:    fmt.Sprintf("%s-%d", aj.job.Kind, aj.job.TaskID),
		JobGroup:   string(aj.job.Kind),
		TaskID:     aj.job.TaskID,
		Status:     status,
		StartTime:  aj.startedAt,
		JobRuntime: runtime,
	}
	if err := s.publisher.Publish(context.Background(), update); err != nil {
		s.logger.Warn("failed to publish job status", "run_id", aj.runID, "error", err)
	}
}

// Shutdown cancels every active job, stops accepting new ones and waits for workers.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down scheduler")

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cancelAll()
		for _, p := range s.pools {
			close(p.queue)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}
