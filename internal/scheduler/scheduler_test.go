package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) statuses(taskID int) []domain.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.JobStatus
	for _, e := range p.events {
		if u, ok := e.(domain.JobStatusUpdate); ok && u.TaskID == taskID {
			out = append(out, u.Status)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

// blockingExecutor runs until its job is cancelled or released.
func blockingExecutor(started chan<- int, release <-chan struct{}) Executor {
	return ExecutorFunc(func(ctx context.Context, job Job) error {
		started <- job.TaskID
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	})
}

func shutdown(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestScheduler_AtMostOneJobPerTask(t *testing.T) {
	s := New(nil, newTestLogger())
	defer shutdown(t, s)

	started := make(chan int, 4)
	release := make(chan struct{})
	s.Register(KindDownload, blockingExecutor(started, release), PoolConfig{Workers: 2})

	require.NoError(t, s.Start(Job{Kind: KindDownload, TaskID: 1, ServerID: 9}))
	<-started

	err := s.Start(Job{Kind: KindDownload, TaskID: 1, ServerID: 9})
	require.Error(t, err)
	assert.True(t, errpkg.Is(err, errpkg.KindJobScheduling))
	assert.ErrorIs(t, err, errpkg.ErrJobAlreadyActive)

	assert.True(t, s.IsActive(KindDownload, 1))
	assert.True(t, s.HasActiveForServer(KindDownload, 9))
	assert.False(t, s.HasActiveForServer(KindDownload, 8))
	assert.Len(t, s.ActiveJobs(KindDownload), 1)

	close(release)
	waitFor(t, 2*time.Second, func() bool { return !s.IsActive(KindDownload, 1) })

	require.NoError(t, s.Start(Job{Kind: KindDownload, TaskID: 1}))
}

func TestScheduler_DifferentKindsSameTask(t *testing.T) {
	s := New(nil, newTestLogger())
	defer shutdown(t, s)

	started := make(chan int, 4)
	release := make(chan struct{})
	defer close(release)
	s.Register(KindDownload, blockingExecutor(started, release), PoolConfig{Workers: 1})
	s.Register(KindMerge, blockingExecutor(started, release), PoolConfig{Workers: 1})

	require.NoError(t, s.Start(Job{Kind: KindDownload, TaskID: 1}))
	require.NoError(t, s.Start(Job{Kind: KindMerge, TaskID: 1}))
}

func TestScheduler_StopCancelsCooperatively(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, newTestLogger())
	defer shutdown(t, s)

	started := make(chan int, 1)
	var finished atomic.Value
	s.Register(KindDownload, blockingExecutor(started, nil), PoolConfig{
		Workers: 1,
		OnFinish: func(ctx context.Context, job Job, status domain.JobStatus, err error) {
			finished.Store(status)
		},
	})

	require.NoError(t, s.Start(Job{Kind: KindDownload, TaskID: 5}))
	<-started

	require.NoError(t, s.Stop(KindDownload, 5))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, KindDownload, 5))
	assert.False(t, s.IsActive(KindDownload, 5))

	waitFor(t, time.Second, func() bool { return finished.Load() != nil })
	assert.Equal(t, domain.JobStatusCancelled, finished.Load())
	assert.Equal(t, []domain.JobStatus{domain.JobStatusStarted, domain.JobStatusCancelled}, pub.statuses(5))
}

func TestScheduler_StopUnknownJob(t *testing.T) {
	s := New(nil, newTestLogger())
	defer shutdown(t, s)

	err := s.Stop(KindDownload, 42)
	assert.ErrorIs(t, err, errpkg.ErrJobNotFound)
}

func TestScheduler_StartWithoutExecutor(t *testing.T) {
	s := New(nil, newTestLogger())
	defer shutdown(t, s)

	err := s.Start(Job{Kind: KindInspect, TaskID: 1})
	assert.ErrorIs(t, err, errpkg.ErrNoExecutor)
}

func TestScheduler_FailedJobReported(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(pub, newTestLogger())
	defer shutdown(t, s)

	var gotErr atomic.Value
	s.Register(KindMerge, ExecutorFunc(func(ctx context.Context, job Job) error {
		return errors.New("disk full")
	}), PoolConfig{
		Workers: 1,
		OnFinish: func(ctx context.Context, job Job, status domain.JobStatus, err error) {
			if status == domain.JobStatusFailed {
				gotErr.Store(err)
			}
		},
	})

	require.NoError(t, s.Start(Job{Kind: KindMerge, TaskID: 3}))
	waitFor(t, 2*time.Second, func() bool { return gotErr.Load() != nil })
	assert.EqualError(t, gotErr.Load().(error), "disk full")
}

func TestScheduler_PoolSizeBoundsConcurrency(t *testing.T) {
	s := New(nil, newTestLogger())
	defer shutdown(t, s)

	var running, peak atomic.Int32
	release := make(chan struct{})
	s.Register(KindDownload, ExecutorFunc(func(ctx context.Context, job Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer running.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}), PoolConfig{Workers: 2, QueueSize: 10})

	for id := 1; id <= 5; id++ {
		require.NoError(t, s.Start(Job{Kind: KindDownload, TaskID: id}))
	}
	waitFor(t, 2*time.Second, func() bool { return running.Load() == 2 })
	close(release)
	waitFor(t, 2*time.Second, func() bool { return len(s.ActiveJobs(KindDownload)) == 0 })

	assert.Equal(t, int32(2), peak.Load())
}

func TestScheduler_ShutdownRejectsNewJobs(t *testing.T) {
	s := New(nil, newTestLogger())
	started := make(chan int, 1)
	s.Register(KindDownload, blockingExecutor(started, nil), PoolConfig{Workers: 1})

	require.NoError(t, s.Start(Job{Kind: KindDownload, TaskID: 1}))
	<-started
	shutdown(t, s)

	err := s.Start(Job{Kind: KindDownload, TaskID: 2})
	assert.ErrorIs(t, err, errpkg.ErrSchedulerClosed)
}
