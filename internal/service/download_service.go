package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/repository"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
)

// QueueCommands is the part of DownloadCommands the queue drives.
type QueueCommands interface {
	Start(ctx context.Context, ids []int) (*domain.CommandResult, error)
	RecomputeRootStatus(ctx context.Context, id int) (domain.DownloadStatus, error)
}

// DownloadQueue is admission control: at most one active download job per
// server, the next queued root admitted in id order.
type DownloadQueue struct {
	repo      repository.TaskRepo
	jobs      JobScheduler
	commands  QueueCommands
	publisher events.Publisher
	logger    *slog.Logger

	mu sync.Mutex
}

func NewDownloadQueue(repo repository.TaskRepo, jobs JobScheduler, commands QueueCommands, publisher events.Publisher, logger *slog.Logger) *DownloadQueue {
	return &DownloadQueue{
		repo:      repo,
		jobs:      jobs,
		commands:  commands,
		publisher: publisher,
		logger:    logger,
	}
}

// CheckServer admits the next queued download of serverID when the server has no
// active download. It returns the admitted task id, or 0.
func (q *DownloadQueue) CheckServer(ctx context.Context, serverID int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.jobs.HasActiveForServer(scheduler.KindDownload, serverID) {
		q.logger.Debug("server busy, nothing admitted", "server_id", serverID)
		return 0, nil
	}

	queued, err := q.repo.FindAll(ctx, func(t *domain.DownloadTask) bool {
		return t.IsRoot() && t.PlexServerID == serverID && t.DownloadStatus == domain.DownloadStatusQueued
	})
	if err != nil {
		return 0, errpkg.Store("failed to find queued downloads", err)
	}

	for _, task := range queued {
		if _, err := q.commands.Start(ctx, []int{task.ID}); err != nil {
			q.logger.Warn("queued download not admitted", "task_id", task.ID, "server_id", serverID, "error", err)
			if errpkg.Is(err, errpkg.KindStore) {
				return 0, err
			}
			continue
		}
		q.logger.Info("download admitted", "task_id", task.ID, "server_id", serverID)
		return task.ID, nil
	}
	return 0, nil
}

// HandleCheckDownloadQueue is the bus handler for CheckDownloadQueue.
func (q *DownloadQueue) HandleCheckDownloadQueue(ctx context.Context, evt domain.Event) error {
	e, ok := evt.(domain.CheckDownloadQueue)
	if !ok {
		return fmt.Errorf("unexpected event %T", evt)
	}
	_, err := q.CheckServer(ctx, e.ServerID)
	return err
}

// Subscribe registers the queue handler on bus.
func (q *DownloadQueue) Subscribe(bus *events.Bus) {
	bus.Subscribe(domain.EventCheckDownloadQueue, q.HandleCheckDownloadQueue)
}

// Recover repairs trees left mid-flight by a previous process. Downloading leaves
// go back to Queued, interrupted merges back to DownloadFinished and are
// re-announced, every root status is re-aggregated, then every server with work
// is checked.
func (q *DownloadQueue) Recover(ctx context.Context) error {
	roots, err := q.repo.FindAll(ctx, func(t *domain.DownloadTask) bool { return t.IsRoot() })
	if err != nil {
		return fmt.Errorf("failed to get download tasks: %w", err)
	}

	servers := make(map[int]struct{})
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}

		tree, err := q.repo.GetTree(ctx, root.ID)
		if err != nil {
			q.logger.Error("failed to load task for recovery", "task_id", root.ID, "error", err)
			continue
		}

		changed := tree.SetLeafStatus(root.ID, domain.DownloadStatusQueued, func(s domain.DownloadStatus) bool {
			return s == domain.DownloadStatusDownloading
		})
		changed = append(changed, tree.SetLeafStatus(root.ID, domain.DownloadStatusDownloadFinished, func(s domain.DownloadStatus) bool {
			return s == domain.DownloadStatusMerging
		})...)
		if len(changed) > 0 {
			if err := q.repo.SaveTree(ctx, tree); err != nil {
				q.logger.Error("failed to recover task", "task_id", root.ID, "error", err)
				continue
			}
			q.logger.Info("task recovered", "task_id", root.ID, "leaves", len(changed))
		}

		status, err := q.commands.RecomputeRootStatus(ctx, root.ID)
		if err != nil {
			q.logger.Error("failed to recompute root status", "task_id", root.ID, "error", err)
			continue
		}

		switch status {
		case domain.DownloadStatusDownloadFinished:
			q.announceFinished(ctx, root)
		case domain.DownloadStatusQueued:
			servers[root.PlexServerID] = struct{}{}
		}
	}

	ids := make([]int, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if _, err := q.CheckServer(ctx, id); err != nil {
			q.logger.Error("failed to check server queue", "server_id", id, "error", err)
		}
	}
	return nil
}

// Sweep runs SweepOnce on each tick until ctx is done.
func (q *DownloadQueue) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.SweepOnce(ctx)
		}
	}
}

// SweepOnce re-checks every server with queued work and re-announces finished
// downloads whose merge never started, so a lost event or a refused merge job
// never stalls a task.
func (q *DownloadQueue) SweepOnce(ctx context.Context) {
	roots, err := q.repo.FindAll(ctx, func(t *domain.DownloadTask) bool {
		return t.IsRoot() && (t.DownloadStatus == domain.DownloadStatusQueued ||
			t.DownloadStatus == domain.DownloadStatusDownloadFinished)
	})
	if err != nil {
		q.logger.Warn("queue sweep failed", "error", err)
		return
	}

	seen := make(map[int]struct{})
	for _, t := range roots {
		if t.DownloadStatus == domain.DownloadStatusDownloadFinished {
			if !q.jobs.IsActive(scheduler.KindMerge, t.ID) && !q.jobs.IsActive(scheduler.KindDownload, t.ID) {
				q.announceFinished(ctx, t)
			}
			continue
		}
		if _, ok := seen[t.PlexServerID]; ok {
			continue
		}
		seen[t.PlexServerID] = struct{}{}
		if _, err := q.CheckServer(ctx, t.PlexServerID); err != nil {
			q.logger.Warn("queue sweep check failed", "server_id", t.PlexServerID, "error", err)
		}
	}
}

func (q *DownloadQueue) announceFinished(ctx context.Context, root *domain.DownloadTask) {
	evt := domain.DownloadTaskFinished{TaskID: root.ID, ServerID: root.PlexServerID}
	if err := q.publisher.Publish(ctx, evt); err != nil {
		q.logger.Warn("failed to republish finished download", "task_id", root.ID, "error", err)
	}
}
