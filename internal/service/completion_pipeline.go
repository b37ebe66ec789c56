package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/repository"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
)

// MergeStatusWriter is the slice of DownloadCommands the merge flow drives.
type MergeStatusWriter interface {
	MarkMerging(ctx context.Context, id int) (bool, error)
	RevertMerging(ctx context.Context, id int) (bool, error)
	MarkCompleted(ctx context.Context, id int) (bool, error)
	MarkMergeFailed(ctx context.Context, id int) (bool, error)
}

// FileMergeScheduler turns a finished download into a merge job.
type FileMergeScheduler struct {
	repo     repository.TaskRepo
	jobs     JobScheduler
	statuses MergeStatusWriter
	logger   *slog.Logger
}

func NewFileMergeScheduler(repo repository.TaskRepo, jobs JobScheduler, statuses MergeStatusWriter, logger *slog.Logger) *FileMergeScheduler {
	return &FileMergeScheduler{repo: repo, jobs: jobs, statuses: statuses, logger: logger}
}

// CreateFileTask describes the merge of task id. The task must exist and be
// DownloadFinished.
func (m *FileMergeScheduler) CreateFileTask(ctx context.Context, id int) (*domain.FileTask, error) {
	tree, err := m.repo.GetTree(ctx, id)
	if errors.Is(err, errpkg.ErrTaskNotFound) {
		return nil, errpkg.NotFound(id, err)
	}
	if err != nil {
		return nil, errpkg.Store("failed to load task", err)
	}
	task, _ := tree.Get(id)
	if task.DownloadStatus != domain.DownloadStatusDownloadFinished {
		return nil, errpkg.JobScheduling(id, fmt.Sprintf("cannot merge task in status %s", task.DownloadStatus), nil)
	}
	return domain.NewFileTask(tree, id), nil
}

// StartFileMergeJob marks the task Merging and starts its merge job. The status
// is reverted when the job cannot be started.
func (m *FileMergeScheduler) StartFileMergeJob(ctx context.Context, fileTask *domain.FileTask) error {
	id := fileTask.DownloadTaskID
	ok, err := m.statuses.MarkMerging(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errpkg.JobScheduling(id, "task is no longer download finished", nil)
	}

	job := scheduler.Job{
		Kind:     scheduler.KindMerge,
		TaskID:   id,
		ServerID: fileTask.PlexServerID,
		Payload:  fileTask,
	}
	if err := m.jobs.Start(job); err != nil {
		if _, rerr := m.statuses.RevertMerging(ctx, id); rerr != nil {
			m.logger.Error("failed to revert merging status", "task_id", id, "error", rerr)
		}
		return asJobError(id, "cannot start merge job", err)
	}

	m.logger.Info("merge job started", "task_id", id, "files", len(fileTask.Files))
	return nil
}

// CompletionPipeline chains a finished download into its merge and re-admits
// the next queued download of the server.
type CompletionPipeline struct {
	merges    *FileMergeScheduler
	statuses  MergeStatusWriter
	publisher events.Publisher
	logger    *slog.Logger
}

func NewCompletionPipeline(merges *FileMergeScheduler, statuses MergeStatusWriter, publisher events.Publisher, logger *slog.Logger) *CompletionPipeline {
	return &CompletionPipeline{merges: merges, statuses: statuses, publisher: publisher, logger: logger}
}

// HandleDownloadTaskFinished creates and starts the merge job of the finished
// task, then asks admission control to look at its server. When the merge job
// cannot even be described nothing else happens and the error is returned.
func (p *CompletionPipeline) HandleDownloadTaskFinished(ctx context.Context, evt domain.DownloadTaskFinished) error {
	fileTask, err := p.merges.CreateFileTask(ctx, evt.TaskID)
	if err != nil {
		p.logger.Error("failed to create merge job", "task_id", evt.TaskID, "error", err)
		return err
	}

	startErr := p.merges.StartFileMergeJob(ctx, fileTask)
	if startErr != nil {
		p.logger.Error("failed to start merge job", "task_id", evt.TaskID, "error", startErr)
	}

	serverID := evt.ServerID
	if serverID == 0 {
		serverID = fileTask.PlexServerID
	}
	if err := p.publisher.Publish(ctx, domain.CheckDownloadQueue{ServerID: serverID}); err != nil {
		p.logger.Warn("failed to publish queue check", "server_id", serverID, "error", err)
	}
	return startErr
}

// HandleFileMergeFinished records the merge outcome on the task.
func (p *CompletionPipeline) HandleFileMergeFinished(ctx context.Context, evt domain.FileMergeFinished) error {
	if evt.Error != "" {
		p.logger.Error("merge failed", "task_id", evt.TaskID, "error", evt.Error)
		_, err := p.statuses.MarkMergeFailed(ctx, evt.TaskID)
		return err
	}

	done, err := p.statuses.MarkCompleted(ctx, evt.TaskID)
	if err != nil {
		return err
	}
	if done {
		p.logger.Info("download task completed", "task_id", evt.TaskID)
	}
	return nil
}

// Subscribe registers the pipeline handlers on bus.
func (p *CompletionPipeline) Subscribe(bus *events.Bus) {
	bus.Subscribe(domain.EventDownloadTaskFinished, func(ctx context.Context, evt domain.Event) error {
		e, ok := evt.(domain.DownloadTaskFinished)
		if !ok {
			return fmt.Errorf("unexpected event %T", evt)
		}
		return p.HandleDownloadTaskFinished(ctx, e)
	})
	bus.Subscribe(domain.EventFileMergeFinished, func(ctx context.Context, evt domain.Event) error {
		e, ok := evt.(domain.FileMergeFinished)
		if !ok {
			return fmt.Errorf("unexpected event %T", evt)
		}
		return p.HandleFileMergeFinished(ctx, e)
	})
}
