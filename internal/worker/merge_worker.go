package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
	"github.com/veranemoloko/download-orchestrator/internal/storage"
)

// MergeWorker executes merge jobs. The job payload is a *domain.FileTask.
type MergeWorker struct {
	downloads    *storage.FileStorage
	destinations *storage.FileStorage
	publisher    events.Publisher
	logger       *slog.Logger
}

func NewMergeWorker(downloads, destinations *storage.FileStorage, publisher events.Publisher, logger *slog.Logger) *MergeWorker {
	return &MergeWorker{
		downloads:    downloads,
		destinations: destinations,
		publisher:    publisher,
		logger:       logger,
	}
}

// Execute merges the parts of every file of the job. Files already merged by an
// earlier run (no parts left, destination present) are skipped.
func (w *MergeWorker) Execute(ctx context.Context, job scheduler.Job) error {
	fileTask, ok := job.Payload.(*domain.FileTask)
	if !ok || fileTask == nil {
		return fmt.Errorf("merge job for task %d has no file task", job.TaskID)
	}

	for _, f := range fileTask.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		dst := w.destinations.Path(f.DestinationPath)
		parts, err := w.downloads.ListParts(f.DownloadDirectory, f.FileName)
		if err != nil {
			return fmt.Errorf("list parts of task %d: %w", f.TaskID, err)
		}
		if len(parts) == 0 {
			if w.destinations.FileExists(f.DestinationPath) {
				continue
			}
			return fmt.Errorf("no downloaded parts for task %d", f.TaskID)
		}

		n, err := w.downloads.MergeFiles(ctx, dst, parts)
		if err != nil {
			return fmt.Errorf("merge task %d: %w", f.TaskID, err)
		}
		if err := w.downloads.RemoveFiles(parts); err != nil {
			w.logger.Warn("failed to remove merged parts", "task_id", f.TaskID, "error", err)
		}

		w.logger.Info("file merged",
			"task_id", f.TaskID,
			"destination", dst,
			"parts", len(parts),
			"bytes", n,
		)
	}
	return nil
}

// OnFinish reports the merge outcome. Cancelled merges report nothing.
func (w *MergeWorker) OnFinish(ctx context.Context, job scheduler.Job, status domain.JobStatus, err error) {
	evt := domain.FileMergeFinished{TaskID: job.TaskID, ServerID: job.ServerID}
	switch status {
	case domain.JobStatusCompleted:
		metrics.MergesTotal.WithLabelValues("success").Inc()
	case domain.JobStatusFailed:
		metrics.MergesTotal.WithLabelValues("failed").Inc()
		if err != nil {
			evt.Error = err.Error()
		} else {
			evt.Error = "merge failed"
		}
	default:
		return
	}

	if perr := w.publisher.Publish(ctx, evt); perr != nil {
		w.logger.Error("failed to publish merge result", "task_id", job.TaskID, "error", perr)
	}
}
