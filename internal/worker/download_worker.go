package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
	"github.com/veranemoloko/download-orchestrator/internal/storage"
)

// StatusReporter receives leaf status and progress changes. Every change goes
// through it so the tree is recomputed and saved under the tree lock.
type StatusReporter interface {
	ReportStatus(ctx context.Context, taskID int, status domain.DownloadStatus) error
	ReportProgress(ctx context.Context, taskID int, received, total int64) error
}

// TaskReader loads task trees.
type TaskReader interface {
	GetTree(ctx context.Context, id int) (*domain.TaskTree, error)
}

// DownloadResult describes one finished or failed file transfer.
type DownloadResult struct {
	URL       string
	FileName  string
	BytesRead int64
	Total     int64
	Success   bool
	Error     string
}

// ProgressFunc is called while bytes arrive. total is -1 when unknown.
type ProgressFunc func(received, total int64)

// DownloadWorker executes download jobs. It fetches every queued leaf of the
// job's subtree, one at a time, into the download storage.
type DownloadWorker struct {
	tasks            TaskReader
	reporter         StatusReporter
	fileStorage      *storage.FileStorage
	httpClient       *http.Client
	publisher        events.Publisher
	logger           *slog.Logger
	progressInterval time.Duration
}

// NewDownloadWorker creates a new DownloadWorker. timeout bounds one file transfer.
func NewDownloadWorker(
	tasks TaskReader,
	reporter StatusReporter,
	fileStorage *storage.FileStorage,
	publisher events.Publisher,
	timeout time.Duration,
	logger *slog.Logger,
) *DownloadWorker {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &DownloadWorker{
		tasks:            tasks,
		reporter:         reporter,
		fileStorage:      fileStorage,
		httpClient:       &http.Client{Timeout: timeout},
		publisher:        publisher,
		logger:           logger,
		progressInterval: time.Second,
	}
}

// Execute downloads the subtree of job.TaskID. It returns ctx.Err() when the job
// is cancelled, leaving status changes to whoever cancelled it.
func (w *DownloadWorker) Execute(ctx context.Context, job scheduler.Job) error {
	tree, err := w.tasks.GetTree(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", job.TaskID, err)
	}

	for _, leaf := range tree.Leaves(job.TaskID) {
		// paused, stopped and finished leaves are left alone
		if leaf.DownloadStatus != domain.DownloadStatusQueued && leaf.DownloadStatus != domain.DownloadStatusDownloading {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.downloadLeaf(ctx, leaf); err != nil {
			return err
		}
	}
	return nil
}

// OnFinish publishes the follow-up of a download job. It runs after the job has
// left the scheduler's active set, so admission sees the server as free.
func (w *DownloadWorker) OnFinish(ctx context.Context, job scheduler.Job, status domain.JobStatus, err error) {
	var evt domain.Event
	switch status {
	case domain.JobStatusCompleted:
		evt = domain.DownloadTaskFinished{TaskID: job.TaskID, ServerID: job.ServerID}
	case domain.JobStatusFailed:
		evt = domain.CheckDownloadQueue{ServerID: job.ServerID}
	default:
		return
	}
	if err := w.publisher.Publish(ctx, evt); err != nil {
		w.logger.Error("failed to publish download follow-up",
			"task_id", job.TaskID,
			"event", evt.EventType(),
			"error", err,
		)
	}
}

func (w *DownloadWorker) downloadLeaf(ctx context.Context, leaf *domain.DownloadTask) error {
	// detached so a failure can still be recorded once the job context is done
	reportCtx := context.WithoutCancel(ctx)

	if !leaf.IsDownloadable() {
		if err := w.reporter.ReportStatus(reportCtx, leaf.ID, domain.DownloadStatusError); err != nil {
			w.logger.Error("failed to report status", "task_id", leaf.ID, "error", err)
		}
		return fmt.Errorf("task %d has no download url", leaf.ID)
	}

	if err := w.reporter.ReportStatus(ctx, leaf.ID, domain.DownloadStatusDownloading); err != nil {
		return fmt.Errorf("report downloading for task %d: %w", leaf.ID, err)
	}

	var lastReport time.Time
	onProgress := func(received, total int64) {
		if time.Since(lastReport) < w.progressInterval {
			return
		}
		lastReport = time.Now()
		if err := w.reporter.ReportProgress(ctx, leaf.ID, received, total); err != nil {
			w.logger.Warn("failed to report progress", "task_id", leaf.ID, "error", err)
		}
	}

	metrics.DownloadsTotal.Inc()
	startTime := time.Now()
	result, err := w.DownloadURL(ctx, leaf.DownloadURL, storage.PartName(leaf.DownloadDirectory, leaf.FileName, 0), onProgress)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.DownloadsFailed.Inc()
		if rerr := w.reporter.ReportStatus(reportCtx, leaf.ID, domain.DownloadStatusError); rerr != nil {
			w.logger.Error("failed to report status", "task_id", leaf.ID, "error", rerr)
		}
		return fmt.Errorf("download task %d: %w", leaf.ID, err)
	}

	metrics.DownloadsSuccess.Inc()
	metrics.DownloadDuration.Observe(time.Since(startTime).Seconds())
	metrics.DownloadBytes.Add(float64(result.BytesRead))

	if err := w.reporter.ReportProgress(reportCtx, leaf.ID, result.BytesRead, result.BytesRead); err != nil {
		w.logger.Warn("failed to report progress", "task_id", leaf.ID, "error", err)
	}
	if err := w.reporter.ReportStatus(reportCtx, leaf.ID, domain.DownloadStatusDownloadFinished); err != nil {
		return fmt.Errorf("report finished for task %d: %w", leaf.ID, err)
	}

	w.logger.Info("download completed",
		"task_id", leaf.ID,
		"file_name", result.FileName,
		"bytes", result.BytesRead,
	)
	return nil
}

// DownloadURL downloads a single URL into filename, resuming a partial file when
// the server honours range requests.
func (w *DownloadWorker) DownloadURL(ctx context.Context, url, filename string, onProgress ProgressFunc) (DownloadResult, error) {
	result := DownloadResult{
		URL:      url,
		FileName: filename,
		Success:  false,
	}

	var existingSize int64 = 0
	if w.fileStorage.FileExists(filename) {
		size, err := w.fileStorage.GetFileSize(filename)
		if err == nil {
			existingSize = size
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		w.logger.Error("download failed",
			"url", url,
			"error", err,
		)
		return result, err
	}

	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		w.logger.Error("download request failed",
			"url", url,
			"error", err,
		)
		return result, err
	}
	defer resp.Body.Close()

	if existingSize > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		result.BytesRead = existingSize
		result.Total = existingSize
		result.Success = true
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Sprintf("bad status: %s", resp.Status)
		w.logger.Error("download failed",
			"url", url,
			"status", resp.Status,
		)
		return result, fmt.Errorf("bad status: %s", resp.Status)
	}

	if existingSize > 0 && resp.StatusCode != http.StatusPartialContent {
		existingSize = 0
	}

	result.Total = -1
	if resp.ContentLength >= 0 {
		result.Total = existingSize + resp.ContentLength
	}

	var file *os.File
	if existingSize > 0 {
		file, err = w.fileStorage.OpenFile(filename, os.O_WRONLY|os.O_APPEND)
		if err != nil {
			result.Error = fmt.Sprintf("open file for append: %v", err)
			w.logger.Error("download failed",
				"url", url,
				"error", err,
			)
			return result, err
		}
	} else {
		file, err = w.fileStorage.CreateFile(filename)
		if err != nil {
			result.Error = fmt.Sprintf("create file: %v", err)
			w.logger.Error("download failed",
				"url", url,
				"error", err,
			)
			return result, err
		}
	}
	defer file.Close()

	bytesRead, err := w.copyWithContext(ctx, file, resp.Body, func(n int64) {
		if onProgress != nil {
			onProgress(existingSize+n, result.Total)
		}
	})
	if err != nil {
		result.BytesRead = existingSize + bytesRead
		result.Error = fmt.Sprintf("copy data: %v", err)
		w.logger.Warn("download interrupted",
			"url", url,
			"bytes", result.BytesRead,
			"error", err,
		)
		return result, err
	}

	result.BytesRead = existingSize + bytesRead
	result.Success = true

	return result, nil
}

func (w *DownloadWorker) copyWithContext(ctx context.Context, dst *os.File, src io.Reader, progress func(int64)) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, err := dst.Write(buf[0:nr])
				if nw > 0 {
					total += int64(nw)
					progress(total)
				}
				if err != nil {
					return total, err
				}
				if nr != nw {
					return total, io.ErrShortWrite
				}
			}
			if err != nil {
				if err == io.EOF {
					return total, nil
				}
				return total, err
			}
		}
	}
}
