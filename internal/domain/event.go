package domain

import (
	"time"
)

// EventType names a message published on the notification bus.
type EventType string

const (
	EventDownloadTaskFinished EventType = "download_task_finished"
	EventDownloadTaskUpdated  EventType = "download_task_updated"
	EventCheckDownloadQueue   EventType = "check_download_queue"
	EventFileMergeFinished    EventType = "file_merge_finished"
	EventJobStatusUpdate      EventType = "job_status_update"
	EventServerProbeProgress  EventType = "server_probe_progress"
)

// Event is implemented by every message carried by the bus.
type Event interface {
	EventType() EventType
}

// DownloadTaskFinished is published by a download worker once every file of the task is on disk.
type DownloadTaskFinished struct {
	TaskID   int `json:"task_id"`
	ServerID int `json:"server_id"`
}

func (DownloadTaskFinished) EventType() EventType { return EventDownloadTaskFinished }

// DownloadTaskUpdated signals observers that a task changed.
type DownloadTaskUpdated struct {
	TaskID int            `json:"task_id"`
	Status DownloadStatus `json:"status"`
}

func (DownloadTaskUpdated) EventType() EventType { return EventDownloadTaskUpdated }

// CheckDownloadQueue asks admission control to re-evaluate one server.
type CheckDownloadQueue struct {
	ServerID int `json:"server_id"`
}

func (CheckDownloadQueue) EventType() EventType { return EventCheckDownloadQueue }

// FileMergeFinished is published by a merge worker.
type FileMergeFinished struct {
	TaskID   int    `json:"task_id"`
	ServerID int    `json:"server_id"`
	Error    string `json:"error,omitempty"`
}

func (FileMergeFinished) EventType() EventType { return EventFileMergeFinished }

// JobStatus is the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobStatusStarted   JobStatus = "started"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobStatusUpdate reports a job lifecycle change.
type JobStatusUpdate struct {
	ID         string        `json:"id"`
	JobName    string        `json:"job_name"`
	JobGroup   string        `json:"job_group"`
	TaskID     int           `json:"task_id"`
	Status     JobStatus     `json:"status"`
	StartTime  time.Time     `json:"start_time"`
	JobRuntime time.Duration `json:"job_runtime"`
}

func (JobStatusUpdate) EventType() EventType { return EventJobStatusUpdate }

// ServerProbeProgress is one connectivity attempt as observed by clients.
type ServerProbeProgress struct {
	ServerID             int           `json:"server_id"`
	RetryAttemptIndex    int           `json:"retry_attempt_index"`
	RetryAttemptCount    int           `json:"retry_attempt_count"`
	TimeToNextRetry      time.Duration `json:"time_to_next_retry"`
	StatusCode           int           `json:"status_code"`
	ConnectionSuccessful bool          `json:"connection_successful"`
	Completed            bool          `json:"completed"`
	Message              string        `json:"message,omitempty"`
}

func (ServerProbeProgress) EventType() EventType { return EventServerProbeProgress }
