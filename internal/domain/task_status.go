package domain

// DownloadStatus represents the current state of a DownloadTask.
// The order of declaration reflects specificity, not magnitude.
type DownloadStatus string

const (
	DownloadStatusQueued           DownloadStatus = "queued"
	DownloadStatusDownloading      DownloadStatus = "downloading"
	DownloadStatusPaused           DownloadStatus = "paused"
	DownloadStatusStopped          DownloadStatus = "stopped"
	DownloadStatusError            DownloadStatus = "error"
	DownloadStatusDownloadFinished DownloadStatus = "downloadFinished"
	DownloadStatusMerging          DownloadStatus = "merging"
	DownloadStatusCompleted        DownloadStatus = "completed"
)

// String returns the string representation of DownloadStatus.
func (s DownloadStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the declared statuses.
func (s DownloadStatus) Valid() bool {
	switch s {
	case DownloadStatusQueued, DownloadStatusDownloading, DownloadStatusPaused, DownloadStatusStopped,
		DownloadStatusError, DownloadStatusDownloadFinished, DownloadStatusMerging, DownloadStatusCompleted:
		return true
	}
	return false
}

// IsTerminal returns true for Completed and Error. Error only leaves through an explicit restart.
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusError
}

// IsStartable returns true if a download job may be started from this status.
func (s DownloadStatus) IsStartable() bool {
	return s == DownloadStatusQueued || s == DownloadStatusPaused || s == DownloadStatusStopped
}

// IsFinishedDownloading returns true once the bytes are on disk.
func (s DownloadStatus) IsFinishedDownloading() bool {
	return s == DownloadStatusDownloadFinished || s == DownloadStatusMerging || s == DownloadStatusCompleted
}

// IsActive returns true while a worker is operating on the task.
func (s DownloadStatus) IsActive() bool {
	return s == DownloadStatusDownloading || s == DownloadStatusMerging
}

// Aggregate derives a parent status from its children's statuses.
// An empty input yields "" and the caller keeps its own leaf status.
//
// Precedence: Error, then any active child (Downloading), then all Completed,
// then all finished downloading (DownloadFinished), then Paused, then all
// Stopped, otherwise Queued. A mix of Paused and Stopped resolves to Paused.
func Aggregate(statuses []DownloadStatus) DownloadStatus {
	if len(statuses) == 0 {
		return ""
	}

	anyActive, anyPaused := false, false
	allCompleted, allFinished, allStopped := true, true, true
	for _, s := range statuses {
		if s == DownloadStatusError {
			return DownloadStatusError
		}
		if s.IsActive() {
			anyActive = true
		}
		if s == DownloadStatusPaused {
			anyPaused = true
		}
		if s != DownloadStatusCompleted {
			allCompleted = false
		}
		if !s.IsFinishedDownloading() {
			allFinished = false
		}
		if s != DownloadStatusStopped {
			allStopped = false
		}
	}

	switch {
	case anyActive:
		return DownloadStatusDownloading
	case allCompleted:
		return DownloadStatusCompleted
	case allFinished:
		return DownloadStatusDownloadFinished
	case anyPaused:
		return DownloadStatusPaused
	case allStopped:
		return DownloadStatusStopped
	default:
		return DownloadStatusQueued
	}
}
