package domain

import (
	"time"
)

// MediaType describes what a DownloadTask node represents. It fixes the depth of a tree.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeTvShow  MediaType = "tvShow"
	MediaTypeSeason  MediaType = "season"
	MediaTypeEpisode MediaType = "episode"
)

// DownloadTask is a node in a tree of download work. Relations are stored as ids,
// the nodes themselves live in a TaskTree arena.
type DownloadTask struct {
	ID                 int       `json:"id"`
	RootDownloadTaskID int       `json:"root_download_task_id"`
	ParentID           int       `json:"parent_id,omitempty"`
	ChildIDs           []int     `json:"child_ids,omitempty"`
	Title              string    `json:"title"`
	MediaType          MediaType `json:"media_type"`

	DownloadURL          string `json:"download_url,omitempty"`
	FileName             string `json:"file_name,omitempty"`
	DownloadDirectory    string `json:"download_directory"`
	DestinationDirectory string `json:"destination_directory"`

	DataReceived   int64          `json:"data_received"`
	DataTotal      int64          `json:"data_total"`
	DownloadStatus DownloadStatus `json:"download_status"`

	PlexServerID            int    `json:"plex_server_id"`
	PlexLibraryID           int    `json:"plex_library_id"`
	ServerMachineIdentifier string `json:"server_machine_identifier"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the task is the top of its tree.
func (t *DownloadTask) IsRoot() bool {
	return t.ParentID == 0
}

// IsLeaf reports whether the task has no children.
func (t *DownloadTask) IsLeaf() bool {
	return len(t.ChildIDs) == 0
}

// IsDownloadable reports whether a worker can fetch bytes for this task.
func (t *DownloadTask) IsDownloadable() bool {
	return t.IsLeaf() && t.DownloadURL != ""
}

// Clone returns a deep copy so stores never share nodes with callers.
func (t *DownloadTask) Clone() *DownloadTask {
	c := *t
	if t.ChildIDs != nil {
		c.ChildIDs = append([]int(nil), t.ChildIDs...)
	}
	return &c
}
