package domain

import (
	"time"
)

// TaskIDsRequest is the body of every bulk command endpoint.
type TaskIDsRequest struct {
	IDs []int `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// CreateDownloadRequest describes one requested media item and its server.
type CreateDownloadRequest struct {
	PlexServerID            int                 `json:"plex_server_id" validate:"gt=0"`
	PlexLibraryID           int                 `json:"plex_library_id" validate:"gt=0"`
	ServerMachineIdentifier string              `json:"server_machine_identifier" validate:"required"`
	DestinationDirectory    string              `json:"destination_directory"`
	Root                    DownloadNodeRequest `json:"root" validate:"required"`
}

// DownloadNodeRequest is a node of the requested tree. Leaves carry a download URL.
type DownloadNodeRequest struct {
	Title       string                `json:"title" validate:"required"`
	MediaType   MediaType             `json:"media_type" validate:"required,oneof=movie tvShow season episode"`
	DownloadURL string                `json:"download_url,omitempty" validate:"omitempty,url"`
	FileName    string                `json:"file_name,omitempty"`
	Children    []DownloadNodeRequest `json:"children,omitempty" validate:"dive"`
}

// CreateDownloadTasksRequest is the body of POST /downloads.
type CreateDownloadTasksRequest struct {
	Items []CreateDownloadRequest `json:"items" validate:"required,min=1,dive"`
}

// DownloadTaskResponse is the nested read model of a task tree.
type DownloadTaskResponse struct {
	ID             int                     `json:"id"`
	Title          string                  `json:"title"`
	MediaType      MediaType               `json:"media_type"`
	DownloadStatus DownloadStatus          `json:"download_status"`
	DataReceived   int64                   `json:"data_received"`
	DataTotal      int64                   `json:"data_total"`
	PlexServerID   int                     `json:"plex_server_id"`
	Children       []*DownloadTaskResponse `json:"children,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// NewDownloadTaskResponse maps the subtree rooted at id.
func NewDownloadTaskResponse(tree *TaskTree, id int) *DownloadTaskResponse {
	task, ok := tree.Get(id)
	if !ok {
		return nil
	}
	resp := &DownloadTaskResponse{
		ID:             task.ID,
		Title:          task.Title,
		MediaType:      task.MediaType,
		DownloadStatus: task.DownloadStatus,
		DataReceived:   task.DataReceived,
		DataTotal:      task.DataTotal,
		PlexServerID:   task.PlexServerID,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
	for _, cid := range task.ChildIDs {
		if child := NewDownloadTaskResponse(tree, cid); child != nil {
			resp.Children = append(resp.Children, child)
		}
	}
	return resp
}
