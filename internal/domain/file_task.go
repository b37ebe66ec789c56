package domain

import (
	"path/filepath"
)

// FileTask describes the merge work for one finished download subtree.
type FileTask struct {
	DownloadTaskID int         `json:"download_task_id"`
	PlexServerID   int         `json:"plex_server_id"`
	Files          []MergeFile `json:"files"`
}

// MergeFile is one leaf whose downloaded parts become a final media file.
type MergeFile struct {
	TaskID            int    `json:"task_id"`
	DownloadDirectory string `json:"download_directory"`
	FileName          string `json:"file_name"`
	DestinationPath   string `json:"destination_path"`
}

// NewFileTask builds the merge description for the subtree rooted at id.
func NewFileTask(tree *TaskTree, id int) *FileTask {
	task, ok := tree.Get(id)
	if !ok {
		return nil
	}
	ft := &FileTask{DownloadTaskID: id, PlexServerID: task.PlexServerID}
	for _, leaf := range tree.Leaves(id) {
		ft.Files = append(ft.Files, MergeFile{
			TaskID:            leaf.ID,
			DownloadDirectory: leaf.DownloadDirectory,
			FileName:          leaf.FileName,
			DestinationPath:   filepath.Join(leaf.DestinationDirectory, leaf.FileName),
		})
	}
	return ft
}
