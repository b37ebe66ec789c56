package service

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
)

// CreateDownloadTasks validates the requested trees, assigns ids and stores every
// tree with all leaves Queued. Admission is asked once per affected server.
func (s *DownloadCommands) CreateDownloadTasks(ctx context.Context, req domain.CreateDownloadTasksRequest) ([]*domain.DownloadTaskResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errpkg.Validation("invalid download request", err)
	}
	for i := range req.Items {
		if err := s.validateNode(req.Items[i].Root); err != nil {
			return nil, err
		}
	}

	servers := make(map[int]struct{})
	out := make([]*domain.DownloadTaskResponse, 0, len(req.Items))
	for _, item := range req.Items {
		tree, err := s.buildRequestedTree(ctx, item)
		if err != nil {
			return out, err
		}
		if err := s.save(ctx, tree, tree.RootID); err != nil {
			return out, err
		}

		metrics.TasksCreated.Add(float64(tree.Len()))
		servers[item.PlexServerID] = struct{}{}
		out = append(out, domain.NewDownloadTaskResponse(tree, tree.RootID))
		s.logger.Info("download task created",
			"task_id", tree.RootID,
			"title", tree.Root().Title,
			"server_id", item.PlexServerID,
			"tasks", tree.Len(),
		)
	}

	for serverID := range servers {
		s.publish(ctx, domain.CheckDownloadQueue{ServerID: serverID})
	}
	return out, nil
}

// validateNode checks that only leaves carry a download url and that every url is allowed.
func (s *DownloadCommands) validateNode(node domain.DownloadNodeRequest) error {
	if len(node.Children) == 0 {
		if err := s.urls.ValidateURLs([]string{node.DownloadURL}); err != nil {
			return errpkg.Validation(fmt.Sprintf("leaf %q has no usable download url", node.Title), err)
		}
		return nil
	}
	if node.DownloadURL != "" {
		return errpkg.Validation(fmt.Sprintf("node %q has children and a download url", node.Title), nil)
	}
	for _, child := range node.Children {
		if err := s.validateNode(child); err != nil {
			return err
		}
	}
	return nil
}

func (s *DownloadCommands) buildRequestedTree(ctx context.Context, item domain.CreateDownloadRequest) (*domain.TaskTree, error) {
	root, err := s.newTask(ctx, item.Root)
	if err != nil {
		return nil, err
	}
	root.DownloadDirectory = strconv.Itoa(root.ID)
	root.DestinationDirectory = filepath.Join(item.DestinationDirectory, sanitizeName(root.Title))

	tree := domain.NewTaskTree(root)
	if err := s.attachChildren(ctx, tree, root, item.Root.Children); err != nil {
		return nil, err
	}

	tree.SetRootID(root.ID)
	tree.SetIDs(item.PlexServerID, item.PlexLibraryID, item.ServerMachineIdentifier)
	tree.SetLeafStatus(root.ID, domain.DownloadStatusQueued, nil)
	return tree, nil
}

// attachChildren adds nodes in pre-order, so ids grow from parent to child.
func (s *DownloadCommands) attachChildren(ctx context.Context, tree *domain.TaskTree, parent *domain.DownloadTask, nodes []domain.DownloadNodeRequest) error {
	for _, node := range nodes {
		task, err := s.newTask(ctx, node)
		if err != nil {
			return err
		}
		task.DownloadDirectory = filepath.Join(parent.DownloadDirectory, strconv.Itoa(task.ID))
		if len(node.Children) > 0 {
			task.DestinationDirectory = filepath.Join(parent.DestinationDirectory, sanitizeName(task.Title))
		} else {
			task.DestinationDirectory = parent.DestinationDirectory
		}

		if err := tree.Attach(parent.ID, task); err != nil {
			return errpkg.Validation("invalid task tree", err)
		}
		if err := s.attachChildren(ctx, tree, task, node.Children); err != nil {
			return err
		}
	}
	return nil
}

func (s *DownloadCommands) newTask(ctx context.Context, node domain.DownloadNodeRequest) (*domain.DownloadTask, error) {
	id, err := s.repo.NextID(ctx)
	if err != nil {
		return nil, errpkg.Store("failed to allocate task id", err)
	}
	task := &domain.DownloadTask{
		ID:             id,
		Title:          node.Title,
		MediaType:      node.MediaType,
		DownloadURL:    node.DownloadURL,
		DownloadStatus: domain.DownloadStatusQueued,
	}
	if len(node.Children) == 0 {
		task.FileName = leafFileName(node, id)
	}
	return task, nil
}

func leafFileName(node domain.DownloadNodeRequest, id int) string {
	if name := sanitizeName(node.FileName); name != "" {
		return name
	}
	if u, err := url.Parse(node.DownloadURL); err == nil {
		if base := sanitizeName(path.Base(u.Path)); base != "" && base != "." {
			return base
		}
	}
	return fmt.Sprintf("%d.bin", id)
}

var nameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// sanitizeName turns a title into a single path element.
func sanitizeName(name string) string {
	name = strings.TrimSpace(nameReplacer.Replace(name))
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// GetDownloadTasks returns every stored tree, lowest root id first.
func (s *DownloadCommands) GetDownloadTasks(ctx context.Context) ([]*domain.DownloadTaskResponse, error) {
	roots, err := s.repo.FindAll(ctx, func(t *domain.DownloadTask) bool { return t.IsRoot() })
	if err != nil {
		return nil, errpkg.Store("failed to list download tasks", err)
	}

	out := make([]*domain.DownloadTaskResponse, 0, len(roots))
	for _, root := range roots {
		tree, err := s.repo.GetTree(ctx, root.ID)
		if err != nil {
			return nil, s.repoError(root.ID, err)
		}
		out = append(out, domain.NewDownloadTaskResponse(tree, root.ID))
	}
	return out, nil
}

// GetDownloadTask returns the subtree rooted at id.
func (s *DownloadCommands) GetDownloadTask(ctx context.Context, id int) (*domain.DownloadTaskResponse, error) {
	tree, err := s.repo.GetTree(ctx, id)
	if err != nil {
		return nil, s.repoError(id, err)
	}
	return domain.NewDownloadTaskResponse(tree, id), nil
}
