package repository

import (
	"context"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
)

// TaskRepo defines the durable store for download task trees. Returned tasks are
// copies; changes become visible only through SaveTree.
type TaskRepo interface {
	// NextID reserves a fresh task id.
	NextID(ctx context.Context) (int, error)
	GetTask(ctx context.Context, id int) (*domain.DownloadTask, error)
	// GetTree returns the subtree rooted at id.
	GetTree(ctx context.Context, id int) (*domain.TaskTree, error)
	// GetRootTree returns the whole tree containing id.
	GetRootTree(ctx context.Context, id int) (*domain.TaskTree, error)
	// FindAll returns every task accepted by match, ordered by id.
	FindAll(ctx context.Context, match func(*domain.DownloadTask) bool) ([]*domain.DownloadTask, error)
	// SaveTree upserts every node of tree.
	SaveTree(ctx context.Context, tree *domain.TaskTree) error
	// DeleteTree removes id and all its descendants and returns the removed ids.
	DeleteTree(ctx context.Context, id int) ([]int, error)
}
