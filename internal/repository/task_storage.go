package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
)

// TaskStorage provides in-memory and file-based storage for task trees.
type TaskStorage struct {
	mu     sync.RWMutex
	tasks  map[int]*domain.DownloadTask
	lastID int
	file   string
}

type storageState struct {
	LastID int                    `json:"last_id"`
	Tasks  []*domain.DownloadTask `json:"tasks"`
}

// NewTaskStorage creates a new TaskStorage and loads tasks from the file if it exists.
func NewTaskStorage(filePath string) (*TaskStorage, error) {
	repo := &TaskStorage{
		tasks: make(map[int]*domain.DownloadTask),
		file:  filepath.Clean(filePath),
	}

	if err := repo.restoreTasks(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("File repository initialized", "file_path", repo.file, "tasks_count", len(repo.tasks))
	return repo, nil
}

func (r *TaskStorage) restoreTasks() error {
	if isFileNotExist(r.file) {
		slog.Info("State file does not exist, starting with empty state", "file_path", r.file)
		return nil
	}

	data, err := os.ReadFile(r.file)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("State file is empty")
		return nil
	}

	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, task := range state.Tasks {
		r.tasks[task.ID] = task
		if task.ID > r.lastID {
			r.lastID = task.ID
		}
	}
	if state.LastID > r.lastID {
		r.lastID = state.LastID
	}

	slog.Info("State loaded from file", "tasks_count", len(state.Tasks), "file_path", r.file)
	return nil
}

func isFileNotExist(filePath string) bool {
	_, err := os.Stat(filePath)
	return os.IsNotExist(err)
}

// persistTasks writes the whole state atomically. Callers hold r.mu.
func (r *TaskStorage) persistTasks() error {
	state := storageState{
		LastID: r.lastID,
		Tasks:  make([]*domain.DownloadTask, 0, len(r.tasks)),
	}
	for _, task := range r.tasks {
		state.Tasks = append(state.Tasks, task)
	}
	sort.Slice(state.Tasks, func(i, j int) bool { return state.Tasks[i].ID < state.Tasks[j].ID })

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("State saved to file", "tasks_count", len(state.Tasks), "file_path", r.file)
	return nil
}

// NextID reserves a fresh task id.
func (r *TaskStorage) NextID(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	return r.lastID, nil
}

// GetTask retrieves a task by ID.
func (r *TaskStorage) GetTask(ctx context.Context, id int) (*domain.DownloadTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	task, exists := r.tasks[id]
	r.mu.RUnlock()

	if !exists {
		return nil, errpkg.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// GetTree returns the subtree rooted at id.
func (r *TaskStorage) GetTree(ctx context.Context, id int) (*domain.TaskTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buildTree(id)
}

// GetRootTree returns the whole tree containing id.
func (r *TaskStorage) GetRootTree(ctx context.Context, id int) (*domain.TaskTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[id]
	if !exists {
		return nil, errpkg.ErrTaskNotFound
	}
	rootID := task.RootDownloadTaskID
	if _, ok := r.tasks[rootID]; !ok {
		rootID = r.climb(task)
	}
	return r.buildTree(rootID)
}

func (r *TaskStorage) climb(task *domain.DownloadTask) int {
	seen := map[int]struct{}{}
	for task.ParentID != 0 {
		if _, loop := seen[task.ID]; loop {
			break
		}
		seen[task.ID] = struct{}{}
		parent, ok := r.tasks[task.ParentID]
		if !ok {
			break
		}
		task = parent
	}
	return task.ID
}

func (r *TaskStorage) buildTree(id int) (*domain.TaskTree, error) {
	if _, exists := r.tasks[id]; !exists {
		return nil, errpkg.ErrTaskNotFound
	}

	var nodes []*domain.DownloadTask
	stack := []int{id}
	seen := map[int]struct{}{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		task, ok := r.tasks[cur]
		if !ok {
			continue
		}
		nodes = append(nodes, task.Clone())
		stack = append(stack, task.ChildIDs...)
	}

	tree, err := domain.BuildTree(id, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to build task tree %d: %w", id, err)
	}
	return tree, nil
}

// FindAll returns every task accepted by match, ordered by id.
func (r *TaskStorage) FindAll(ctx context.Context, match func(*domain.DownloadTask) bool) ([]*domain.DownloadTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var filtered []*domain.DownloadTask
	for _, task := range r.tasks {
		if match == nil || match(task) {
			filtered = append(filtered, task.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered, nil
}

// SaveTree upserts every node of tree and persists the state file.
func (r *TaskStorage) SaveTree(ctx context.Context, tree *domain.TaskTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, task := range tree.Tasks() {
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.UpdatedAt = now
		r.tasks[task.ID] = task.Clone()
		if task.ID > r.lastID {
			r.lastID = task.ID
		}
	}

	if err := r.persistTasks(); err != nil {
		return fmt.Errorf("failed to save state after saving tree %d: %w", tree.RootID, err)
	}

	slog.Debug("Task tree saved", "root_id", tree.RootID, "tasks_count", tree.Len())
	return nil
}

// DeleteTree removes id and all its descendants.
func (r *TaskStorage) DeleteTree(ctx context.Context, id int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tree, err := r.buildTree(id)
	if err != nil {
		return nil, err
	}
	removed := tree.IDs(id)

	if parent, ok := r.tasks[tree.Root().ParentID]; ok {
		kept := make([]int, 0, len(parent.ChildIDs))
		for _, cid := range parent.ChildIDs {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		parent.ChildIDs = kept
	}
	for _, rid := range removed {
		delete(r.tasks, rid)
	}

	if err := r.persistTasks(); err != nil {
		return nil, fmt.Errorf("failed to save state after deleting tree %d: %w", id, err)
	}

	slog.Debug("Task tree deleted", "task_id", id, "removed", len(removed))
	return removed, nil
}
