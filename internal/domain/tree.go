package domain

import (
	"fmt"
)

// TaskTree is an arena of DownloadTask nodes indexed by id. Parent and child
// relations are kept as id lists on the nodes, so the tree owns no pointer cycles.
// A TaskTree is not safe for concurrent use; callers serialize access per root.
type TaskTree struct {
	RootID int
	tasks  map[int]*DownloadTask
}

// NewTaskTree creates a tree containing only root. The root keeps its ParentID,
// which lets a tree describe a subtree of a larger one.
func NewTaskTree(root *DownloadTask) *TaskTree {
	root.ChildIDs = nil
	return &TaskTree{
		RootID: root.ID,
		tasks:  map[int]*DownloadTask{root.ID: root},
	}
}

// BuildTree indexes nodes and links them starting at rootID. Nodes unreachable
// from the root are ignored. A dangling child id or a node reached twice is an error.
func BuildTree(rootID int, nodes []*DownloadTask) (*TaskTree, error) {
	index := make(map[int]*DownloadTask, len(nodes))
	for _, n := range nodes {
		index[n.ID] = n
	}
	if _, ok := index[rootID]; !ok {
		return nil, fmt.Errorf("root task %d not among nodes", rootID)
	}

	tree := &TaskTree{RootID: rootID, tasks: make(map[int]*DownloadTask, len(nodes))}
	stack := []int{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := index[id]
		if _, seen := tree.tasks[id]; seen {
			return nil, fmt.Errorf("task %d reached twice, tree is not acyclic", id)
		}
		tree.tasks[id] = n
		for i := len(n.ChildIDs) - 1; i >= 0; i-- {
			child, ok := index[n.ChildIDs[i]]
			if !ok {
				return nil, fmt.Errorf("task %d references missing child %d", id, n.ChildIDs[i])
			}
			child.ParentID = id
			stack = append(stack, child.ID)
		}
	}
	return tree, nil
}

// Attach adds task as the last child of parentID.
func (t *TaskTree) Attach(parentID int, task *DownloadTask) error {
	parent, ok := t.tasks[parentID]
	if !ok {
		return fmt.Errorf("parent task %d not in tree", parentID)
	}
	if task.ID <= 0 {
		return fmt.Errorf("task id must be positive, got %d", task.ID)
	}
	if _, exists := t.tasks[task.ID]; exists {
		return fmt.Errorf("task %d already in tree", task.ID)
	}
	task.ParentID = parentID
	task.ChildIDs = nil
	parent.ChildIDs = append(parent.ChildIDs, task.ID)
	t.tasks[task.ID] = task
	return nil
}

// Get returns the node with the given id.
func (t *TaskTree) Get(id int) (*DownloadTask, bool) {
	task, ok := t.tasks[id]
	return task, ok
}

// Root returns the root node.
func (t *TaskTree) Root() *DownloadTask {
	return t.tasks[t.RootID]
}

// Len returns the number of nodes.
func (t *TaskTree) Len() int {
	return len(t.tasks)
}

// Children returns the direct children of id in order.
func (t *TaskTree) Children(id int) []*DownloadTask {
	task, ok := t.tasks[id]
	if !ok {
		return nil
	}
	children := make([]*DownloadTask, 0, len(task.ChildIDs))
	for _, cid := range task.ChildIDs {
		if c, ok := t.tasks[cid]; ok {
			children = append(children, c)
		}
	}
	return children
}

// Walk visits the subtree rooted at id in pre-order, each node exactly once.
func (t *TaskTree) Walk(id int, fn func(*DownloadTask)) {
	if _, ok := t.tasks[id]; !ok {
		return
	}
	visited := make(map[int]struct{}, len(t.tasks))
	stack := []int{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}

		task, ok := t.tasks[cur]
		if !ok {
			continue
		}
		fn(task)
		for i := len(task.ChildIDs) - 1; i >= 0; i-- {
			stack = append(stack, task.ChildIDs[i])
		}
	}
}

// Tasks returns every node in pre-order starting at the root.
func (t *TaskTree) Tasks() []*DownloadTask {
	return t.SubtreeTasks(t.RootID)
}

// SubtreeTasks returns the nodes of the subtree rooted at id in pre-order.
func (t *TaskTree) SubtreeTasks(id int) []*DownloadTask {
	out := make([]*DownloadTask, 0, len(t.tasks))
	t.Walk(id, func(task *DownloadTask) {
		out = append(out, task)
	})
	return out
}

// IDs returns the ids of the subtree rooted at id in pre-order.
func (t *TaskTree) IDs(id int) []int {
	ids := make([]int, 0, len(t.tasks))
	t.Walk(id, func(task *DownloadTask) {
		ids = append(ids, task.ID)
	})
	return ids
}

// Leaves returns the leaves under id in pre-order. A leaf id returns itself.
func (t *TaskTree) Leaves(id int) []*DownloadTask {
	var leaves []*DownloadTask
	t.Walk(id, func(task *DownloadTask) {
		if task.IsLeaf() {
			leaves = append(leaves, task)
		}
	})
	return leaves
}

// PostOrder returns the subtree rooted at id with every child before its parent.
func (t *TaskTree) PostOrder(id int) []*DownloadTask {
	pre := t.SubtreeTasks(id)
	// reversed pre-order: descendants precede their ancestors
	out := make([]*DownloadTask, len(pre))
	for i, task := range pre {
		out[len(pre)-1-i] = task
	}
	return out
}

// Ancestors returns the ids from id's parent up to the root of this tree.
func (t *TaskTree) Ancestors(id int) []int {
	var ids []int
	task, ok := t.tasks[id]
	for ok && task.ID != t.RootID {
		task, ok = t.tasks[task.ParentID]
		if ok {
			ids = append(ids, task.ID)
		}
	}
	return ids
}

// Remove deletes the subtree rooted at id and detaches it from its parent.
// It returns the removed ids in pre-order. Removing the root empties the tree.
func (t *TaskTree) Remove(id int) []int {
	task, ok := t.tasks[id]
	if !ok {
		return nil
	}
	removed := t.IDs(id)
	if parent, ok := t.tasks[task.ParentID]; ok && id != t.RootID {
		kept := parent.ChildIDs[:0]
		for _, cid := range parent.ChildIDs {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		parent.ChildIDs = kept
	}
	for _, rid := range removed {
		delete(t.tasks, rid)
	}
	return removed
}

// RecomputeStatus re-aggregates every non-leaf status bottom-up.
// Leaf statuses are authoritative and never changed here.
func (t *TaskTree) RecomputeStatus() {
	t.recomputeSubtree(t.RootID)
}

func (t *TaskTree) recomputeSubtree(id int) {
	for _, task := range t.PostOrder(id) {
		if task.IsLeaf() {
			continue
		}
		children := t.Children(task.ID)
		statuses := make([]DownloadStatus, 0, len(children))
		for _, c := range children {
			statuses = append(statuses, c.DownloadStatus)
		}
		if s := Aggregate(statuses); s != "" {
			task.DownloadStatus = s
		}
	}
}

// RecomputeAncestors re-aggregates the ancestors of id, nearest first, leaving
// the subtree of id as it is. Used after the bulk setters.
func (t *TaskTree) RecomputeAncestors(id int) {
	for _, aid := range t.Ancestors(id) {
		children := t.Children(aid)
		statuses := make([]DownloadStatus, 0, len(children))
		for _, c := range children {
			statuses = append(statuses, c.DownloadStatus)
		}
		if s := Aggregate(statuses); s != "" {
			t.tasks[aid].DownloadStatus = s
		}
	}
}

// SetIDs propagates the owning server and library to every node.
func (t *TaskTree) SetIDs(plexServerID, plexLibraryID int, serverMachineID string) {
	t.Walk(t.RootID, func(task *DownloadTask) {
		task.PlexServerID = plexServerID
		task.PlexLibraryID = plexLibraryID
		task.ServerMachineIdentifier = serverMachineID
	})
}

// SetRootID propagates the root id to every node.
func (t *TaskTree) SetRootID(rootID int) {
	t.Walk(t.RootID, func(task *DownloadTask) {
		task.RootDownloadTaskID = rootID
	})
}

// SetToCompleted marks the whole subtree Completed regardless of current state.
func (t *TaskTree) SetToCompleted(id int) {
	t.setSubtreeStatus(id, DownloadStatusCompleted)
}

// SetToDownloadFinished marks the whole subtree DownloadFinished regardless of current state.
func (t *TaskTree) SetToDownloadFinished(id int) {
	t.setSubtreeStatus(id, DownloadStatusDownloadFinished)
}

// SetToDownloading marks the whole subtree Downloading regardless of current state.
func (t *TaskTree) SetToDownloading(id int) {
	t.setSubtreeStatus(id, DownloadStatusDownloading)
}

// SetToMerging marks the whole subtree Merging regardless of current state.
func (t *TaskTree) SetToMerging(id int) {
	t.setSubtreeStatus(id, DownloadStatusMerging)
}

func (t *TaskTree) setSubtreeStatus(id int, status DownloadStatus) {
	t.Walk(id, func(task *DownloadTask) {
		task.DownloadStatus = status
	})
}

// SetLeafStatus sets status on every leaf under id accepted by match (all leaves
// when match is nil). When a leaf changed, the subtree of id and its ancestors are
// re-aggregated; other branches keep their status. It returns the changed leaf ids.
func (t *TaskTree) SetLeafStatus(id int, status DownloadStatus, match func(DownloadStatus) bool) []int {
	var changed []int
	for _, leaf := range t.Leaves(id) {
		if match != nil && !match(leaf.DownloadStatus) {
			continue
		}
		if leaf.DownloadStatus != status {
			leaf.DownloadStatus = status
			changed = append(changed, leaf.ID)
		}
	}
	if len(changed) > 0 {
		t.recomputeSubtree(id)
		t.RecomputeAncestors(id)
	}
	return changed
}

// HasLeaf reports whether any leaf under id is accepted by match.
func (t *TaskTree) HasLeaf(id int, match func(DownloadStatus) bool) bool {
	for _, leaf := range t.Leaves(id) {
		if match(leaf.DownloadStatus) {
			return true
		}
	}
	return false
}
