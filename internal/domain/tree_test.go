package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newShowTree builds show(1) -> season(2) -> episodes(3,4), season(5) -> episode(6).
func newShowTree(t *testing.T) *TaskTree {
	t.Helper()
	tree := NewTaskTree(&DownloadTask{ID: 1, MediaType: MediaTypeTvShow, DownloadStatus: DownloadStatusQueued})
	require.NoError(t, tree.Attach(1, &DownloadTask{ID: 2, MediaType: MediaTypeSeason, DownloadStatus: DownloadStatusQueued}))
	require.NoError(t, tree.Attach(2, &DownloadTask{ID: 3, MediaType: MediaTypeEpisode, DownloadURL: "http://a/3", DownloadStatus: DownloadStatusQueued}))
	require.NoError(t, tree.Attach(2, &DownloadTask{ID: 4, MediaType: MediaTypeEpisode, DownloadURL: "http://a/4", DownloadStatus: DownloadStatusQueued}))
	require.NoError(t, tree.Attach(1, &DownloadTask{ID: 5, MediaType: MediaTypeSeason, DownloadStatus: DownloadStatusQueued}))
	require.NoError(t, tree.Attach(5, &DownloadTask{ID: 6, MediaType: MediaTypeEpisode, DownloadURL: "http://a/6", DownloadStatus: DownloadStatusQueued}))
	return tree
}

func setLeaves(tree *TaskTree, status DownloadStatus) {
	for _, leaf := range tree.Leaves(tree.RootID) {
		leaf.DownloadStatus = status
	}
}

func TestTaskTree_Traversal(t *testing.T) {
	tree := newShowTree(t)

	assert.Equal(t, 6, tree.Len())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, tree.IDs(1))
	assert.Equal(t, []int{2, 3, 4}, tree.IDs(2))

	var leafIDs []int
	for _, l := range tree.Leaves(1) {
		leafIDs = append(leafIDs, l.ID)
	}
	assert.Equal(t, []int{3, 4, 6}, leafIDs)

	post := tree.PostOrder(1)
	pos := map[int]int{}
	for i, task := range post {
		pos[task.ID] = i
	}
	for _, task := range post {
		for _, cid := range task.ChildIDs {
			assert.Less(t, pos[cid], pos[task.ID], "child %d before parent %d", cid, task.ID)
		}
	}

	assert.Equal(t, []int{2, 1}, tree.Ancestors(4))
	assert.Empty(t, tree.Ancestors(1))
}

func TestTaskTree_AttachRejectsDuplicates(t *testing.T) {
	tree := newShowTree(t)

	assert.Error(t, tree.Attach(1, &DownloadTask{ID: 3}))
	assert.Error(t, tree.Attach(99, &DownloadTask{ID: 100}))
	assert.Error(t, tree.Attach(1, &DownloadTask{ID: 0}))
}

func TestTaskTree_RecomputeStatus_ErrorLeafPropagates(t *testing.T) {
	tree := newShowTree(t)
	setLeaves(tree, DownloadStatusCompleted)
	leaf, _ := tree.Get(6)
	leaf.DownloadStatus = DownloadStatusError

	tree.RecomputeStatus()

	assert.Equal(t, DownloadStatusError, tree.Root().DownloadStatus)
	season, _ := tree.Get(2)
	assert.Equal(t, DownloadStatusCompleted, season.DownloadStatus)
}

func TestTaskTree_RecomputeStatus_AllCompleted(t *testing.T) {
	tree := newShowTree(t)
	setLeaves(tree, DownloadStatusCompleted)

	tree.RecomputeStatus()

	for _, task := range tree.Tasks() {
		assert.Equal(t, DownloadStatusCompleted, task.DownloadStatus, "task %d", task.ID)
	}
}

func TestTaskTree_RecomputeStatus_Stable(t *testing.T) {
	tree := newShowTree(t)
	leaf, _ := tree.Get(3)
	leaf.DownloadStatus = DownloadStatusDownloading

	tree.RecomputeStatus()
	first := tree.Root().DownloadStatus
	tree.RecomputeStatus()

	assert.Equal(t, DownloadStatusDownloading, first)
	assert.Equal(t, first, tree.Root().DownloadStatus)
}

func TestTaskTree_SetIDsAndRootID(t *testing.T) {
	tree := newShowTree(t)

	tree.SetIDs(7, 8, "machine-1")
	tree.SetRootID(tree.RootID)

	for _, task := range tree.Tasks() {
		assert.Equal(t, 7, task.PlexServerID)
		assert.Equal(t, 8, task.PlexLibraryID)
		assert.Equal(t, "machine-1", task.ServerMachineIdentifier)
		assert.Equal(t, 1, task.RootDownloadTaskID)
	}
}

func TestTaskTree_BulkSetters(t *testing.T) {
	tree := newShowTree(t)

	tree.SetToDownloadFinished(2)
	for _, id := range []int{2, 3, 4} {
		task, _ := tree.Get(id)
		assert.Equal(t, DownloadStatusDownloadFinished, task.DownloadStatus)
	}
	other, _ := tree.Get(6)
	assert.Equal(t, DownloadStatusQueued, other.DownloadStatus)

	tree.SetToDownloading(1)
	for _, task := range tree.Tasks() {
		assert.Equal(t, DownloadStatusDownloading, task.DownloadStatus)
	}

	tree.SetToCompleted(1)
	for _, task := range tree.Tasks() {
		assert.Equal(t, DownloadStatusCompleted, task.DownloadStatus)
	}
}

func TestTaskTree_SetLeafStatus(t *testing.T) {
	tree := newShowTree(t)
	done, _ := tree.Get(3)
	done.DownloadStatus = DownloadStatusDownloadFinished

	changed := tree.SetLeafStatus(1, DownloadStatusPaused, func(s DownloadStatus) bool {
		return !s.IsFinishedDownloading()
	})

	assert.ElementsMatch(t, []int{4, 6}, changed)
	assert.Equal(t, DownloadStatusDownloadFinished, done.DownloadStatus)
	assert.Equal(t, DownloadStatusPaused, tree.Root().DownloadStatus)
}

func TestTaskTree_SetLeafStatus_LeavesOtherBranches(t *testing.T) {
	tree := newShowTree(t)
	tree.SetToMerging(2)

	changed := tree.SetLeafStatus(6, DownloadStatusDownloading, nil)

	assert.Equal(t, []int{6}, changed)
	season, _ := tree.Get(2)
	assert.Equal(t, DownloadStatusMerging, season.DownloadStatus)
	assert.Equal(t, DownloadStatusDownloading, tree.Root().DownloadStatus)
	assert.True(t, tree.HasLeaf(2, func(s DownloadStatus) bool { return s == DownloadStatusMerging }))
	assert.False(t, tree.HasLeaf(5, func(s DownloadStatus) bool { return s == DownloadStatusMerging }))
}

func TestTaskTree_SetLeafStatus_NoChangeKeepsParents(t *testing.T) {
	tree := newShowTree(t)
	tree.SetToMerging(1)

	changed := tree.SetLeafStatus(1, DownloadStatusPaused, func(s DownloadStatus) bool {
		return s == DownloadStatusQueued || s == DownloadStatusDownloading
	})

	assert.Empty(t, changed)
	assert.Equal(t, DownloadStatusMerging, tree.Root().DownloadStatus)
}

func TestTaskTree_Remove(t *testing.T) {
	tree := newShowTree(t)

	removed := tree.Remove(2)

	assert.Equal(t, []int{2, 3, 4}, removed)
	assert.Equal(t, 3, tree.Len())
	assert.Equal(t, []int{5}, tree.Root().ChildIDs)
}

func TestBuildTree(t *testing.T) {
	src := newShowTree(t)
	var nodes []*DownloadTask
	for _, task := range src.Tasks() {
		nodes = append(nodes, task.Clone())
	}

	tree, err := BuildTree(2, nodes)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, tree.IDs(2))

	cyclic := []*DownloadTask{
		{ID: 1, ChildIDs: []int{2}},
		{ID: 2, ChildIDs: []int{1}},
	}
	_, err = BuildTree(1, cyclic)
	assert.Error(t, err)

	_, err = BuildTree(1, []*DownloadTask{{ID: 1, ChildIDs: []int{9}}})
	assert.Error(t, err)
}

func TestTaskTree_RecomputeAncestorsKeepsSubtree(t *testing.T) {
	tree := newShowTree(t)
	tree.SetToDownloadFinished(6)
	tree.RecomputeStatus()
	tree.SetToMerging(2)
	tree.RecomputeAncestors(2)

	season, _ := tree.Get(2)
	assert.Equal(t, DownloadStatusMerging, season.DownloadStatus)
	assert.Equal(t, DownloadStatusDownloading, tree.Root().DownloadStatus)

	tree.SetToCompleted(2)
	tree.RecomputeAncestors(2)
	assert.Equal(t, DownloadStatusDownloadFinished, tree.Root().DownloadStatus)
}

func TestNewFileTask(t *testing.T) {
	tree := newShowTree(t)
	for _, leaf := range tree.Leaves(1) {
		leaf.FileName = "e.mkv"
		leaf.DownloadDirectory = "1/2"
		leaf.DestinationDirectory = "TV/Show"
	}
	tree.SetIDs(7, 8, "machine")

	ft := NewFileTask(tree, 2)
	require.NotNil(t, ft)
	assert.Equal(t, 2, ft.DownloadTaskID)
	assert.Equal(t, 7, ft.PlexServerID)
	require.Len(t, ft.Files, 2)
	assert.Equal(t, 3, ft.Files[0].TaskID)
	assert.Equal(t, "TV/Show/e.mkv", ft.Files[0].DestinationPath)

	assert.Nil(t, NewFileTask(tree, 99))
}
