package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
)

// finishedSeason creates a season whose episodes are downloaded and returns its id.
func finishedSeason(t *testing.T, h *harness) int {
	t.Helper()
	ids := h.create(t, seasonRequest("Season 1"))
	root := ids[0]
	h.report(t, domain.DownloadStatusDownloadFinished, root+1, root+2)
	require.Equal(t, domain.DownloadStatusDownloadFinished, h.status(t, root))
	h.events.reset()
	return root
}

func TestPipeline_FinishedDownloadStartsMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)

	err := h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID})
	require.NoError(t, err)

	merges := h.jobs.startsOf(scheduler.KindMerge)
	require.Len(t, merges, 1)
	require.Equal(t, root, merges[0].TaskID)
	fileTask, ok := merges[0].Payload.(*domain.FileTask)
	require.True(t, ok)
	require.Len(t, fileTask.Files, 2)

	require.Equal(t, domain.DownloadStatusMerging, h.status(t, root))
	require.Equal(t, domain.DownloadStatusMerging, h.status(t, root+1))
	require.Equal(t, []domain.CheckDownloadQueue{{ServerID: testServerID}}, h.events.queueChecks())

	// redelivery finds the task merging and starts nothing new
	err = h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID})
	require.True(t, errpkg.Is(err, errpkg.KindJobScheduling))
	require.Len(t, h.jobs.startsOf(scheduler.KindMerge), 1)
}

func TestPipeline_CreateFailureStopsPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.create(t, seasonRequest("Season 1"))

	err := h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: ids[0], ServerID: testServerID})
	require.True(t, errpkg.Is(err, errpkg.KindJobScheduling))

	err = h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: 99, ServerID: testServerID})
	require.True(t, errpkg.Is(err, errpkg.KindNotFound))

	require.Empty(t, h.jobs.startsOf(scheduler.KindMerge))
	require.Empty(t, h.events.queueChecks())
}

func TestPipeline_StartFailureStillChecksQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)
	h.jobs.startErr = errors.New("merge pool closed")

	err := h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID})
	require.True(t, errpkg.Is(err, errpkg.KindJobScheduling))

	require.Equal(t, domain.DownloadStatusDownloadFinished, h.status(t, root))
	require.Len(t, h.events.queueChecks(), 1)
}

func TestPipeline_MergeOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)

	require.NoError(t, h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID}))
	require.NoError(t, h.pipe.HandleFileMergeFinished(ctx, domain.FileMergeFinished{TaskID: root, ServerID: testServerID}))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, root))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, root+2))

	// duplicate delivery is a no-op
	require.NoError(t, h.pipe.HandleFileMergeFinished(ctx, domain.FileMergeFinished{TaskID: root, ServerID: testServerID}))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, root))
}

func TestPipeline_MergeFailureMarksError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)

	require.NoError(t, h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID}))
	require.NoError(t, h.pipe.HandleFileMergeFinished(ctx, domain.FileMergeFinished{TaskID: root, Error: "disk full"}))

	require.Equal(t, domain.DownloadStatusError, h.status(t, root))
	require.Equal(t, domain.DownloadStatusError, h.status(t, root+1))
}

func TestPipeline_PauseDuringMergeIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)
	require.NoError(t, h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID}))

	result, err := h.cmds.Pause(ctx, []int{root})
	require.Error(t, err)
	require.False(t, result.IsSuccess())
	require.ErrorIs(t, err, errNothingToHalt)

	result, err = h.cmds.Stop(ctx, []int{root})
	require.Error(t, err)
	require.Empty(t, result.Succeeded)
	require.Equal(t, domain.DownloadStatusMerging, h.status(t, root))
	require.Equal(t, domain.DownloadStatusMerging, h.status(t, root+1))

	require.NoError(t, h.pipe.HandleFileMergeFinished(ctx, domain.FileMergeFinished{TaskID: root, ServerID: testServerID}))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, root))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, root+2))
}

// showRequest yields show=n, season n+1 with episodes n+2 and n+3, season n+4 with episode n+5.
func showRequest(title string) domain.CreateDownloadRequest {
	episode := func(name string) domain.DownloadNodeRequest {
		return domain.DownloadNodeRequest{Title: name, MediaType: domain.MediaTypeEpisode, DownloadURL: "https://media.example.com/" + name + ".mkv"}
	}
	return domain.CreateDownloadRequest{
		PlexServerID:         testServerID,
		PlexLibraryID:        3,
		DestinationDirectory: "/media/tv",
		Root: domain.DownloadNodeRequest{
			Title:     title,
			MediaType: domain.MediaTypeTvShow,
			Children: []domain.DownloadNodeRequest{
				{Title: "Season 1", MediaType: domain.MediaTypeSeason, Children: []domain.DownloadNodeRequest{episode("s01e01"), episode("s01e02")}},
				{Title: "Season 2", MediaType: domain.MediaTypeSeason, Children: []domain.DownloadNodeRequest{episode("s02e01")}},
			},
		},
	}
}

func TestPipeline_SiblingReportDuringMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.create(t, showRequest("The Wire"))
	show := ids[0]
	season1, season2 := show+1, show+4

	h.report(t, domain.DownloadStatusDownloadFinished, season1+1, season1+2)
	require.Equal(t, domain.DownloadStatusDownloadFinished, h.status(t, season1))
	require.NoError(t, h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: season1, ServerID: testServerID}))
	require.Equal(t, domain.DownloadStatusMerging, h.status(t, season1))

	h.report(t, domain.DownloadStatusDownloading, season2+1)
	require.Equal(t, domain.DownloadStatusMerging, h.status(t, season1))
	require.Equal(t, domain.DownloadStatusDownloading, h.status(t, show))

	require.NoError(t, h.pipe.HandleFileMergeFinished(ctx, domain.FileMergeFinished{TaskID: season1, ServerID: testServerID}))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, season1))
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, season1+2))
	require.Equal(t, domain.DownloadStatusDownloading, h.status(t, show))
}

func TestCommands_MergeCompletesAfterAncestorRecompute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)
	require.NoError(t, h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID}))

	// Merging leaves aggregate to Downloading
	status, err := h.cmds.RecomputeRootStatus(ctx, root)
	require.NoError(t, err)
	require.Equal(t, domain.DownloadStatusDownloading, status)

	ok, err := h.cmds.MarkCompleted(ctx, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.DownloadStatusCompleted, h.status(t, root))

	ok, err = h.cmds.MarkCompleted(ctx, root)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueue_AdmitsOneDownloadPerServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.create(t,
		movieRequest("heat", testServerID),
		movieRequest("ronin", testServerID),
		movieRequest("alien", 8),
	)

	admitted, err := h.queue.CheckServer(ctx, testServerID)
	require.NoError(t, err)
	require.Equal(t, ids[0], admitted)

	admitted, err = h.queue.CheckServer(ctx, testServerID)
	require.NoError(t, err)
	require.Zero(t, admitted)

	admitted, err = h.queue.CheckServer(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, ids[2], admitted)

	h.report(t, domain.DownloadStatusDownloadFinished, ids[0])
	h.jobs.finish(scheduler.KindDownload, ids[0])

	require.NoError(t, h.queue.HandleCheckDownloadQueue(ctx, domain.CheckDownloadQueue{ServerID: testServerID}))
	require.True(t, h.jobs.IsActive(scheduler.KindDownload, ids[1]))
	require.Len(t, h.jobs.startsOf(scheduler.KindDownload), 3)
}

func TestQueue_Recover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.create(t, movieRequest("heat", testServerID), seasonRequest("Season 1"))
	movie, season := ids[0], ids[1]

	h.report(t, domain.DownloadStatusDownloading, movie)
	h.report(t, domain.DownloadStatusDownloadFinished, season+1, season+2)
	ok, err := h.cmds.MarkMerging(ctx, season)
	require.NoError(t, err)
	require.True(t, ok)
	h.events.reset()

	require.NoError(t, h.queue.Recover(ctx))

	require.Equal(t, domain.DownloadStatusQueued, h.status(t, movie))
	require.Equal(t, domain.DownloadStatusDownloadFinished, h.status(t, season))
	require.Equal(t, []domain.DownloadTaskFinished{{TaskID: season, ServerID: testServerID}}, h.events.finished())
	require.True(t, h.jobs.IsActive(scheduler.KindDownload, movie))
}

func TestQueue_SweepAdmitsStalledWork(t *testing.T) {
	h := newHarness(t)
	ids := h.create(t, movieRequest("heat", testServerID))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.queue.Sweep(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.jobs.IsActive(scheduler.KindDownload, ids[0])
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestQueue_RecoverRepairsStaleRootStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.create(t, seasonRequest("Season 1"))
	season := ids[0]

	tree, err := h.repo.GetTree(ctx, season)
	require.NoError(t, err)
	tree.Root().DownloadStatus = domain.DownloadStatusCompleted
	require.NoError(t, h.repo.SaveTree(ctx, tree))

	require.NoError(t, h.queue.Recover(ctx))

	require.Equal(t, domain.DownloadStatusQueued, h.status(t, season))
	require.True(t, h.jobs.IsActive(scheduler.KindDownload, season))
}

func TestQueue_SweepRetriesRefusedMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)

	h.jobs.startErr = errors.New("merge pool full")
	err := h.pipe.HandleDownloadTaskFinished(ctx, domain.DownloadTaskFinished{TaskID: root, ServerID: testServerID})
	require.Error(t, err)
	require.Equal(t, domain.DownloadStatusDownloadFinished, h.status(t, root))
	h.jobs.startErr = nil
	h.events.reset()

	h.queue.SweepOnce(ctx)
	finished := h.events.finished()
	require.Equal(t, []domain.DownloadTaskFinished{{TaskID: root, ServerID: testServerID}}, finished)

	require.NoError(t, h.pipe.HandleDownloadTaskFinished(ctx, finished[0]))
	require.Len(t, h.jobs.startsOf(scheduler.KindMerge), 1)
	require.Equal(t, domain.DownloadStatusMerging, h.status(t, root))

	// merging roots are left alone
	h.events.reset()
	h.queue.SweepOnce(ctx)
	require.Empty(t, h.events.finished())
}

func TestQueue_SweepSkipsFinishedRootWithActiveJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := finishedSeason(t, h)
	require.NoError(t, h.jobs.Start(scheduler.Job{Kind: scheduler.KindDownload, TaskID: root, ServerID: testServerID}))

	h.queue.SweepOnce(ctx)
	require.Empty(t, h.events.finished())
}
