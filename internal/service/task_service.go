package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
	"github.com/veranemoloko/download-orchestrator/internal/events"
	"github.com/veranemoloko/download-orchestrator/internal/metrics"
	"github.com/veranemoloko/download-orchestrator/internal/repository"
	"github.com/veranemoloko/download-orchestrator/internal/scheduler"
	"github.com/veranemoloko/download-orchestrator/internal/validation"
)

// JobScheduler is the part of the scheduler the services drive.
type JobScheduler interface {
	Start(job scheduler.Job) error
	Stop(kind scheduler.JobKind, taskID int) error
	Wait(ctx context.Context, kind scheduler.JobKind, taskID int) error
	IsActive(kind scheduler.JobKind, taskID int) bool
	HasActiveForServer(kind scheduler.JobKind, serverID int) bool
}

// FileCleaner removes the on-disk artifacts of a working directory.
type FileCleaner interface {
	DeleteAllFilesFromDirectory(dir string) error
}

// CommandsConfig tunes DownloadCommands.
type CommandsConfig struct {
	// Concurrency bounds how many ids of one command are processed at once.
	Concurrency int
	// StopTimeout bounds the wait for a cancelled job to tear down.
	StopTimeout time.Duration
}

// DownloadCommands is the command layer over download task trees. Every mutation
// of a tree, by callers or by workers, runs under that tree's lock.
type DownloadCommands struct {
	repo      repository.TaskRepo
	jobs      JobScheduler
	files     FileCleaner
	publisher events.Publisher
	urls      *validation.URLValidator
	validate  *validator.Validate
	locks     *keyedMutex
	cfg       CommandsConfig
	logger    *slog.Logger
}

func NewDownloadCommands(
	repo repository.TaskRepo,
	jobs JobScheduler,
	files FileCleaner,
	publisher events.Publisher,
	urls *validation.URLValidator,
	cfg CommandsConfig,
	logger *slog.Logger,
) *DownloadCommands {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &DownloadCommands{
		repo:      repo,
		jobs:      jobs,
		files:     files,
		publisher: publisher,
		urls:      urls,
		validate:  validator.New(),
		locks:     newKeyedMutex(),
		cfg:       cfg,
		logger:    logger,
	}
}

// batch collects the per-id outcomes of one command invocation.
type batch struct {
	mu       sync.Mutex
	result   domain.CommandResult
	servers  map[int]struct{}
	storeErr *errpkg.Error
}

func (b *batch) succeed(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.Succeeded = append(b.result.Succeeded, id)
}

func (b *batch) skip(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.Skipped = append(b.result.Skipped, id)
}

func (b *batch) fail(id int, err error) {
	var e *errpkg.Error
	if !errors.As(err, &e) {
		e = errpkg.Store("unexpected failure", err)
	}
	if e.TaskID == 0 {
		e.TaskID = id
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.AddFailure(e)
	if e.Kind == errpkg.KindStore && b.storeErr == nil {
		b.storeErr = e
	}
}

// touch records a server whose download queue must be re-evaluated.
func (b *batch) touch(serverID int) {
	if serverID <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servers[serverID] = struct{}{}
}

func (b *batch) serverIDs() []int {
	ids := make([]int, 0, len(b.servers))
	for id := range b.servers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *DownloadCommands) run(ctx context.Context, command string, ids []int, fn func(ctx context.Context, id int, b *batch)) (*domain.CommandResult, error) {
	if err := s.validateIDs(ids); err != nil {
		metrics.CommandsTotal.WithLabelValues(command, "invalid").Inc()
		return &domain.CommandResult{Failures: []*errpkg.Error{err}}, err
	}

	b := &batch{servers: make(map[int]struct{})}
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range uniqueIDs(ids) {
		id := id
		g.Go(func() error {
			fn(ctx, id, b)
			return nil
		})
	}
	_ = g.Wait()

	for _, serverID := range b.serverIDs() {
		s.publish(ctx, domain.CheckDownloadQueue{ServerID: serverID})
	}

	result := &b.result
	sort.Ints(result.Succeeded)
	sort.Ints(result.Skipped)
	sort.SliceStable(result.Failures, func(i, j int) bool { return result.Failures[i].TaskID < result.Failures[j].TaskID })

	if b.storeErr != nil {
		metrics.CommandsTotal.WithLabelValues(command, "store_error").Inc()
		s.logger.Error("command aborted by store failure", "command", command, "error", b.storeErr)
		return result, b.storeErr
	}

	outcome := "success"
	if !result.IsSuccess() {
		outcome = "failure"
	} else if len(result.Failures) > 0 {
		outcome = "partial"
	}
	metrics.CommandsTotal.WithLabelValues(command, outcome).Inc()
	s.logger.Info("command finished",
		"command", command,
		"succeeded", len(result.Succeeded),
		"skipped", len(result.Skipped),
		"failed", len(result.Failures),
	)
	return result, result.Err()
}

func (s *DownloadCommands) validateIDs(ids []int) *errpkg.Error {
	if err := s.validate.Struct(domain.TaskIDsRequest{IDs: ids}); err != nil {
		return errpkg.Validation("ids must be a non-empty list of positive integers", err)
	}
	return nil
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Start starts a download job per id. Paused and stopped leaves are queued again.
func (s *DownloadCommands) Start(ctx context.Context, ids []int) (*domain.CommandResult, error) {
	return s.run(ctx, "start", ids, func(ctx context.Context, id int, b *batch) {
		if err := s.startOne(ctx, id); err != nil {
			b.fail(id, err)
			return
		}
		b.succeed(id)
	})
}

func (s *DownloadCommands) startOne(ctx context.Context, id int) error {
	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	task, _ := tree.Get(id)
	if !task.DownloadStatus.IsStartable() {
		return errpkg.JobScheduling(id, fmt.Sprintf("cannot start task in status %s", task.DownloadStatus), nil)
	}
	if active := s.activeInLineage(tree, id); active != 0 {
		return errpkg.JobScheduling(id, fmt.Sprintf("download job of task %d covers this task", active), errpkg.ErrJobAlreadyActive)
	}

	// statuses are saved before the job is queued, the worker reads them on start
	previous := leafStatuses(tree, id)
	tree.SetLeafStatus(id, domain.DownloadStatusQueued, isHalted)
	if err := s.save(ctx, tree, id); err != nil {
		return err
	}

	job := scheduler.Job{Kind: scheduler.KindDownload, TaskID: id, ServerID: task.PlexServerID}
	if err := s.jobs.Start(job); err != nil {
		restoreLeafStatuses(tree, previous)
		if serr := s.save(ctx, tree, id); serr != nil {
			s.logger.Error("failed to restore statuses after start failure", "task_id", id, "error", serr)
		}
		return asJobError(id, "cannot start download job", err)
	}

	s.logger.Info("download task started", "task_id", id, "server_id", task.PlexServerID)
	s.publish(ctx, domain.DownloadTaskUpdated{TaskID: id, Status: task.DownloadStatus})
	return nil
}

// Pause halts the download of each id and marks its unfinished leaves Paused.
func (s *DownloadCommands) Pause(ctx context.Context, ids []int) (*domain.CommandResult, error) {
	return s.run(ctx, "pause", ids, func(ctx context.Context, id int, b *batch) {
		s.halt(ctx, id, domain.DownloadStatusPaused, b)
	})
}

// Stop halts the download of each id, marks its unfinished leaves Stopped and
// removes their partial files.
func (s *DownloadCommands) Stop(ctx context.Context, ids []int) (*domain.CommandResult, error) {
	return s.run(ctx, "stop", ids, func(ctx context.Context, id int, b *batch) {
		s.halt(ctx, id, domain.DownloadStatusStopped, b)
	})
}

func (s *DownloadCommands) halt(ctx context.Context, id int, target domain.DownloadStatus, b *batch) {
	serverID, applied, err := s.haltOne(ctx, id, target)
	if applied {
		b.touch(serverID)
	}
	if err != nil {
		b.fail(id, err)
		return
	}
	b.succeed(id)
}

// haltOne cancels the jobs covering id outside the tree lock, then applies target.
// A failed job stop is returned but the status change still happens.
func (s *DownloadCommands) haltOne(ctx context.Context, id int, target domain.DownloadStatus) (serverID int, applied bool, err error) {
	tree, err := s.loadTree(ctx, id)
	if err != nil {
		return 0, false, err
	}
	match := haltFilter(target)
	if !tree.HasLeaf(id, match) {
		return 0, false, nothingToHalt(id, target)
	}

	stopErr := s.stopJob(ctx, scheduler.KindDownload, id)
	for _, did := range tree.IDs(id)[1:] {
		if s.jobs.IsActive(scheduler.KindDownload, did) {
			if err := s.stopJob(ctx, scheduler.KindDownload, did); err != nil {
				s.logger.Warn("failed to stop descendant job", "task_id", did, "error", err)
			}
		}
	}
	resume := s.cancelAncestorJobs(ctx, tree, id)

	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return 0, false, err
	}
	task, _ := tree.Get(id)
	if !tree.HasLeaf(id, match) {
		unlock()
		s.resumeJobs(resume)
		return 0, false, nothingToHalt(id, target)
	}
	changed := tree.SetLeafStatus(id, target, match)
	if len(changed) > 0 {
		if target == domain.DownloadStatusStopped {
			for _, cid := range changed {
				leaf, _ := tree.Get(cid)
				leaf.DataReceived = 0
			}
		}
		err = s.save(ctx, tree, id)
	}
	unlock()
	if err != nil {
		return 0, false, err
	}

	if target == domain.DownloadStatusStopped {
		for _, cid := range changed {
			leaf, _ := tree.Get(cid)
			if leaf.DownloadDirectory == "" {
				continue
			}
			if err := s.files.DeleteAllFilesFromDirectory(leaf.DownloadDirectory); err != nil {
				s.logger.Warn("failed to delete partial files", "task_id", cid, "directory", leaf.DownloadDirectory, "error", err)
			}
		}
	}
	s.resumeJobs(resume)

	s.logger.Info("download task halted", "task_id", id, "status", target, "leaves", len(changed))
	s.publish(ctx, domain.DownloadTaskUpdated{TaskID: id, Status: task.DownloadStatus})
	return task.PlexServerID, true, stopErr
}

// Restart stops and starts every id. The start half runs even when the stop half failed.
func (s *DownloadCommands) Restart(ctx context.Context, ids []int) (*domain.CommandResult, error) {
	return s.run(ctx, "restart", ids, func(ctx context.Context, id int, b *batch) {
		serverID, applied, stopErr := s.haltOne(ctx, id, domain.DownloadStatusStopped)
		if applied {
			b.touch(serverID)
		}
		switch {
		case errors.Is(stopErr, errNothingToHalt):
			// already finished or halted, the start half decides
		case stopErr != nil:
			b.fail(id, stopErr)
			if errpkg.Is(stopErr, errpkg.KindNotFound) {
				return
			}
		}
		if err := s.startOne(ctx, id); err != nil {
			b.fail(id, err)
			return
		}
		b.succeed(id)
	})
}

// Delete cancels the jobs of each subtree and removes its records and files.
func (s *DownloadCommands) Delete(ctx context.Context, ids []int) (*domain.CommandResult, error) {
	return s.run(ctx, "delete", ids, func(ctx context.Context, id int, b *batch) {
		serverID, _, err := s.deleteOne(ctx, id, false)
		if err != nil {
			b.fail(id, err)
			return
		}
		b.touch(serverID)
		b.succeed(id)
	})
}

// ClearCompleted deletes the ids whose status is Completed and skips the others.
func (s *DownloadCommands) ClearCompleted(ctx context.Context, ids []int) (*domain.CommandResult, error) {
	return s.run(ctx, "clear", ids, func(ctx context.Context, id int, b *batch) {
		_, skipped, err := s.deleteOne(ctx, id, true)
		switch {
		case err != nil:
			b.fail(id, err)
		case skipped:
			b.skip(id)
		default:
			b.succeed(id)
		}
	})
}

func (s *DownloadCommands) deleteOne(ctx context.Context, id int, onlyCompleted bool) (serverID int, skipped bool, err error) {
	tree, err := s.loadTree(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if task, _ := tree.Get(id); onlyCompleted && task.DownloadStatus != domain.DownloadStatusCompleted {
		return 0, true, nil
	}

	for _, sid := range tree.IDs(id) {
		for _, kind := range []scheduler.JobKind{scheduler.KindDownload, scheduler.KindMerge} {
			if s.jobs.IsActive(kind, sid) {
				if err := s.stopJob(ctx, kind, sid); err != nil {
					s.logger.Warn("failed to stop job of deleted task", "task_id", sid, "kind", kind, "error", err)
				}
			}
		}
	}
	resume := s.cancelAncestorJobs(ctx, tree, id)
	defer s.resumeJobs(resume)

	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	task, _ := tree.Get(id)
	if onlyCompleted && task.DownloadStatus != domain.DownloadStatusCompleted {
		return 0, true, nil
	}

	if task.DownloadDirectory != "" {
		if err := s.files.DeleteAllFilesFromDirectory(task.DownloadDirectory); err != nil {
			s.logger.Warn("failed to delete task files", "task_id", id, "directory", task.DownloadDirectory, "error", err)
		}
	}

	removed, err := s.repo.DeleteTree(ctx, id)
	if err != nil {
		return 0, false, s.repoError(id, err)
	}

	if id != tree.RootID {
		tree.Remove(id)
		tree.RecomputeStatus()
		if err := s.save(ctx, tree, tree.RootID); err != nil {
			return 0, false, err
		}
	}

	s.logger.Info("download task deleted", "task_id", id, "removed", len(removed))
	s.publish(ctx, domain.DownloadTaskUpdated{TaskID: id})
	return task.PlexServerID, false, nil
}

// ReportStatus applies a worker-observed status to the leaves under id. A stale
// Downloading report for a paused or stopped leaf is ignored.
func (s *DownloadCommands) ReportStatus(ctx context.Context, id int, status domain.DownloadStatus) error {
	if !status.Valid() {
		return errpkg.Validation(fmt.Sprintf("unknown status %q", status), nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	rootBefore := tree.Root().DownloadStatus
	changed := tree.SetLeafStatus(id, status, func(current domain.DownloadStatus) bool {
		return status != domain.DownloadStatusDownloading || !isHalted(current)
	})
	if len(changed) == 0 {
		return nil
	}
	if err := s.save(ctx, tree, id); err != nil {
		return err
	}

	s.countCompletion(tree, rootBefore)
	task, _ := tree.Get(id)
	s.publish(ctx, domain.DownloadTaskUpdated{TaskID: id, Status: task.DownloadStatus})
	return nil
}

// ReportProgress records the bytes received for leaf id and rolls the totals up
// to its ancestors.
func (s *DownloadCommands) ReportProgress(ctx context.Context, id int, received, total int64) error {
	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	leaf, _ := tree.Get(id)
	if !leaf.IsLeaf() {
		return errpkg.Validation(fmt.Sprintf("task %d is not a leaf", id), nil)
	}
	leaf.DataReceived = received
	if total >= 0 {
		leaf.DataTotal = total
	}
	for _, aid := range tree.Ancestors(id) {
		parent, _ := tree.Get(aid)
		parent.DataReceived, parent.DataTotal = 0, 0
		for _, c := range tree.Children(aid) {
			parent.DataReceived += c.DataReceived
			parent.DataTotal += c.DataTotal
		}
	}

	if err := s.save(ctx, tree, id); err != nil {
		return err
	}
	s.publish(ctx, domain.DownloadTaskUpdated{TaskID: id, Status: leaf.DownloadStatus})
	return nil
}

// MarkMerging moves a download-finished subtree to Merging. It reports false when
// the subtree is not download finished.
func (s *DownloadCommands) MarkMerging(ctx context.Context, id int) (bool, error) {
	return s.transition(ctx, id, func(tree *domain.TaskTree, task *domain.DownloadTask) bool {
		return task.DownloadStatus == domain.DownloadStatusDownloadFinished
	}, func(tree *domain.TaskTree) {
		tree.SetToMerging(id)
	})
}

// RevertMerging moves a merging subtree back to DownloadFinished.
func (s *DownloadCommands) RevertMerging(ctx context.Context, id int) (bool, error) {
	return s.transition(ctx, id, hasMergingLeaf, func(tree *domain.TaskTree) {
		tree.SetToDownloadFinished(id)
	})
}

// MarkCompleted moves a merging subtree to Completed. Repeated calls are no-ops.
func (s *DownloadCommands) MarkCompleted(ctx context.Context, id int) (bool, error) {
	return s.transition(ctx, id, hasMergingLeaf, func(tree *domain.TaskTree) {
		tree.SetToCompleted(id)
	})
}

// MarkMergeFailed moves the merging leaves under id to Error.
func (s *DownloadCommands) MarkMergeFailed(ctx context.Context, id int) (bool, error) {
	return s.transition(ctx, id, hasMergingLeaf, func(tree *domain.TaskTree) {
		tree.SetLeafStatus(id, domain.DownloadStatusError, isMerging)
	})
}

// transition runs an administrative bulk change when guard accepts the tree.
// Merge outcomes are guarded on the leaves: ancestors of merging leaves may have
// been re-aggregated to Downloading since the merge started.
func (s *DownloadCommands) transition(ctx context.Context, id int, guard func(*domain.TaskTree, *domain.DownloadTask) bool, apply func(*domain.TaskTree)) (bool, error) {
	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	task, _ := tree.Get(id)
	if !guard(tree, task) {
		s.logger.Debug("status transition skipped", "task_id", id, "status", task.DownloadStatus)
		return false, nil
	}

	rootBefore := tree.Root().DownloadStatus
	apply(tree)
	tree.RecomputeAncestors(id)
	if err := s.save(ctx, tree, id); err != nil {
		return false, err
	}

	s.countCompletion(tree, rootBefore)
	s.publish(ctx, domain.DownloadTaskUpdated{TaskID: id, Status: task.DownloadStatus})
	return true, nil
}

func isMerging(s domain.DownloadStatus) bool {
	return s == domain.DownloadStatusMerging
}

func hasMergingLeaf(tree *domain.TaskTree, task *domain.DownloadTask) bool {
	return tree.HasLeaf(task.ID, isMerging)
}

// RecomputeRootStatus re-aggregates the whole tree containing id and saves it.
func (s *DownloadCommands) RecomputeRootStatus(ctx context.Context, id int) (domain.DownloadStatus, error) {
	tree, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	tree.RecomputeStatus()
	if err := s.save(ctx, tree, id); err != nil {
		return "", err
	}
	return tree.Root().DownloadStatus, nil
}

func (s *DownloadCommands) countCompletion(tree *domain.TaskTree, rootBefore domain.DownloadStatus) {
	if rootBefore != domain.DownloadStatusCompleted && tree.Root().DownloadStatus == domain.DownloadStatusCompleted {
		metrics.TasksCompleted.Inc()
	}
}

// loadTree reads the tree containing id without locking it.
func (s *DownloadCommands) loadTree(ctx context.Context, id int) (*domain.TaskTree, error) {
	tree, err := s.repo.GetRootTree(ctx, id)
	if err != nil {
		return nil, s.repoError(id, err)
	}
	return tree, nil
}

// loadForUpdate locks the tree containing id and reads it fresh.
func (s *DownloadCommands) loadForUpdate(ctx context.Context, id int) (*domain.TaskTree, func(), error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, nil, s.repoError(id, err)
	}
	rootID := task.RootDownloadTaskID
	if rootID == 0 {
		rootID = task.ID
	}

	unlock := s.locks.Lock(rootID)
	tree, err := s.repo.GetRootTree(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, s.repoError(id, err)
	}
	return tree, unlock, nil
}

func (s *DownloadCommands) save(ctx context.Context, tree *domain.TaskTree, id int) error {
	if err := s.repo.SaveTree(ctx, tree); err != nil {
		e := errpkg.Store("failed to save task tree", err)
		e.TaskID = id
		return e
	}
	return nil
}

func (s *DownloadCommands) repoError(id int, err error) error {
	if errors.Is(err, errpkg.ErrTaskNotFound) {
		return errpkg.NotFound(id, err)
	}
	e := errpkg.Store("failed to load task", err)
	e.TaskID = id
	return e
}

func (s *DownloadCommands) activeInLineage(tree *domain.TaskTree, id int) int {
	for _, lid := range append(tree.Ancestors(id), tree.IDs(id)...) {
		if s.jobs.IsActive(scheduler.KindDownload, lid) {
			return lid
		}
	}
	return 0
}

// stopJob cancels the job and waits, bounded, for it to leave the scheduler.
// A missing job is not an error.
func (s *DownloadCommands) stopJob(ctx context.Context, kind scheduler.JobKind, id int) error {
	if err := s.jobs.Stop(kind, id); err != nil {
		if errors.Is(err, errpkg.ErrJobNotFound) {
			return nil
		}
		return asJobError(id, fmt.Sprintf("cannot stop %s job", kind), err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	if err := s.jobs.Wait(waitCtx, kind, id); err != nil {
		s.logger.Warn("job still tearing down", "task_id", id, "kind", kind, "error", err)
	}
	return nil
}

// cancelAncestorJobs stops download jobs bound to ancestors of id and returns
// them so they can be started again once id has been dealt with.
func (s *DownloadCommands) cancelAncestorJobs(ctx context.Context, tree *domain.TaskTree, id int) []scheduler.Job {
	var resume []scheduler.Job
	for _, aid := range tree.Ancestors(id) {
		if !s.jobs.IsActive(scheduler.KindDownload, aid) {
			continue
		}
		if err := s.stopJob(ctx, scheduler.KindDownload, aid); err != nil {
			s.logger.Warn("failed to stop ancestor job", "task_id", aid, "error", err)
			continue
		}
		anc, _ := tree.Get(aid)
		resume = append(resume, scheduler.Job{Kind: scheduler.KindDownload, TaskID: aid, ServerID: anc.PlexServerID})
	}
	return resume
}

func (s *DownloadCommands) resumeJobs(jobs []scheduler.Job) {
	for _, job := range jobs {
		if err := s.jobs.Start(job); err != nil {
			s.logger.Warn("failed to resume download job", "task_id", job.TaskID, "error", err)
		}
	}
}

func (s *DownloadCommands) publish(ctx context.Context, evt domain.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish event", "event", evt.EventType(), "error", err)
	}
}

func asJobError(id int, msg string, err error) error {
	var e *errpkg.Error
	if errors.As(err, &e) {
		return e
	}
	return errpkg.JobScheduling(id, msg, err)
}

func isHalted(s domain.DownloadStatus) bool {
	return s == domain.DownloadStatusPaused || s == domain.DownloadStatusStopped
}

func isPausable(s domain.DownloadStatus) bool {
	return s == domain.DownloadStatusQueued || s == domain.DownloadStatusDownloading || s == domain.DownloadStatusPaused
}

// isStoppable keeps leaves whose bytes are already on disk.
func isStoppable(s domain.DownloadStatus) bool {
	return !s.IsFinishedDownloading()
}

func haltFilter(target domain.DownloadStatus) func(domain.DownloadStatus) bool {
	if target == domain.DownloadStatusStopped {
		return isStoppable
	}
	return isPausable
}

var errNothingToHalt = errors.New("no leaf can be halted")

func nothingToHalt(id int, target domain.DownloadStatus) error {
	return errpkg.JobScheduling(id, fmt.Sprintf("task has no leaf that can become %s", target), errNothingToHalt)
}

func leafStatuses(tree *domain.TaskTree, id int) map[int]domain.DownloadStatus {
	statuses := make(map[int]domain.DownloadStatus)
	for _, leaf := range tree.Leaves(id) {
		statuses[leaf.ID] = leaf.DownloadStatus
	}
	return statuses
}

func restoreLeafStatuses(tree *domain.TaskTree, statuses map[int]domain.DownloadStatus) {
	for id, status := range statuses {
		if leaf, ok := tree.Get(id); ok {
			leaf.DownloadStatus = status
		}
	}
	tree.RecomputeStatus()
}
