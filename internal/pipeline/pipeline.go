// Package pipeline is the worker side of the orchestration engine: a
// single long-running loop that consumes tasks from the C7 scheduler and
// dispatches the stage sequence for each, calling the hasher, archive
// codec, VCS driver, remote metadata client, and catalog, emitting progress events
// at stage boundaries.
package pipeline

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/archiveforge/gitarchiver/internal/archive"
	"github.com/archiveforge/gitarchiver/internal/events"
	"github.com/archiveforge/gitarchiver/internal/githubmeta"
	"github.com/archiveforge/gitarchiver/internal/hasher"
	"github.com/archiveforge/gitarchiver/internal/model"
	"github.com/archiveforge/gitarchiver/internal/store"
	"github.com/archiveforge/gitarchiver/internal/tasks"
	"github.com/archiveforge/gitarchiver/internal/vcsdriver"
)

// Pipeline owns the worker loop and every stage it dispatches to.
type Pipeline struct {
	store    *store.Store
	taskMgr  *tasks.Manager
	vcs      *vcsdriver.Driver
	remote   *githubmeta.Client
	events   *events.Broadcaster
	dataDir  string
	logger   *log.Logger
}

// New builds a Pipeline. dataDir is the root under which working copies
// and their versions/ subtrees are created.
func New(st *store.Store, taskMgr *tasks.Manager, vcs *vcsdriver.Driver, remote *githubmeta.Client, broadcaster *events.Broadcaster, dataDir string, logger *log.Logger) *Pipeline {
	return &Pipeline{
		store:   st,
		taskMgr: taskMgr,
		vcs:     vcs,
		remote:  remote,
		events:  broadcaster,
		dataDir: dataDir,
		logger:  logger,
	}
}

// Run is the single long-running loop. It receives tasks from the
// scheduler's channel; on Stop it drains the channel and returns.
// Otherwise it acquires a concurrency permit (blocking if at capacity)
// and runs the task's pipeline in its own goroutine, releasing the permit
// on exit — queue occupancy stays decoupled from executing concurrency.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.taskMgr.Tasks():
			if !ok {
				return
			}
			if t.Kind == tasks.KindStop {
				p.drain()
				return
			}
			if err := p.taskMgr.Semaphore().Acquire(ctx, 1); err != nil {
				return
			}
			go func(t tasks.Task) {
				defer p.taskMgr.Semaphore().Release(1)
				p.dispatch(ctx, t)
			}(t)
		}
	}
}

func (p *Pipeline) drain() {
	for {
		select {
		case t, ok := <-p.taskMgr.Tasks():
			if !ok {
				return
			}
			if t.Kind != tasks.KindStop {
				p.finalizeError(context.Background(), t, model.Custom("scheduler stopped"))
			}
		default:
			return
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, t tasks.Task) {
	switch t.Kind {
	case tasks.KindClone:
		p.runClone(ctx, t.RepoID)
	case tasks.KindUpdate:
		p.runUpdate(ctx, t.RepoID)
	case tasks.KindUpdateAll:
		p.runUpdateAll(ctx, t.IncludeArchived)
	case tasks.KindRefreshStatuses:
		p.runRefreshStatuses(ctx)
	}
}

// finalizeError records a failed per-id task's status and frees its
// dedup slot. UpdateAll/RefreshStatuses have no per-id slot to free.
func (p *Pipeline) finalizeError(ctx context.Context, t tasks.Task, err error) {
	p.logger.Printf("task %v failed: %v", t, err)
	if t.Kind == tasks.KindClone || t.Kind == tasks.KindUpdate {
		if updErr := p.store.UpdateRepoStatus(ctx, t.RepoID, model.StatusError, model.Render(err)); updErr != nil {
			p.logger.Printf("failed to record error status for repo %d: %v", t.RepoID, updErr)
		}
		p.taskMgr.MarkComplete(t.RepoID)
	}
}

func utcTimestamp() string {
	return time.Now().UTC().Format("20060102-150405")
}

func clonePath(dataDir, owner, name string) string {
	return filepath.Join(dataDir, owner, name+".git")
}

func versionsDir(clonePath string) string {
	return filepath.Join(clonePath, "versions")
}

// runClone implements the Clone(id) pipeline: load -> clone -> archive ->
// hash -> commit.
func (p *Pipeline) runClone(ctx context.Context, repoID int64) {
	token, _ := p.taskMgr.GetCancellationToken(repoID)
	defer p.taskMgr.MarkComplete(repoID)

	repo, err := p.store.GetRepoByID(ctx, repoID)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if token != nil && token.Cancelled() {
		return
	}

	p.emitProgress(repo.URL, model.StageCloning, 0, "")

	path := clonePath(p.dataDir, repo.Owner, repo.Name)
	cloneCtx, stopWatch := tokenContext(ctx, token)
	defer stopWatch()
	if err := p.vcs.Clone(cloneCtx, repo.URL, path, p.cancelAwareProgress(token)); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}

	if token != nil && token.Cancelled() {
		return
	}
	p.emitProgress(repo.URL, model.StageArchiving, 0.5, "")

	archiveFilename := repo.Name + "-" + utcTimestamp() + ".tar.xz"
	archivePath := filepath.Join(versionsDir(path), archiveFilename)
	sizeBytes, fileCount, err := archive.Create(path, archivePath, nil)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}

	manifest, err := hasher.HashTree(path)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}

	now := time.Now().UTC()
	if err := p.store.UpdateRepoStatus(ctx, repoID, model.StatusActive, ""); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if err := p.store.SetRepoLocalPath(ctx, repoID, path); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if err := p.store.UpdateRepoTimestamps(ctx, repoID, &now, &now, &now); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if _, err := p.store.InsertArchive(ctx, model.Archive{
		RepoID:    repoID,
		Filename:  archiveFilename,
		Path:      archivePath,
		SizeBytes: sizeBytes,
		FileCount: fileCount,
	}); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	for relPath, hash := range manifest {
		if err := p.store.UpsertFileHash(ctx, repoID, relPath, hash); err != nil {
			p.finalizeErrorNoSlotFree(ctx, repoID, err)
			return
		}
	}

	updated, err := p.store.GetRepoByID(ctx, repoID)
	if err == nil {
		p.events.Publish(events.RepoUpdated(updated))
	}
	p.emitProgress(repo.URL, model.StageArchiving, 1, "")
}

// runUpdate implements the Update(id) pipeline: load -> fetch-check ->
// pull -> detect-changes -> archive -> commit.
func (p *Pipeline) runUpdate(ctx context.Context, repoID int64) {
	token, _ := p.taskMgr.GetCancellationToken(repoID)
	defer p.taskMgr.MarkComplete(repoID)

	repo, err := p.store.GetRepoByID(ctx, repoID)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if repo.LocalPath == "" {
		p.finalizeErrorNoSlotFree(ctx, repoID, model.UserVisible("repository has no local working copy"))
		return
	}

	if token != nil && token.Cancelled() {
		return
	}
	p.emitProgress(repo.URL, model.StagePulling, 0, "")

	changed, err := p.vcs.FetchAndCheck(ctx, repo.LocalPath)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if !changed {
		now := time.Now().UTC()
		if err := p.store.UpdateRepoTimestamps(ctx, repoID, nil, nil, &now); err != nil {
			p.finalizeErrorNoSlotFree(ctx, repoID, err)
			return
		}
		p.emitProgress(repo.URL, model.StagePulling, 1, "up to date")
		return
	}

	if token != nil && token.Cancelled() {
		return
	}
	if _, err := p.vcs.Pull(ctx, repo.LocalPath); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}

	p.emitProgress(repo.URL, model.StageArchiving, 0.5, "")

	oldManifest, err := p.store.GetFileHashes(ctx, repoID)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	newManifest, err := hasher.HashTree(repo.LocalPath)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	changedPaths := hasher.DetectChanged(oldManifest, newManifest)

	// Archive selection rule: incremental iff there was a prior manifest
	// and at least one path changed; otherwise a full snapshot.
	isIncremental := len(oldManifest) > 0 && len(changedPaths) > 0

	var archiveFilename string
	var subset []string
	if isIncremental {
		archiveFilename = repo.Name + "-" + utcTimestamp() + "-incremental.tar.xz"
		subset = changedPaths
	} else {
		archiveFilename = repo.Name + "-" + utcTimestamp() + ".tar.xz"
	}
	archivePath := filepath.Join(versionsDir(repo.LocalPath), archiveFilename)
	sizeBytes, fileCount, err := archive.Create(repo.LocalPath, archivePath, subset)
	if err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}

	now := time.Now().UTC()
	if err := p.store.UpdateRepoTimestamps(ctx, repoID, nil, &now, &now); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	if _, err := p.store.InsertArchive(ctx, model.Archive{
		RepoID:        repoID,
		Filename:      archiveFilename,
		Path:          archivePath,
		SizeBytes:     sizeBytes,
		FileCount:     fileCount,
		IsIncremental: isIncremental,
	}); err != nil {
		p.finalizeErrorNoSlotFree(ctx, repoID, err)
		return
	}
	for relPath, hash := range newManifest {
		if err := p.store.UpsertFileHash(ctx, repoID, relPath, hash); err != nil {
			p.finalizeErrorNoSlotFree(ctx, repoID, err)
			return
		}
	}

	updated, err := p.store.GetRepoByID(ctx, repoID)
	if err == nil {
		p.events.Publish(events.RepoUpdated(updated))
	}
	p.emitProgress(repo.URL, model.StageArchiving, 1, "")
}

// runUpdateAll lists every repository, skips Pending, skips
// Archived/Deleted unless includeArchived, and enqueues Update(id) for
// the rest. Dedup rejections (a Clone or Update already in flight for
// that id) are logged and ignored.
func (p *Pipeline) runUpdateAll(ctx context.Context, includeArchived bool) {
	repos, err := p.store.ListRepos(ctx, "")
	if err != nil {
		p.logger.Printf("UpdateAll: failed to list repositories: %v", err)
		return
	}
	for _, repo := range repos {
		if repo.Status == model.StatusPending {
			continue
		}
		if (repo.Status == model.StatusArchived || repo.Status == model.StatusDeleted) && !includeArchived {
			continue
		}
		if err := p.taskMgr.Enqueue(tasks.Update(repo.ID)); err != nil {
			p.logger.Printf("UpdateAll: skipping repo %d, already in progress: %v", repo.ID, err)
		}
	}
}

// runRefreshStatuses lists every repository, batch-classifies via the
// remote metadata client, and writes back any status change, always
// stamping last_checked.
func (p *Pipeline) runRefreshStatuses(ctx context.Context) {
	repos, err := p.store.ListRepos(ctx, "")
	if err != nil {
		p.logger.Printf("RefreshStatuses: failed to list repositories: %v", err)
		return
	}
	if len(repos) == 0 {
		return
	}

	pairs := make([][2]string, len(repos))
	for i, r := range repos {
		pairs[i] = [2]string{r.Owner, r.Name}
	}
	metas, err := p.remote.Batch(ctx, pairs)
	if err != nil {
		p.logger.Printf("RefreshStatuses: batch probe failed: %v", err)
		return
	}
	statuses := githubmeta.Classify(metas)

	now := time.Now().UTC()
	for i, repo := range repos {
		newStatus := model.ParseRepoStatus(string(statuses[i]))
		if newStatus != repo.Status {
			if err := p.store.UpdateRepoStatus(ctx, repo.ID, newStatus, ""); err != nil {
				p.logger.Printf("RefreshStatuses: failed to update repo %d: %v", repo.ID, err)
				continue
			}
		}
		if err := p.store.UpdateRepoTimestamps(ctx, repo.ID, nil, nil, &now); err != nil {
			p.logger.Printf("RefreshStatuses: failed to stamp repo %d: %v", repo.ID, err)
		}
		if newStatus != repo.Status {
			updated, err := p.store.GetRepoByID(ctx, repo.ID)
			if err == nil {
				p.events.Publish(events.RepoUpdated(updated))
			}
		}
	}
}

func (p *Pipeline) emitProgress(repoURL string, stage model.TaskStage, fraction float64, message string) {
	p.events.Publish(events.TaskProgress(model.Progress(repoURL, stage, fraction, message)))
}

func (p *Pipeline) cancelAwareProgress(token *tasks.CancelToken) vcsdriver.ProgressFunc {
	return func(fraction float64, message string) bool {
		if token == nil {
			return true
		}
		return !token.Cancelled()
	}
}

// tokenContext derives a context that is done either when ctx itself is
// done or when token fires, whichever comes first. Passing the derived
// context into exec.CommandContext lets cancel(id) actually kill an
// in-flight subprocess instead of only being observed at the next stage
// boundary.
func tokenContext(ctx context.Context, token *tasks.CancelToken) (context.Context, context.CancelFunc) {
	derived, cancel := context.WithCancel(ctx)
	if token == nil {
		return derived, cancel
	}
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-derived.Done():
		}
	}()
	return derived, cancel
}

// finalizeErrorNoSlotFree records a failed task's error status; it does
// not call MarkComplete itself since the caller's own defer already does,
// avoiding a double-free of the dedup slot.
func (p *Pipeline) finalizeErrorNoSlotFree(ctx context.Context, repoID int64, err error) {
	p.logger.Printf("repo %d task failed: %v", repoID, err)
	if updErr := p.store.UpdateRepoStatus(ctx, repoID, model.StatusError, model.Render(err)); updErr != nil {
		p.logger.Printf("failed to record error status for repo %d: %v", repoID, updErr)
	}
}
