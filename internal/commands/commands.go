// Package commands is the shell-facing command surface: one method per
// command, each a thin, validating wrapper around the catalog, the task
// manager, and the codec.
package commands

import (
	"context"
	"log"
	"os"

	"github.com/archiveforge/gitarchiver/internal/archive"
	"github.com/archiveforge/gitarchiver/internal/credential"
	"github.com/archiveforge/gitarchiver/internal/githubmeta"
	"github.com/archiveforge/gitarchiver/internal/legacyimport"
	"github.com/archiveforge/gitarchiver/internal/model"
	"github.com/archiveforge/gitarchiver/internal/store"
	"github.com/archiveforge/gitarchiver/internal/tasks"
	"github.com/archiveforge/gitarchiver/internal/urlcanon"
)

// Commands is the single plain record holding every handle a command
// needs: the catalog, the task manager, and the remote client. It is
// passed to every HTTP handler and nothing else carries process-wide
// state.
type Commands struct {
	Store  *store.Store
	Tasks  *tasks.Manager
	Remote *githubmeta.Client
	Logger *log.Logger
}

// AddRepo validates and normalizes url, then inserts it as Pending.
func (c *Commands) AddRepo(ctx context.Context, rawURL string) (model.Repository, error) {
	if err := urlcanon.Validate(rawURL); err != nil {
		return model.Repository{}, err
	}
	normalized := urlcanon.Normalize(rawURL)
	owner, name, ok := urlcanon.Split(normalized)
	if !ok {
		return model.Repository{}, model.BadInput("could not split %q into owner/name", rawURL)
	}
	return c.Store.InsertRepo(ctx, owner, name, normalized)
}

// ListRepos returns repositories ordered by id ascending, optionally
// filtered by status.
func (c *Commands) ListRepos(ctx context.Context, statusFilter string) ([]model.Repository, error) {
	return c.Store.ListRepos(ctx, model.RepoStatus(statusFilter))
}

// DeleteRepo cancels any active task for id, optionally removes the local
// working copy recursively, and deletes the catalog row (cascade).
func (c *Commands) DeleteRepo(ctx context.Context, id int64, removeFiles bool) error {
	c.Tasks.Cancel(id)

	if removeFiles {
		repo, err := c.Store.GetRepoByID(ctx, id)
		if err != nil {
			return err
		}
		if repo.LocalPath != "" {
			if err := os.RemoveAll(repo.LocalPath); err != nil {
				return model.IO(err, "failed to remove local working copy %s", repo.LocalPath)
			}
		}
	}
	return c.Store.DeleteRepo(ctx, id)
}

// ImportFromFile reads a newline-delimited list of repository URLs.
func (c *Commands) ImportFromFile(ctx context.Context, path string) (legacyimport.FileImportResult, error) {
	return legacyimport.ImportFromFile(ctx, c.Store, path)
}

// MigrateFromJSON imports a legacy JSON export.
func (c *Commands) MigrateFromJSON(ctx context.Context, path string) (legacyimport.JSONImportResult, error) {
	return legacyimport.MigrateFromJSON(ctx, c.Store, path)
}

// CloneRepo enqueues Clone(id).
func (c *Commands) CloneRepo(id int64) error {
	return c.Tasks.Enqueue(tasks.Clone(id))
}

// UpdateRepo enqueues Update(id).
func (c *Commands) UpdateRepo(id int64) error {
	return c.Tasks.Enqueue(tasks.Update(id))
}

// UpdateAll enqueues UpdateAll{includeArchived}.
func (c *Commands) UpdateAll(includeArchived bool) error {
	return c.Tasks.Enqueue(tasks.UpdateAll(includeArchived))
}

// StopAllTasks cancels every in-flight task.
func (c *Commands) StopAllTasks() {
	c.Tasks.CancelAll()
}

// ListArchives returns every archive recorded for repoID.
func (c *Commands) ListArchives(ctx context.Context, repoID int64) ([]model.Archive, error) {
	return c.Store.ListArchives(ctx, repoID)
}

// ExtractArchive extracts archiveID's file into destDir.
func (c *Commands) ExtractArchive(ctx context.Context, archiveID int64, destDir string) error {
	a, err := c.Store.GetArchiveByID(ctx, archiveID)
	if err != nil {
		return err
	}
	return archive.Extract(a.Path, destDir)
}

// DeleteArchive deletes both the catalog row and the on-disk file.
func (c *Commands) DeleteArchive(ctx context.Context, archiveID int64) error {
	a, err := c.Store.GetArchiveByID(ctx, archiveID)
	if err != nil {
		return err
	}
	if err := c.Store.DeleteArchive(ctx, archiveID); err != nil {
		return err
	}
	if err := archive.Delete(a.Path); err != nil {
		c.Logger.Printf("archive file %s already gone: %v", a.Path, err)
	}
	return nil
}

// GetSettings returns every stored setting key/value pair.
func (c *Commands) GetSettings(ctx context.Context) (map[string]string, error) {
	return c.Store.GetAppSettings(ctx)
}

// SaveSettings writes the given settings transactionally. An empty auth
// token value deletes the credential-store entry instead of writing an
// empty string.
func (c *Commands) SaveSettings(ctx context.Context, values map[string]*string, authToken *string) error {
	if err := c.Store.SaveAppSettings(ctx, values); err != nil {
		return err
	}
	if authToken != nil {
		if err := credential.Set(*authToken); err != nil {
			return err
		}
	}
	return nil
}

// CheckRateLimit calls the remote metadata client's rate-limit probe.
func (c *Commands) CheckRateLimit(ctx context.Context) (githubmeta.RateLimit, error) {
	return c.Remote.RateLimit(ctx)
}
