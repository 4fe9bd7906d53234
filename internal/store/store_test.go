package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/archiveforge/gitarchiver/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(dbPath, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertRepoDuplicateURLFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertRepo(ctx, "octo", "hello", "https://github.com/octo/hello"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := s.InsertRepo(ctx, "octo", "hello", "https://github.com/octo/hello")
	if err == nil {
		t.Fatalf("expected duplicate URL to fail")
	}
	if got := model.Render(err); got == "An unexpected error occurred." {
		t.Fatalf("expected a user-visible duplicate message, got generic: %v", err)
	}
}

func TestDeleteRepoCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	repo, err := s.InsertRepo(ctx, "octo", "hello", "https://github.com/octo/hello")
	if err != nil {
		t.Fatalf("InsertRepo: %v", err)
	}
	if _, err := s.InsertArchive(ctx, model.Archive{RepoID: repo.ID, Filename: "hello-1.tar.xz", Path: "/x"}); err != nil {
		t.Fatalf("InsertArchive: %v", err)
	}
	if err := s.UpsertFileHash(ctx, repo.ID, "a.txt", "deadbeef"); err != nil {
		t.Fatalf("UpsertFileHash: %v", err)
	}

	if err := s.DeleteRepo(ctx, repo.ID); err != nil {
		t.Fatalf("DeleteRepo: %v", err)
	}

	archives, err := s.ListArchives(ctx, repo.ID)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 0 {
		t.Fatalf("expected archives to cascade-delete, got %d", len(archives))
	}
	hashes, err := s.GetFileHashes(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetFileHashes: %v", err)
	}
	if len(hashes) != 0 {
		t.Fatalf("expected file hashes to cascade-delete, got %d", len(hashes))
	}
}

func TestSaveAppSettingsRejectsUnknownKeyAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	goodValue := "16"
	err := s.SaveAppSettings(ctx, map[string]*string{
		"max_concurrent_tasks": &goodValue,
		"not_a_real_setting":   &goodValue,
	})
	if err == nil {
		t.Fatalf("expected unknown key to reject the whole batch")
	}

	settings, err := s.GetAppSettings(ctx)
	if err != nil {
		t.Fatalf("GetAppSettings: %v", err)
	}
	if _, ok := settings["max_concurrent_tasks"]; ok {
		t.Fatalf("expected all-or-nothing: no key should have been written, got %v", settings)
	}
}

func TestUpdateRepoTimestampsCoalesces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	repo, err := s.InsertRepo(ctx, "octo", "hello", "https://github.com/octo/hello")
	if err != nil {
		t.Fatalf("InsertRepo: %v", err)
	}

	cloned := repo.CreatedAt
	if err := s.UpdateRepoTimestamps(ctx, repo.ID, &cloned, nil, nil); err != nil {
		t.Fatalf("UpdateRepoTimestamps (1st): %v", err)
	}
	if err := s.UpdateRepoTimestamps(ctx, repo.ID, nil, &cloned, nil); err != nil {
		t.Fatalf("UpdateRepoTimestamps (2nd): %v", err)
	}

	got, err := s.GetRepoByID(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetRepoByID: %v", err)
	}
	if got.LastClonedAt == nil {
		t.Fatalf("expected last_cloned_at to survive the second COALESCE update")
	}
	if got.LastUpdatedAt == nil {
		t.Fatalf("expected last_updated_at to be set by the second update")
	}
}
