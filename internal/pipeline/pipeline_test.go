package pipeline

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/archiveforge/gitarchiver/internal/events"
	"github.com/archiveforge/gitarchiver/internal/githubmeta"
	"github.com/archiveforge/gitarchiver/internal/store"
	"github.com/archiveforge/gitarchiver/internal/tasks"
	"github.com/archiveforge/gitarchiver/internal/vcsdriver"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newRemoteRepo(t *testing.T) string {
	t.Helper()
	remote := filepath.Join(t.TempDir(), "remote")
	if err := os.MkdirAll(remote, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	runGit(t, remote, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(remote, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, remote, "add", "README.md")
	runGit(t, remote, "commit", "-m", "initial")
	return remote
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *tasks.Manager, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	st, err := store.Open(dbPath, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	dataDir := filepath.Join(t.TempDir(), "data")
	taskMgr := tasks.New(4)
	vcs := vcsdriver.New()
	remote := githubmeta.New("")
	broadcaster := events.NewBroadcaster()
	logger := log.New(io.Discard, "", 0)

	p := New(st, taskMgr, vcs, remote, broadcaster, dataDir, logger)
	return p, st, taskMgr, dataDir
}

func TestCloneAndIdempotentUpdate(t *testing.T) {
	requireGit(t)
	remote := newRemoteRepo(t)

	p, st, taskMgr, dataDir := newTestPipeline(t)
	ctx := context.Background()

	repo, err := st.InsertRepo(ctx, "octo", "hello", remote)
	if err != nil {
		t.Fatalf("InsertRepo: %v", err)
	}
	if err := taskMgr.Enqueue(tasks.Clone(repo.ID)); err != nil {
		t.Fatalf("Enqueue Clone: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	go p.Run(runCtx)

	waitForActiveCount(t, taskMgr, 0)

	got, err := st.GetRepoByID(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetRepoByID: %v", err)
	}
	if got.Status != "active" {
		t.Fatalf("expected status active, got %v (last error: %s)", got.Status, got.LastError)
	}
	wantLocalPath := filepath.Join(dataDir, "octo", "hello.git")
	if got.LocalPath != wantLocalPath {
		t.Fatalf("local path = %q, want %q", got.LocalPath, wantLocalPath)
	}

	archives, err := st.ListArchives(ctx, repo.ID)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 1 || archives[0].IsIncremental {
		t.Fatalf("expected exactly one full archive, got %+v", archives)
	}

	manifest, err := st.GetFileHashes(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetFileHashes: %v", err)
	}
	if len(manifest) == 0 {
		t.Fatalf("expected a non-empty manifest after clone")
	}

	// Scenario B: an immediate Update against an unchanged remote should
	// not produce a new archive.
	if err := taskMgr.Enqueue(tasks.Update(repo.ID)); err != nil {
		t.Fatalf("Enqueue Update: %v", err)
	}
	waitForActiveCount(t, taskMgr, 0)

	archivesAfter, err := st.ListArchives(ctx, repo.ID)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archivesAfter) != 1 {
		t.Fatalf("expected no new archive from an idempotent update, got %d", len(archivesAfter))
	}
}

func waitForActiveCount(t *testing.T, m *tasks.Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if m.ActiveCount() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for active count %d, still %d", want, m.ActiveCount())
}
