package vcsdriver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
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

func newRemote(t *testing.T) string {
	t.Helper()
	remote := t.TempDir()
	runGit(t, remote, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(remote, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, remote, "add", "README.md")
	runGit(t, remote, "commit", "-m", "initial")
	return remote
}

func TestCloneRefusesExistingWorkingCopy(t *testing.T) {
	requireGit(t)
	dest := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dest, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	d := New()
	err := d.Clone(context.Background(), "file:///does-not-matter", dest, nil)
	if err == nil {
		t.Fatalf("expected refusal for existing working copy")
	}
}

func TestCloneAndPull(t *testing.T) {
	requireGit(t)
	remote := newRemote(t)
	dest := filepath.Join(t.TempDir(), "clone")

	d := New()
	if err := d.Clone(context.Background(), remote, dest, nil); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "README.md")); err != nil {
		t.Fatalf("expected working tree file: %v", err)
	}

	changed, err := d.FetchAndCheck(context.Background(), dest)
	if err != nil {
		t.Fatalf("FetchAndCheck: %v", err)
	}
	if changed {
		t.Fatalf("expected no changes immediately after clone")
	}

	if err := os.WriteFile(filepath.Join(remote, "more.txt"), []byte("more"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runGit(t, remote, "add", "more.txt")
	runGit(t, remote, "commit", "-m", "second")

	pulled, err := d.Pull(context.Background(), dest)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !pulled {
		t.Fatalf("expected Pull to report an update")
	}
	if _, err := os.Stat(filepath.Join(dest, "more.txt")); err != nil {
		t.Fatalf("expected pulled file to exist: %v", err)
	}
}
