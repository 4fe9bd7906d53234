package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCreateExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "beta")
	writeFile(t, filepath.Join(src, ".git", "config"), "ignored")
	writeFile(t, filepath.Join(src, "versions", "old.tar.xz"), "ignored")

	archivePath := filepath.Join(t.TempDir(), "out.tar.xz")
	size, count, err := Create(src, archivePath, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if size == 0 {
		t.Fatalf("expected non-zero archive size")
	}
	if count != 2 {
		t.Fatalf("expected 2 files packed, got %d", count)
	}

	dest := t.TempDir()
	if err := Extract(archivePath, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	gotA, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil || string(gotA) != "alpha" {
		t.Fatalf("a.txt = %q, %v", gotA, err)
	}
	gotB, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil || string(gotB) != "beta" {
		t.Fatalf("sub/b.txt = %q, %v", gotB, err)
	}
	if _, err := os.Stat(filepath.Join(dest, ".git")); !os.IsNotExist(err) {
		t.Fatalf("expected .git to be excluded from archive")
	}
}

func TestCreateSubset(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "b.txt"), "beta")

	archivePath := filepath.Join(t.TempDir(), "out.tar.xz")
	_, count, err := Create(src, archivePath, []string{"a.txt"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 file packed, got %d", count)
	}

	dest := t.TempDir()
	if err := Extract(archivePath, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("b.txt should not have been packed")
	}
}

// craftTraversalArchive hand-builds a tar+xz archive with one entry whose
// name escapes the destination, bypassing Create's own safe path writer.
func craftTraversalArchive(t *testing.T, archivePath string) {
	t.Helper()
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	tw := tar.NewWriter(xw)

	hdr := &tar.Header{
		Name: "../escape.txt",
		Mode: 0o644,
		Size: int64(len("gotcha")),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write([]byte("gotcha")); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("close xz: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "evil.tar.xz")
	craftTraversalArchive(t, archivePath)

	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("mkdir dest: %v", err)
	}

	err := Extract(archivePath, dest)
	if err == nil {
		t.Fatalf("expected traversal error, got nil")
	}
	if _, statErr := os.Stat(filepath.Join(parent, "escape.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("escape.txt must not exist outside dest_dir")
	}
}

func TestDeleteMissingIsSoftError(t *testing.T) {
	err := Delete(filepath.Join(t.TempDir(), "does-not-exist.tar.xz"))
	if err == nil {
		t.Fatalf("expected an error for missing file")
	}
}
