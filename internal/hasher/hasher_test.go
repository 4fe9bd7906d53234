package hasher

import (
	"os"
	"path/filepath"
	"testing"
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

func TestHashTreeExcludesGitAndVersions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")
	writeFile(t, filepath.Join(root, ".git", "config"), "ignored")
	writeFile(t, filepath.Join(root, "sub", "versions", "old.tar.xz"), "ignored")
	writeFile(t, filepath.Join(root, "versions", "x.tar.xz"), "ignored")

	got, err := HashTree(root)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}

	want := map[string]bool{"a.txt": true, "sub/b.txt": true}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(got), len(want), got)
	}
	for path := range want {
		if _, ok := got[path]; !ok {
			t.Fatalf("missing expected path %q in %v", path, got)
		}
	}
	for path := range got {
		if !want[path] {
			t.Fatalf("unexpected path %q in result", path)
		}
	}
}

func TestHashTreeDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "stable content")

	first, err := HashTree(root)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	second, err := HashTree(root)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if first["a.txt"] != second["a.txt"] {
		t.Fatalf("hash not stable: %q vs %q", first["a.txt"], second["a.txt"])
	}
	if len(first["a.txt"]) != 32 {
		t.Fatalf("expected 32 hex chars for 128-bit digest, got %d: %q", len(first["a.txt"]), first["a.txt"])
	}
}

func TestDetectChanged(t *testing.T) {
	old := map[string]string{
		"a.txt": "hash-a",
		"b.txt": "hash-b",
		"d.txt": "hash-d",
	}
	new := map[string]string{
		"a.txt": "hash-a",       // unchanged
		"b.txt": "hash-b-new",   // modified
		"c.txt": "hash-c",       // added
		// d.txt deleted — must not appear
	}

	changed := DetectChanged(old, new)
	want := map[string]bool{"b.txt": true, "c.txt": true}
	if len(changed) != len(want) {
		t.Fatalf("got %v, want keys of %v", changed, want)
	}
	for _, p := range changed {
		if !want[p] {
			t.Fatalf("unexpected changed path %q", p)
		}
	}
}
