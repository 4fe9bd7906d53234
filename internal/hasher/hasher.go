// Package hasher walks a working directory, hashes eligible files, and
// computes manifest diffs against a prior run.
package hasher

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// excludedDirs are skipped entirely, at any depth, during a walk.
var excludedDirs = map[string]bool{
	".git":     true,
	"versions": true,
}

// secondSeed is an arbitrary non-zero seed used to derive the second half
// of the 128-bit digest from the same content as the first xxhash pass.
const secondSeed = 0x9e3779b97f4a7c15

// HashTree walks root recursively and returns relative_path -> hex content
// hash for every eligible regular file. Directories named exactly ".git"
// or "versions" are skipped entirely, at any depth. File symlinks are
// followed; symlinked directories are not recursed into. Relative paths
// use forward slashes on every platform.
func HashTree(root string) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if info.IsDir() {
			if excludedDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr != nil {
				return nil
			}
			if target.IsDir() {
				return nil
			}
		}
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		digest, hashErr := hashFile(path)
		if hashErr != nil {
			return hashErr
		}
		out[rel] = digest
		return nil
	})
	if err != nil {
		return nil, model.IO(err, "failed to walk %s", root)
	}
	return out, nil
}

// hashFile computes a 128-bit content digest: two xxhash passes over the
// same byte stream with distinct seeds, concatenated into one hex string.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	lo := xxhash.Sum64(data)
	hi := xxhash.NewWithSeed(secondSeed)
	if _, err := hi.Write(data); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x%016x", hi.Sum64(), lo), nil
}

// DetectChanged returns the paths present in newManifest whose hash
// differs from oldManifest's, or which are absent from oldManifest.
// Deletions (present in old, absent from new) are never reported.
func DetectChanged(old, new map[string]string) []string {
	var changed []string
	for path, newHash := range new {
		oldHash, existed := old[path]
		if !existed || oldHash != newHash {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
