// Package archive packs and unpacks a directory tree (or a file subset) as
// a compressed tar stream, with path-traversal defenses on extraction.
package archive

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"

	"github.com/archiveforge/gitarchiver/internal/model"
)

var excludedDirs = map[string]bool{
	".git":     true,
	"versions": true,
}

// Create packs sourceDir into archivePath as a tar stream wrapped in an xz
// compressor. When subset is nil, it walks sourceDir with the same
// exclusion rule the hasher uses; when non-nil, it packs only those
// relative paths (each must refer to a regular file under sourceDir).
// Returns the resulting file's size in bytes and the number of entries
// written.
func Create(sourceDir, archivePath string, subset []string) (sizeBytes int64, fileCount int, err error) {
	if mkErr := os.MkdirAll(filepath.Dir(archivePath), 0o755); mkErr != nil {
		return 0, 0, model.IO(mkErr, "failed to create archive parent directory")
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return 0, 0, model.IO(err, "failed to create archive file %s", archivePath)
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return 0, 0, model.IO(err, "failed to start xz compressor")
	}
	tw := tar.NewWriter(xw)

	count := 0
	if subset != nil {
		for _, rel := range subset {
			written, err := addFile(tw, sourceDir, rel)
			if err != nil {
				tw.Close()
				xw.Close()
				return 0, 0, err
			}
			if written {
				count++
			}
		}
	} else {
		walkErr := filepath.Walk(sourceDir, func(path string, info fs.FileInfo, werr error) error {
			if werr != nil {
				return werr
			}
			if path == sourceDir {
				return nil
			}
			if info.IsDir() {
				if excludedDirs[info.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			rel, relErr := filepath.Rel(sourceDir, path)
			if relErr != nil {
				return relErr
			}
			if _, err := addFile(tw, sourceDir, rel); err != nil {
				return err
			}
			count++
			return nil
		})
		if walkErr != nil {
			tw.Close()
			xw.Close()
			return 0, 0, model.IO(walkErr, "failed to walk %s", sourceDir)
		}
	}

	if err := tw.Close(); err != nil {
		xw.Close()
		return 0, 0, model.IO(err, "failed to finalize tar stream")
	}
	if err := xw.Close(); err != nil {
		return 0, 0, model.IO(err, "failed to finalize xz stream")
	}

	info, err := out.Stat()
	if err != nil {
		return 0, 0, model.IO(err, "failed to stat archive file")
	}
	return info.Size(), count, nil
}

func addFile(tw *tar.Writer, sourceDir, rel string) (bool, error) {
	full := filepath.Join(sourceDir, rel)
	info, err := os.Stat(full)
	if err != nil {
		return false, model.IO(err, "failed to stat %s", full)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, model.IO(err, "failed to build tar header for %s", rel)
	}
	hdr.Name = filepath.ToSlash(rel)

	if err := tw.WriteHeader(hdr); err != nil {
		return false, model.IO(err, "failed to write tar header for %s", rel)
	}

	f, err := os.Open(full)
	if err != nil {
		return false, model.IO(err, "failed to open %s", full)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return false, model.IO(err, "failed to write %s into archive", rel)
	}
	return true, nil
}

// Extract unpacks archivePath into destDir. destDir is canonicalized
// first; every entry whose name contains a ".." component or is rooted is
// rejected with BadInput before anything is written. After creating each
// parent directory, the parent is re-canonicalized and the extraction
// fails if it no longer starts with the canonical destination, which
// defends against a symlink planted mid-extraction. Permission bits from
// the archive are not honored; extracted files are written 0o644.
//
// Extraction is best-effort: on a traversal failure, files already
// written earlier in the same call are left in place. This function
// extracts directly into whatever destDir it is given; it does not stage
// through a temporary directory. StagingDir builds a uuid-suffixed name
// for callers that want one; the extract command does not use it.
func Extract(archivePath, destDir string) error {
	destCanon, err := canonicalize(destDir)
	if err != nil {
		return model.IO(err, "failed to canonicalize destination %s", destDir)
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return model.IO(err, "failed to open archive %s", archivePath)
	}
	defer in.Close()

	xr, err := xz.NewReader(in)
	if err != nil {
		return model.IO(err, "failed to start xz decompressor")
	}
	tr := tar.NewReader(xr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.IO(err, "failed to read tar entry")
		}

		if err := rejectTraversal(hdr.Name); err != nil {
			return err
		}

		target := filepath.Join(destCanon, filepath.FromSlash(hdr.Name))
		parent := filepath.Dir(target)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return model.IO(err, "failed to create directory %s", parent)
		}
		parentCanon, err := canonicalize(parent)
		if err != nil {
			return model.IO(err, "failed to canonicalize %s", parent)
		}
		if !withinDestination(parentCanon, destCanon) {
			return model.BadInput("path traversal detected in archive entry %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return model.IO(err, "failed to create directory %s", target)
			}
		case tar.TypeReg:
			if err := writeExtractedFile(tr, target); err != nil {
				return err
			}
		default:
			// symlinks, devices, etc. from the archive are not honored.
		}
	}
	return nil
}

func writeExtractedFile(r io.Reader, target string) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return model.IO(err, "failed to create %s", target)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return model.IO(err, "failed to write %s", target)
	}
	return nil
}

func rejectTraversal(name string) error {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return model.BadInput("path traversal detected in archive entry %q", name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return model.BadInput("path traversal detected in archive entry %q", name)
		}
	}
	return nil
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return resolved, nil
}

func withinDestination(candidate, destCanon string) bool {
	if candidate == destCanon {
		return true
	}
	return strings.HasPrefix(candidate, destCanon+string(os.PathSeparator))
}

// Delete removes archivePath. Absence of the file is a soft error: it is
// returned so callers can decide, but callers that pre-check existence
// should treat it as non-fatal.
func Delete(archivePath string) error {
	if err := os.Remove(archivePath); err != nil {
		if os.IsNotExist(err) {
			return model.UserVisible("archive file %s does not exist", archivePath)
		}
		return model.IO(err, "failed to delete %s", archivePath)
	}
	return nil
}

// StagingDir returns a uuid-suffixed directory name under base suitable
// for extracting into before a final move, avoiding collisions across
// concurrent extracts that share an archive name.
func StagingDir(base, archiveName string) string {
	return filepath.Join(base, archiveName+"-"+uuid.NewString())
}
