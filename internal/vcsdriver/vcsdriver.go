// Package vcsdriver shallow-clones, fetches, and fast-forwards a local git
// working copy by shelling out to the git binary, the same way the
// retrieval pack's own git-wrapping tools (exec.CommandContext over
// "git") do rather than reaching for a cgo or pure-Go git library.
package vcsdriver

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// ErrCancelled is returned by Clone when progressCB requests cancellation.
var ErrCancelled = errors.New("cancelled")

// ProgressFunc receives (fraction, message) updates during a clone.
// Returning false requests cancellation.
type ProgressFunc func(fraction float64, message string) (keepGoing bool)

// Driver shells out to the git binary found on PATH.
type Driver struct {
	GitBinary string
}

// New returns a Driver using "git" from PATH.
func New() *Driver {
	return &Driver{GitBinary: "git"}
}

// Clone performs a shallow (depth 1) clone of url into dest. It refuses if
// dest already contains a .git directory or a HEAD file (i.e. looks like
// an existing working copy). The subprocess runs under ctx, so a caller
// that derives ctx from a cancellation token can abort an in-flight clone
// before it completes rather than only noticing afterward; progressCB, if
// non-nil, is polled once the clone returns and may itself request
// cancellation, which surfaces as ErrCancelled wrapped in a Vcs AppError.
func (d *Driver) Clone(ctx context.Context, url, dest string, progressCB ProgressFunc) error {
	if looksLikeExistingRepo(dest) {
		return model.UserVisible("destination %s already contains a working copy", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return model.IO(err, "failed to create parent of %s", dest)
	}

	cmd := exec.CommandContext(ctx, d.GitBinary, "clone", "--depth", "1", url, dest) // #nosec G204 -- url/dest are validated/derived internally
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return model.Vcs(ctx.Err(), "clone of %s was cancelled", url)
		}
		return model.Vcs(err, "git clone failed: %s", strings.TrimSpace(string(out)))
	}

	if progressCB != nil {
		if !progressCB(1.0, "clone complete") {
			return model.Vcs(ErrCancelled, "clone of %s was cancelled", url)
		}
	}
	return nil
}

// FetchAndCheck performs a remote fetch, then compares local HEAD against
// FETCH_HEAD, the tip the fetch just retrieved. Returns true if they
// differ (i.e. there is something to pull).
func (d *Driver) FetchAndCheck(ctx context.Context, repoPath string) (bool, error) {
	if err := d.run(ctx, repoPath, "fetch", "origin"); err != nil {
		return false, model.Vcs(err, "git fetch failed in %s", repoPath)
	}

	localHead, err := d.revParse(ctx, repoPath, "HEAD")
	if err != nil {
		return false, model.Vcs(err, "failed to resolve HEAD in %s", repoPath)
	}
	remoteHead, err := d.revParse(ctx, repoPath, "FETCH_HEAD")
	if err != nil {
		return false, model.Vcs(err, "failed to resolve FETCH_HEAD in %s", repoPath)
	}
	return localHead != remoteHead, nil
}

// Pull fetches and, if the local branch can be fast-forwarded, advances
// HEAD and force-checks out the working tree. Returns false if there is
// nothing to do. Fails with UserVisible if the histories have diverged —
// this driver mirrors, it never merges.
func (d *Driver) Pull(ctx context.Context, repoPath string) (bool, error) {
	changed, err := d.FetchAndCheck(ctx, repoPath)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := d.run(ctx, repoPath, "merge-base", "--is-ancestor", "HEAD", "FETCH_HEAD"); err != nil {
		return false, model.UserVisible("cannot fast-forward; local has diverged")
	}

	if err := d.run(ctx, repoPath, "update-ref", "HEAD", "FETCH_HEAD"); err != nil {
		return false, model.Vcs(err, "failed to advance HEAD in %s", repoPath)
	}
	if err := d.run(ctx, repoPath, "checkout", "--force", "HEAD"); err != nil {
		return false, model.Vcs(err, "failed to check out working tree in %s", repoPath)
	}
	return true, nil
}

func (d *Driver) revParse(ctx context.Context, repoPath, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, d.GitBinary, "-C", repoPath, "rev-parse", ref) // #nosec G204 -- repoPath is catalog-derived, ref is a fixed literal
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *Driver) run(ctx context.Context, repoPath string, args ...string) error {
	full := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, d.GitBinary, full...) // #nosec G204 -- repoPath is catalog-derived, args are fixed literals
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.New(strings.TrimSpace(string(out)))
	}
	return nil
}

func looksLikeExistingRepo(dest string) bool {
	if info, err := os.Stat(filepath.Join(dest, ".git")); err == nil && info.IsDir() {
		return true
	}
	if _, err := os.Stat(filepath.Join(dest, "HEAD")); err == nil {
		return true
	}
	return false
}
