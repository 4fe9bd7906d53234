// Package urlcanon validates, normalizes, and splits repository URLs for
// the designated hosting service (github.com).
package urlcanon

import (
	"strings"

	"github.com/archiveforge/gitarchiver/internal/model"
)

const host = "github.com"

// Validate fails with BadInput if raw is empty, contains a percent sign
// anywhere, has a scheme other than http/https, a host other than the
// designated hosting service, or fewer than two non-empty path segments
// after stripping a trailing slash and optional ".git" suffix.
//
// Percent-encoding is the only traversal vector that survives string-level
// parsing, so a blanket reject of any "%" is both cheap and a complete
// defense for this layer.
func Validate(raw string) error {
	if raw == "" {
		return model.BadInput("url must not be empty")
	}
	if strings.Contains(raw, "%") {
		return model.BadInput("url must not contain percent-encoding")
	}

	scheme, rest, ok := splitScheme(raw)
	if !ok {
		return model.BadInput("url must have an http or https scheme")
	}
	lowerScheme := strings.ToLower(scheme)
	if lowerScheme != "http" && lowerScheme != "https" {
		return model.BadInput("url must have an http or https scheme")
	}

	hostPart, path := splitHostPath(rest)
	if !strings.EqualFold(hostPart, host) {
		return model.BadInput("url must point at %s", host)
	}

	path = trimRepoSuffix(path)
	segments := nonEmptySegments(path)
	if len(segments) < 2 {
		return model.BadInput("url must contain an owner and a repository name")
	}
	return nil
}

// Normalize lowercases the whole URL, upgrades http to https, and strips a
// trailing slash, then a trailing ".git", then any residual trailing slash.
func Normalize(raw string) string {
	s := strings.ToLower(raw)
	if strings.HasPrefix(s, "http://") {
		s = "https://" + s[len("http://"):]
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, "/")
	return s
}

// Split returns (owner, name), the first two non-empty path segments of
// raw after stripping a trailing slash and optional ".git" suffix. It does
// not itself normalize case, so invoking it on an un-normalized input
// preserves original case.
func Split(raw string) (owner, name string, ok bool) {
	_, rest, schemeOK := splitScheme(raw)
	if !schemeOK {
		return "", "", false
	}
	_, path := splitHostPath(rest)
	path = trimRepoSuffix(path)
	segments := nonEmptySegments(path)
	if len(segments) < 2 {
		return "", "", false
	}
	return segments[0], segments[1], true
}

func splitScheme(raw string) (scheme, rest string, ok bool) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "", "", false
	}
	return raw[:idx], raw[idx+3:], true
}

func splitHostPath(rest string) (hostPart, path string) {
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, ""
	}
	return rest[:idx], rest[idx:]
}

func trimRepoSuffix(path string) string {
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimSuffix(path, ".git")
	path = strings.TrimSuffix(path, "/")
	return path
}

func nonEmptySegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
