// Package legacyimport adapts two kinds of pre-existing external state
// into the catalog: a plain newline-delimited list of repository URLs,
// and a legacy JSON export from an older version of this tool.
package legacyimport

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/archiveforge/gitarchiver/internal/model"
	"github.com/archiveforge/gitarchiver/internal/store"
	"github.com/archiveforge/gitarchiver/internal/urlcanon"
)

// legacyDateLayout is the format legacy exports stamp timestamps with,
// parsed in UTC.
const legacyDateLayout = "2006-01-02 15:04:05"

// FileImportResult is returned by ImportFromFile.
type FileImportResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// ImportFromFile reads path, skipping blank lines and "#"-prefixed
// comments, and treats every remaining line as an add_repo call.
func ImportFromFile(ctx context.Context, st *store.Store, path string) (FileImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileImportResult{}, model.IO(err, "failed to open import file %s", path)
	}
	defer f.Close()

	var result FileImportResult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := addOne(ctx, st, line); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, line+": "+model.Render(err))
			continue
		}
		result.Added++
	}
	if err := scanner.Err(); err != nil {
		return result, model.IO(err, "failed to read import file %s", path)
	}
	return result, nil
}

func addOne(ctx context.Context, st *store.Store, raw string) error {
	if err := urlcanon.Validate(raw); err != nil {
		return err
	}
	normalized := urlcanon.Normalize(raw)
	owner, name, ok := urlcanon.Split(normalized)
	if !ok {
		return model.BadInput("could not split %q into owner/name", raw)
	}
	_, err := st.InsertRepo(ctx, owner, name, normalized)
	return err
}

// legacyEntry mirrors one value in the legacy JSON export's
// {url: {...}} map.
type legacyEntry struct {
	LocalPath   string `json:"local_path"`
	LastCloned  string `json:"last_cloned"`
	LastUpdated string `json:"last_updated"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// JSONImportResult is returned by MigrateFromJSON.
type JSONImportResult struct {
	Imported      int      `json:"imported"`
	Skipped       int      `json:"skipped"`
	ArchivesFound int      `json:"archives_found"`
	Errors        []string `json:"errors"`
}

// MigrateFromJSON imports a legacy {url: {local_path, last_cloned,
// last_updated, status, description}} export. It also scans
// {local_path}/versions/*.xz for each entry and inserts archive rows with
// file_count = 0, since the legacy export does not record per-archive
// file counts. Unknown status strings fall back to Pending.
func MigrateFromJSON(ctx context.Context, st *store.Store, path string) (JSONImportResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return JSONImportResult{}, model.IO(err, "failed to read legacy export %s", path)
	}

	var entries map[string]legacyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return JSONImportResult{}, model.JSON(err, "failed to parse legacy export")
	}

	var result JSONImportResult
	for rawURL, entry := range entries {
		repo, err := importLegacyEntry(ctx, st, rawURL, entry)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, rawURL+": "+model.Render(err))
			continue
		}
		result.Imported++

		if entry.LocalPath != "" {
			found, err := scanLegacyArchives(ctx, st, repo.ID, entry.LocalPath)
			if err != nil {
				result.Errors = append(result.Errors, rawURL+": "+model.Render(err))
			}
			result.ArchivesFound += found
		}
	}
	return result, nil
}

func importLegacyEntry(ctx context.Context, st *store.Store, rawURL string, entry legacyEntry) (model.Repository, error) {
	if err := urlcanon.Validate(rawURL); err != nil {
		return model.Repository{}, err
	}
	normalized := urlcanon.Normalize(rawURL)
	owner, name, ok := urlcanon.Split(normalized)
	if !ok {
		return model.Repository{}, model.BadInput("could not split %q into owner/name", rawURL)
	}

	repo, err := st.InsertRepo(ctx, owner, name, normalized)
	if err != nil {
		return model.Repository{}, err
	}

	status := model.ParseRepoStatus(strings.ToLower(strings.TrimSpace(entry.Status)))
	if !knownLegacyStatus(entry.Status) {
		status = model.StatusPending
	}
	if err := st.UpdateRepoStatus(ctx, repo.ID, status, ""); err != nil {
		return model.Repository{}, err
	}
	if err := st.UpdateRepoMetadata(ctx, repo.ID, entry.Description, false); err != nil {
		return model.Repository{}, err
	}
	if entry.LocalPath != "" {
		if err := st.SetRepoLocalPath(ctx, repo.ID, entry.LocalPath); err != nil {
			return model.Repository{}, err
		}
	}

	cloned := parseLegacyTimestamp(entry.LastCloned)
	updated := parseLegacyTimestamp(entry.LastUpdated)
	if cloned != nil || updated != nil {
		if err := st.UpdateRepoTimestamps(ctx, repo.ID, cloned, updated, nil); err != nil {
			return model.Repository{}, err
		}
	}

	repo.Status = status
	return repo, nil
}

func knownLegacyStatus(s string) bool {
	switch model.RepoStatus(strings.ToLower(strings.TrimSpace(s))) {
	case model.StatusPending, model.StatusActive, model.StatusArchived, model.StatusDeleted, model.StatusError:
		return true
	default:
		return false
	}
}

func parseLegacyTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(legacyDateLayout, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func scanLegacyArchives(ctx context.Context, st *store.Store, repoID int64, localPath string) (int, error) {
	pattern := filepath.Join(localPath, "versions", "*.xz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, model.IO(err, "failed to scan %s", pattern)
	}

	count := 0
	for _, m := range matches {
		info, statErr := os.Stat(m)
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		_, err := st.InsertArchive(ctx, model.Archive{
			RepoID:    repoID,
			Filename:  filepath.Base(m),
			Path:      m,
			SizeBytes: size,
			FileCount: 0, // unknown: legacy export does not record per-archive file counts
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
