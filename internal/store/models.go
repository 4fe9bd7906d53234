package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/archiveforge/gitarchiver/internal/model"
)

const sqliteUniqueConstraint = "UNIQUE constraint failed"

// InsertRepo inserts a new repository row with status Pending. A duplicate
// normalized URL surfaces as UserVisible("already tracked"), not a raw
// catalog error, per the catalog's error-mapping contract.
func (s *Store) InsertRepo(ctx context.Context, owner, name, url string) (model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (owner, name, url, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, owner, name, url, string(model.StatusPending), now.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), sqliteUniqueConstraint) {
			return model.Repository{}, model.UserVisible("already tracked")
		}
		return model.Repository{}, model.Database(err, "failed to insert repository")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Repository{}, model.Database(err, "failed to read new repository id")
	}
	return model.Repository{
		ID:        id,
		Owner:     owner,
		Name:      name,
		URL:       url,
		Status:    model.StatusPending,
		CreatedAt: now,
	}, nil
}

// GetRepoByID returns UserVisible("repository not found") if absent.
func (s *Store) GetRepoByID(ctx context.Context, id int64) (model.Repository, error) {
	return s.getRepo(ctx, "id = ?", id)
}

// GetRepoByURL looks up a repository by its stored (already normalized) URL.
func (s *Store) GetRepoByURL(ctx context.Context, url string) (model.Repository, error) {
	return s.getRepo(ctx, "url = ?", url)
}

func (s *Store) getRepo(ctx context.Context, where string, arg any) (model.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, url, status, description, private, local_path,
		       last_cloned_at, last_updated_at, last_checked_at, last_error, created_at
		FROM repositories WHERE `+where, arg)
	repo, err := scanRepo(s.logger, row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Repository{}, model.UserVisible("repository not found")
	}
	if err != nil {
		return model.Repository{}, model.Database(err, "failed to load repository")
	}
	return repo, nil
}

// ListRepos returns repositories ordered by id ascending. When status is
// non-empty, only repositories in that status are returned.
func (s *Store) ListRepos(ctx context.Context, status model.RepoStatus) ([]model.Repository, error) {
	query := `
		SELECT id, owner, name, url, status, description, private, local_path,
		       last_cloned_at, last_updated_at, last_checked_at, last_error, created_at
		FROM repositories`
	var rows *sql.Rows
	var err error
	if status != "" {
		query += " WHERE status = ? ORDER BY id ASC"
		rows, err = s.db.QueryContext(ctx, query, string(status))
	} else {
		query += " ORDER BY id ASC"
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, model.Database(err, "failed to list repositories")
	}
	defer rows.Close()

	var out []model.Repository
	for rows.Next() {
		repo, err := scanRepo(s.logger, rows)
		if err != nil {
			return nil, model.Database(err, "failed to scan repository row")
		}
		out = append(out, repo)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRepo(logger *log.Logger, row scanner) (model.Repository, error) {
	var r model.Repository
	var statusStr string
	var privateInt int64
	var lastCloned, lastUpdated, lastChecked sql.NullString
	var createdAtStr string

	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.URL, &statusStr, &r.Description, &privateInt,
		&r.LocalPath, &lastCloned, &lastUpdated, &lastChecked, &r.LastError, &createdAtStr)
	if err != nil {
		return model.Repository{}, err
	}

	r.Status = model.ParseRepoStatus(statusStr)
	if logger != nil && string(r.Status) != statusStr {
		logger.Printf("warning: repository %d has unknown status %q in storage, treating as error", r.ID, statusStr)
	}
	r.Private = privateInt != 0
	r.CreatedAt = parseTimestamp(logger, r.ID, "created_at", createdAtStr)
	r.LastClonedAt = parseNullableTimestamp(logger, r.ID, "last_cloned_at", lastCloned)
	r.LastUpdatedAt = parseNullableTimestamp(logger, r.ID, "last_updated_at", lastUpdated)
	r.LastCheckedAt = parseNullableTimestamp(logger, r.ID, "last_checked_at", lastChecked)
	return r, nil
}

// parseTimestamp parses an RFC-3339 value, falling back to "now" and
// logging a warning through logger (if non-nil) when the stored value is
// unparseable, per the catalog's timestamp invariant.
func parseTimestamp(logger *log.Logger, repoID int64, field, s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if logger != nil {
			logger.Printf("warning: repository %d has unparseable %s %q, falling back to now: %v", repoID, field, s, err)
		}
		return time.Now().UTC()
	}
	return t
}

func parseNullableTimestamp(logger *log.Logger, repoID int64, field string, ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTimestamp(logger, repoID, field, ns.String)
	return &t
}

// UpdateRepoStatus sets status and, for Error, the rendered error message;
// for any other status the stored error message is cleared.
func (s *Store) UpdateRepoStatus(ctx context.Context, id int64, status model.RepoStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status != model.StatusError {
		errMsg = ""
	}
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET status = ?, last_error = ? WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return model.Database(err, "failed to update repository status")
	}
	return nil
}

// UpdateRepoMetadata sets description and the private flag.
func (s *Store) UpdateRepoMetadata(ctx context.Context, id int64, description string, private bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	privateInt := 0
	if private {
		privateInt = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET description = ?, private = ? WHERE id = ?`,
		description, privateInt, id)
	if err != nil {
		return model.Database(err, "failed to update repository metadata")
	}
	return nil
}

// UpdateRepoTimestamps sets the three lifecycle timestamps. Each argument
// is optional (nil); a nil argument is COALESCEd against the prior value,
// leaving it untouched rather than clearing it.
func (s *Store) UpdateRepoTimestamps(ctx context.Context, id int64, cloned, updated, checked *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET
			last_cloned_at  = COALESCE(?, last_cloned_at),
			last_updated_at = COALESCE(?, last_updated_at),
			last_checked_at = COALESCE(?, last_checked_at)
		WHERE id = ?
	`, formatNullableTimestamp(cloned), formatNullableTimestamp(updated), formatNullableTimestamp(checked), id)
	if err != nil {
		return model.Database(err, "failed to update repository timestamps")
	}
	return nil
}

func formatNullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// SetRepoLocalPath records the working-copy path for a repository.
func (s *Store) SetRepoLocalPath(ctx context.Context, id int64, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET local_path = ? WHERE id = ?`, localPath, id)
	if err != nil {
		return model.Database(err, "failed to set repository local path")
	}
	return nil
}

// DeleteRepo removes the repository row; archives and file_hashes cascade
// via their foreign keys.
func (s *Store) DeleteRepo(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return model.Database(err, "failed to delete repository")
	}
	return nil
}
