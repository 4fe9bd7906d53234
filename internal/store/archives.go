package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// InsertArchive records a newly created snapshot.
func (s *Store) InsertArchive(ctx context.Context, a model.Archive) (model.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incremental := 0
	if a.IsIncremental {
		incremental = 1
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO archives (repo_id, filename, path, size_bytes, file_count, is_incremental, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.RepoID, a.Filename, a.Path, a.SizeBytes, a.FileCount, incremental, now.Format(time.RFC3339))
	if err != nil {
		return model.Archive{}, model.Database(err, "failed to insert archive")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Archive{}, model.Database(err, "failed to read new archive id")
	}
	a.ID = id
	a.CreatedAt = now
	return a, nil
}

// ListArchives returns every archive for repoID, most recent first.
func (s *Store) ListArchives(ctx context.Context, repoID int64) ([]model.Archive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, filename, path, size_bytes, file_count, is_incremental, created_at
		FROM archives WHERE repo_id = ? ORDER BY id DESC
	`, repoID)
	if err != nil {
		return nil, model.Database(err, "failed to list archives")
	}
	defer rows.Close()

	var out []model.Archive
	for rows.Next() {
		a, err := scanArchive(s.logger, rows)
		if err != nil {
			return nil, model.Database(err, "failed to scan archive row")
		}
		out = append(out, a)
	}
	return out, nil
}

// GetArchiveByID returns UserVisible("archive not found") if absent.
func (s *Store) GetArchiveByID(ctx context.Context, id int64) (model.Archive, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, filename, path, size_bytes, file_count, is_incremental, created_at
		FROM archives WHERE id = ?
	`, id)
	a, err := scanArchive(s.logger, row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Archive{}, model.UserVisible("archive not found")
	}
	if err != nil {
		return model.Archive{}, model.Database(err, "failed to load archive")
	}
	return a, nil
}

// DeleteArchive removes the archive's catalog row. It does not touch the
// file on disk; callers are responsible for invoking the codec's Delete.
func (s *Store) DeleteArchive(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM archives WHERE id = ?`, id)
	if err != nil {
		return model.Database(err, "failed to delete archive")
	}
	return nil
}

func scanArchive(logger *log.Logger, row scanner) (model.Archive, error) {
	var a model.Archive
	var incrementalInt int64
	var createdAtStr string
	err := row.Scan(&a.ID, &a.RepoID, &a.Filename, &a.Path, &a.SizeBytes, &a.FileCount, &incrementalInt, &createdAtStr)
	if err != nil {
		return model.Archive{}, err
	}
	a.IsIncremental = incrementalInt != 0
	a.CreatedAt = parseTimestamp(logger, a.ID, "created_at", createdAtStr)
	return a, nil
}
