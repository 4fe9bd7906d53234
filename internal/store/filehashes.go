package store

import (
	"context"
	"time"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// UpsertFileHash records or updates one manifest entry.
func (s *Store) UpsertFileHash(ctx context.Context, repoID int64, relativePath, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_hashes (repo_id, relative_path, content_hash, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, relative_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_seen_at = excluded.last_seen_at
	`, repoID, relativePath, contentHash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return model.Database(err, "failed to upsert file hash")
	}
	return nil
}

// GetFileHashes returns the full manifest for repoID as relative_path ->
// content_hash, the shape the hasher's DetectChanged expects.
func (s *Store) GetFileHashes(ctx context.Context, repoID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relative_path, content_hash FROM file_hashes WHERE repo_id = ?
	`, repoID)
	if err != nil {
		return nil, model.Database(err, "failed to load file hashes")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, model.Database(err, "failed to scan file hash row")
		}
		out[path] = hash
	}
	return out, nil
}

// ClearFileHashes removes every manifest entry for repoID.
func (s *Store) ClearFileHashes(ctx context.Context, repoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM file_hashes WHERE repo_id = ?`, repoID)
	if err != nil {
		return model.Database(err, "failed to clear file hashes")
	}
	return nil
}
