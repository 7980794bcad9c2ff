package store

import (
	"context"
	"os"
)

// DBStats describes the sqlite file footprint.
type DBStats struct {
	PageCount     int64 `json:"pageCount"`
	PageSize      int64 `json:"pageSize"`
	FreelistCount int64 `json:"freelistCount"`
	FileBytes     int64 `json:"fileBytes"`
	WALBytes      int64 `json:"walBytes"`
	PluginCount   int64 `json:"pluginCount"`
	APIKeyCount   int64 `json:"apiKeyCount"`
}

func (s *Store) DBStats(ctx context.Context) (DBStats, error) {
	var stats DBStats
	pragmas := []struct {
		query string
		dest  *int64
	}{
		{"PRAGMA page_count", &stats.PageCount},
		{"PRAGMA page_size", &stats.PageSize},
		{"PRAGMA freelist_count", &stats.FreelistCount},
		{"SELECT COUNT(1) FROM plugins", &stats.PluginCount},
		{"SELECT COUNT(1) FROM api_keys", &stats.APIKeyCount},
	}
	for _, item := range pragmas {
		if err := s.db.QueryRowContext(ctx, item.query).Scan(item.dest); err != nil {
			return stats, err
		}
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.FileBytes = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		stats.WALBytes = info.Size()
	}
	return stats, nil
}

func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Checkpoint folds the write-ahead log into the main file and truncates it.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// PruneIdleStats deletes zeroed counter rows of disabled plugins. SavePlugin
// recreates the row on the next install or update.
func (s *Store) PruneIdleStats(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plugin_stats
	WHERE hidden_count=0 AND highlighted_count=0
	AND plugin_id IN (SELECT id FROM plugins WHERE enabled=0)`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
