package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const pluginColumns = `id, name, plugin_type, version, author, description, source_url, document, enabled, installed_at, updated_at`

// SavePlugin inserts or replaces a plugin. The stats row is created on first
// install; resetStats zeroes it on replace.
func (s *Store) SavePlugin(ctx context.Context, item PluginRecord, resetStats bool) error {
	if strings.TrimSpace(item.ID) == "" {
		return errors.New("plugin id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO plugins (`+pluginColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			plugin_type=excluded.plugin_type,
			version=excluded.version,
			author=excluded.author,
			description=excluded.description,
			source_url=excluded.source_url,
			document=excluded.document,
			enabled=excluded.enabled,
			updated_at=excluded.updated_at`,
			item.ID, item.Name, item.Type, item.Version, item.Author, item.Description, item.SourceURL,
			item.Document, boolToInt(item.Enabled), now, now,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO plugin_stats (plugin_id, updated_at) VALUES (?, ?)`, item.ID, now); err != nil {
			return err
		}
		if resetStats {
			if _, err := tx.ExecContext(ctx, `UPDATE plugin_stats SET hidden_count=0, highlighted_count=0, updated_at=? WHERE plugin_id=?`, now, item.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetPlugin(ctx context.Context, id string) (*PluginRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pluginColumns+` FROM plugins WHERE id = ? LIMIT 1`, strings.TrimSpace(id))
	item, err := scanPlugin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) ListPlugins(ctx context.Context) ([]PluginRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pluginColumns+` FROM plugins ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]PluginRecord, 0, 16)
	for rows.Next() {
		item, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	return result, rows.Err()
}

// DeletePlugin removes the plugin and, through the foreign key, its stats.
func (s *Store) DeletePlugin(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *Store) SetPluginEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, `UPDATE plugins SET enabled=?, updated_at=? WHERE id=?`, boolToInt(enabled), now, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// AddPluginStats adds counter deltas for several plugins in one transaction.
// Unknown plugin ids are skipped.
func (s *Store) AddPluginStats(ctx context.Context, deltas []PluginStat) error {
	if len(deltas) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, d := range deltas {
			if d.HiddenCount == 0 && d.HighlightedCount == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO plugin_stats (plugin_id, hidden_count, highlighted_count, updated_at)
			SELECT id, ?, ?, ? FROM plugins WHERE id=?
			ON CONFLICT(plugin_id) DO UPDATE SET
				hidden_count=hidden_count+excluded.hidden_count,
				highlighted_count=highlighted_count+excluded.highlighted_count,
				updated_at=excluded.updated_at`, d.HiddenCount, d.HighlightedCount, now, d.PluginID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListPluginStats(ctx context.Context) ([]PluginStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plugin_id, hidden_count, highlighted_count, updated_at
	FROM plugin_stats ORDER BY plugin_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]PluginStat, 0, 16)
	for rows.Next() {
		var item PluginStat
		var updatedAt string
		if err := rows.Scan(&item.PluginID, &item.HiddenCount, &item.HighlightedCount, &updatedAt); err != nil {
			return nil, err
		}
		item.UpdatedAt = parseSQLiteTime(updatedAt)
		result = append(result, item)
	}
	return result, rows.Err()
}

// ResetPluginStats zeroes one plugin's counters, or all of them when id is
// empty.
func (s *Store) ResetPluginStats(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	id = strings.TrimSpace(id)
	if id == "" {
		_, err := s.db.ExecContext(ctx, `UPDATE plugin_stats SET hidden_count=0, highlighted_count=0, updated_at=?`, now)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE plugin_stats SET hidden_count=0, highlighted_count=0, updated_at=? WHERE plugin_id=?`, now, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlugin(row rowScanner) (*PluginRecord, error) {
	item := PluginRecord{}
	var enabled int
	var installedAt, updatedAt string
	if err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Type,
		&item.Version,
		&item.Author,
		&item.Description,
		&item.SourceURL,
		&item.Document,
		&enabled,
		&installedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	item.Enabled = enabled == 1
	item.InstalledAt = parseSQLiteTime(installedAt)
	item.UpdatedAt = parseSQLiteTime(updatedAt)
	return &item, nil
}

func parseSQLiteTime(raw string) time.Time {
	layoutCandidates := []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"}
	for _, layout := range layoutCandidates {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
