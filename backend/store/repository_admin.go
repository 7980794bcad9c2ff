package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

func (s *Store) CreateAPIKey(ctx context.Context, key APIKey) (*APIKey, error) {
	name := strings.TrimSpace(key.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	if key.Prefix == "" || key.Hash == "" {
		return nil, errors.New("key prefix and hash are required")
	}
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (name, key_prefix, key_hash, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, key.Prefix, key.Hash, key.Description, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, errors.New("api key name already exists")
		}
		return nil, err
	}
	id, _ := result.LastInsertId()
	key.ID = id
	key.Name = name
	key.CreatedAt = now
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, key_prefix, key_hash, description, created_at, last_used_at
	FROM api_keys ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// FindAPIKeysByPrefix returns candidate keys whose stored prefix matches.
func (s *Store) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, key_prefix, key_hash, description, created_at, last_used_at
	FROM api_keys WHERE key_prefix = ?`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *Store) CountAPIKeys(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM api_keys`).Scan(&count)
	return count, err
}

func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

func (s *Store) DeleteAPIKey(ctx context.Context, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func scanAPIKeys(rows *sql.Rows) ([]APIKey, error) {
	result := make([]APIKey, 0, 4)
	for rows.Next() {
		var item APIKey
		var createdAt string
		var lastUsed sql.NullString
		if err := rows.Scan(&item.ID, &item.Name, &item.Prefix, &item.Hash, &item.Description, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		item.CreatedAt = parseSQLiteTime(createdAt)
		if lastUsed.Valid && lastUsed.String != "" {
			t := parseSQLiteTime(lastUsed.String)
			item.LastUsedAt = &t
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
