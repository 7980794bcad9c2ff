package store

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA foreign_keys=ON;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA temp_store=MEMORY;`,
	`CREATE TABLE IF NOT EXISTS plugins (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		plugin_type TEXT NOT NULL DEFAULT 'danmaku',
		version TEXT NOT NULL DEFAULT '1.0.0',
		author TEXT NOT NULL DEFAULT 'Unknown',
		document TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS plugin_stats (
		plugin_id TEXT PRIMARY KEY,
		hidden_count INTEGER NOT NULL DEFAULT 0,
		highlighted_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(plugin_id) REFERENCES plugins(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plugins_enabled ON plugins(enabled, plugin_type);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);`,
}

var seedStatements = []string{}
