package store

import "time"

// PluginRecord is one installed plugin. Document holds the validated JSON as
// submitted so it round-trips through export and share unchanged.
type PluginRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Version     string    `json:"version"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	Document    string    `json:"-"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PluginStat struct {
	PluginID         string    `json:"pluginId"`
	HiddenCount      int64     `json:"hiddenCount"`
	HighlightedCount int64     `json:"highlightedCount"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// APIKey is stored hashed; Prefix narrows the bcrypt comparisons on lookup.
type APIKey struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	Hash        string     `json:"-"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}
