package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, err := NewManagerAt(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	cfg := m.Current()
	if cfg.SegmentParallelism != 3 || cfg.PluginImportTimeoutSec != 15 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.TypeFilter.AllowScroll || !cfg.TypeFilter.AllowSpecial {
		t.Fatalf("type filter should allow everything by default: %+v", cfg.TypeFilter)
	}
	if cfg.DBPath != filepath.Join(filepath.Dir(path), "db", "danmaku.db") {
		t.Fatalf("db path: %s", cfg.DBPath)
	}
}

func TestNormalizeClampsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{
		"apiBase":            "api/v2/",
		"segmentParallelism": 40,
		"displayAreaRatio":   0.1,
		"occlusion":          map[string]any{"bandStabilizer": map[string]any{"requiredStableFrames": 0}},
	}
	body, _ := json.Marshal(raw)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManagerAt(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := m.Current()
	if cfg.APIBase != "/api/v2" {
		t.Fatalf("api base: %q", cfg.APIBase)
	}
	if cfg.SegmentParallelism != 8 {
		t.Fatalf("parallelism: %d", cfg.SegmentParallelism)
	}
	if cfg.DisplayAreaRatio != 0.25 {
		t.Fatalf("display area: %v", cfg.DisplayAreaRatio)
	}
	if cfg.Occlusion.BandStable.RequiredStableFrames != 2 {
		t.Fatalf("band stabilizer defaults not restored: %+v", cfg.Occlusion.BandStable)
	}
}

func TestUpdateNotifiesListeners(t *testing.T) {
	m, err := NewManagerAt(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	var seen []Config
	m.AddListener(func(cfg Config) { seen = append(seen, cfg) })

	if _, err := m.Update(func(cfg *Config) { cfg.BlockedRules = "spoiler" }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(seen) != 1 || seen[0].BlockedRules != "spoiler" {
		t.Fatalf("listener calls: %+v", seen)
	}

	// Saving identical content is not a change.
	if _, err := m.Update(nil); err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("noop update notified listeners: %d", len(seen))
	}

	reloaded, err := m.ReloadFromDisk()
	if err != nil || reloaded.BlockedRules != "spoiler" {
		t.Fatalf("reload: %+v %v", reloaded, err)
	}
}
