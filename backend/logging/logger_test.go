package logging

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"danmakuoverlay/core/backend/config"
)

func TestDebugLogsMirrorToDatedFile(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	m := &Manager{stdout: io.Discard, now: func() time.Time { return fixed }}
	t.Cleanup(func() {
		_ = m.Close()
		log.SetOutput(os.Stderr)
	})

	if err := m.Update(config.Config{DataDir: dir, EnableDebugLogs: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	want := filepath.Join(dir, "log", "danmakud-20240309.log")
	if m.Path() != want {
		t.Fatalf("path: %s", m.Path())
	}
	log.Printf("[test] hello")

	body, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !bytes.Contains(body, []byte("[test] hello")) {
		t.Fatalf("log file missing line: %q", body)
	}

	if err := m.Update(config.Config{DataDir: dir}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if m.Path() != "" {
		t.Fatalf("file logging should be off, path=%s", m.Path())
	}
	log.Printf("[test] after")
	body, _ = os.ReadFile(want)
	if strings.Contains(string(body), "after") {
		t.Fatal("disabled manager still writes to file")
	}
}
