package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf, slog.LevelDebug)
	defer restore()

	Named("wallet").Info("connected", slog.String("address", "0xabc"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["component"] != "wallet" || entry["address"] != "0xabc" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestAuditStream(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf, slog.LevelInfo)
	defer restore()

	Audit().Info("transaction_confirmed")
	if !strings.Contains(buf.String(), `"stream":"audit"`) {
		t.Fatalf("expected audit stream marker, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()
	w.maxSize = 16

	for _, line := range []string{"first-entry-0001\n", "second-entry-002\n", "third-entry-0003\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "third-entry-0003\n" {
		t.Fatalf("unexpected current file %q", current)
	}
	newest, _ := os.ReadFile(path + ".1")
	oldest, _ := os.ReadFile(path + ".2")
	if string(newest) != "second-entry-002\n" || string(oldest) != "first-entry-0001\n" {
		t.Fatalf("unexpected backups %q %q", newest, oldest)
	}
}

func TestRotatingWriterPrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingWriter(path, 1, 3, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()
	w.maxSize = 8

	stale := path + ".2"
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed backup: %v", err)
	}
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	_, _ = w.Write([]byte("abcdefgh"))
	_, _ = w.Write([]byte("ijklmnop"))

	// The stale backup was shifted to .3 and then removed for being too old.
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected stale backup to be pruned, got %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected fresh backup: %v", err)
	}
}
