package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "ledger.json"), nil)
	if err != nil {
		t.Fatalf("missing file should load as empty, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d entries", l.Len())
	}
	if l.Contains("anything") {
		t.Fatal("empty ledger should contain nothing")
	}
}

func TestLoadCorruptFileIsEmptyAndWarns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	var warned string
	l, err := Load(path, func(msg string) { warned = msg })
	if err != nil {
		t.Fatalf("corrupt file should load as empty, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d entries", l.Len())
	}
	if warned == "" {
		t.Fatal("expected a corruption warning")
	}
}

func TestRecordPersistsAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	when := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if err := l.Record("res:1", "clip1.mov", "yt-abc", when); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !l.Contains("res:1") {
		t.Fatal("recorded key missing in memory")
	}

	reloaded, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Contains("res:1") {
		t.Fatal("recorded key missing after reload")
	}
	e, _ := reloaded.Get("res:1")
	if e.VideoID != "yt-abc" || e.Name != "clip1.mov" {
		t.Fatalf("entry fields did not round-trip: %+v", e)
	}
	if e.CompletedAt != "2025-06-01T12:30:00Z" {
		t.Fatalf("completed_at = %q", e.CompletedAt)
	}
}

func TestRecordSameKeyOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := l.Record("k", "a.mov", "vid-1", now); err != nil {
		t.Fatal(err)
	}
	if err := l.Record("k", "a.mov", "vid-2", now); err != nil {
		t.Fatalf("re-recording an existing key must not fail: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry after overwrite, got %d", l.Len())
	}
	e, _ := l.Get("k")
	if e.VideoID != "vid-2" {
		t.Fatalf("expected overwrite to win, got %q", e.VideoID)
	}
}

func TestSaveLeavesNoTempFilesAndValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	l, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Record("k", "a.mov", "vid", time.Now()); err != nil {
		t.Fatal(err)
	}

	glob, _ := filepath.Glob(filepath.Join(dir, ".ledger-*.tmp"))
	if len(glob) != 0 {
		t.Fatalf("temp files left behind: %v", glob)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("ledger on disk is not valid JSON: %v", err)
	}
	if parsed["schema_version"].(float64) != 1 {
		t.Fatalf("schema_version = %v", parsed["schema_version"])
	}
}

func TestFileLockExcludesSecondHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".transfer.lock")

	first, err := AcquireLock(lockPath, 0)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if _, err := AcquireLock(lockPath, 0); err == nil {
		t.Fatal("second lock should fail while first is held")
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	second, err := AcquireLock(lockPath, 0)
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	_ = second.Release()
}
