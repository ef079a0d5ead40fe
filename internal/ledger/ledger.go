// Package ledger persists the record of which source items have already
// been transferred. The ledger is the only state that survives process
// restarts; an entry exists iff the destination durably accepted the item.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const schemaVersion = 1

// Entry is the durable proof of one completed transfer.
type Entry struct {
	Name        string `json:"name"`
	VideoID     string `json:"video_id"`
	CompletedAt string `json:"completed_at"`
}

// fileFormat is the on-disk shape of the ledger.
type fileFormat struct {
	SchemaVersion int              `json:"schema_version"`
	Entries       map[string]Entry `json:"entries"`
}

// Ledger is a key -> Entry mapping backed by a JSON file.
// It is owned and mutated by the single transfer loop; no internal locking.
type Ledger struct {
	path    string
	entries map[string]Entry
}

// Load reads the ledger at path. A missing or corrupt file is treated as an
// empty ledger (first run), never a fatal error; the warn callback (may be
// nil) is told about a corrupt file so the operator can investigate.
func Load(path string, warn func(msg string)) (*Ledger, error) {
	l := &Ledger{path: path, entries: map[string]Entry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		if warn != nil {
			warn(fmt.Sprintf("ledger %s is corrupt (%v); starting from an empty ledger", path, err))
		}
		return l, nil
	}
	if ff.Entries != nil {
		l.entries = ff.Entries
	}
	return l, nil
}

// Contains reports whether key has a completed-transfer entry.
func (l *Ledger) Contains(key string) bool {
	_, ok := l.entries[key]
	return ok
}

// Len returns the number of completed transfers on record.
func (l *Ledger) Len() int { return len(l.entries) }

// Get returns the entry for key, if present.
func (l *Ledger) Get(key string) (Entry, bool) {
	e, ok := l.entries[key]
	return e, ok
}

// Record stores an entry for key and flushes the ledger to disk before
// returning. Recording an existing key overwrites its entry. The caller
// must not delete the item's staging file until Record has returned nil:
// destination accepted -> ledger durable -> local file deleted, never the
// reverse.
func (l *Ledger) Record(key, name, videoID string, completedAt time.Time) error {
	l.entries[key] = Entry{
		Name:        name,
		VideoID:     videoID,
		CompletedAt: completedAt.UTC().Format(time.RFC3339),
	}
	return l.save()
}

// save writes the ledger atomically: temp file in the same directory,
// fsync, rename over the old file.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(fileFormat{
		SchemaVersion: schemaVersion,
		Entries:       l.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create ledger directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename ledger into place: %w", err)
	}
	return nil
}
