package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one unit's published status.
type Entry struct {
	Enable  bool   `json:"enable"`
	Version string `json:"version"`
}

// Snapshot is the published registry view: loaded and disabled units keyed by
// public name, per kind. It is immutable once published.
type Snapshot struct {
	FolderPlugins map[string]Entry `json:"folder_plugins"`
	FilePlugins   map[string]Entry `json:"file_plugins"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		FolderPlugins: make(map[string]Entry),
		FilePlugins:   make(map[string]Entry),
	}
}

func (s *Snapshot) namespace(k Kind) map[string]Entry {
	if k == KindFolder {
		return s.FolderPlugins
	}
	return s.FilePlugins
}

// Lookup returns the entry for name in the given kind's namespace.
func (s *Snapshot) Lookup(k Kind, name string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.namespace(k)[name]
	return e, ok
}

// Enabled reports whether name appears in at least one namespace and is
// enabled in every namespace it appears in.
func (s *Snapshot) Enabled(name string) bool {
	if s == nil {
		return false
	}
	seen := false
	for _, ns := range []map[string]Entry{s.FolderPlugins, s.FilePlugins} {
		e, ok := ns[name]
		if !ok {
			continue
		}
		if !e.Enable {
			return false
		}
		seen = true
	}
	return seen
}

// WriteFile persists the snapshot as indented JSON, replacing path atomically.
func (s *Snapshot) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".plugins-*.json")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot previously written by WriteFile.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	s := newSnapshot()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
