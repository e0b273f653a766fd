package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/sensus-gw/internal/log"
)

// Discover scans the folder-unit and file-unit locations, non-recursively.
// Missing locations are created. Units are returned folder kind first, then
// file kind, each ordered by on-disk name.
func Discover(folderDir, fileDir string) ([]*Unit, error) {
	folders, err := discoverFolders(folderDir)
	if err != nil {
		return nil, err
	}
	files, err := discoverFiles(fileDir)
	if err != nil {
		return nil, err
	}
	return append(folders, files...), nil
}

func discoverFolders(dir string) ([]*Unit, error) {
	entries, err := readLocation(dir)
	if err != nil {
		return nil, err
	}

	var units []*Unit
	for _, e := range entries {
		if !isDir(dir, e) {
			continue
		}
		public, enabled, ok := splitPrefix(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, e.Name(), folderEntry)
		units = append(units, &Unit{
			Name:    public,
			Dir:     e.Name(),
			Kind:    KindFolder,
			Enabled: enabled,
			Version: readVersion(path),
			Path:    path,
			State:   StateUnloaded,
		})
	}
	return units, nil
}

func discoverFiles(dir string) ([]*Unit, error) {
	entries, err := readLocation(dir)
	if err != nil {
		return nil, err
	}

	var units []*Unit
	for _, e := range entries {
		name := e.Name()
		if isDir(dir, e) || filepath.Ext(name) != unitExt || name == bootstrapFile {
			continue
		}
		stem := strings.TrimSuffix(name, unitExt)
		public, enabled, ok := splitPrefix(stem)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		units = append(units, &Unit{
			Name:    public,
			Dir:     name,
			Kind:    KindFile,
			Enabled: enabled,
			Version: readVersion(path),
			Path:    path,
			State:   StateUnloaded,
		})
	}
	return units, nil
}

// readLocation lists dir sorted by name, creating it first if needed.
func readLocation(dir string) ([]os.DirEntry, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("plugin location is required")
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		log.WithComponent("plugin").Warn("plugin location missing, creating it", "path", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create plugin location %s: %w", dir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat plugin location %s: %w", dir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("plugin location is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan plugin location %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// isDir follows symlinks so linked unit folders are still discovered.
func isDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}
