package plugin

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes the two on-disk unit layouts.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// State is a unit's outcome in the most recent load pass.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
	StateDisabled State = "disabled"
)

const (
	enabledPrefix  = "p_"
	disabledPrefix = "u_"

	unitExt       = ".yaml"
	folderEntry   = "unit" + unitExt
	bootstrapFile = "init" + unitExt

	unknownVersion = "unknown"
)

// Unit is one discovered plugin unit.
type Unit struct {
	Name    string `json:"name"`
	Dir     string `json:"dir"`
	Kind    Kind   `json:"kind"`
	Enabled bool   `json:"enabled"`
	Version string `json:"version"`
	Path    string `json:"path"`
	State   State  `json:"state"`
	Err     error  `json:"-"`
	Detail  string `json:"detail,omitempty"`
}

// Key identifies a unit across load passes, independent of its enable prefix.
func (u *Unit) Key() string {
	return string(u.Kind) + "/" + u.Name
}

// TypeName is the derived implementation type name.
func (u *Unit) TypeName() string {
	return TypeName(u.Name)
}

// Descriptor is the optional YAML body of a unit's entry source.
type Descriptor struct {
	Description string         `yaml:"description"`
	Config      map[string]any `yaml:"config"`
}

// splitPrefix reports whether name carries an enable prefix with at least one
// character after it.
func splitPrefix(name string) (public string, enabled bool, ok bool) {
	switch {
	case strings.HasPrefix(name, enabledPrefix):
		public, enabled = strings.TrimPrefix(name, enabledPrefix), true
	case strings.HasPrefix(name, disabledPrefix):
		public, enabled = strings.TrimPrefix(name, disabledPrefix), false
	default:
		return "", false, false
	}
	if public == "" {
		return "", false, false
	}
	return public, enabled, true
}

var versionLine = regexp.MustCompile(`^#\s*(?:__version__|version)\s*(?:=|:)\s*["']?([^"'\s]+)["']?\s*$`)

// readVersion extracts the version marker from line 2 of the entry source.
// Any failure yields "unknown".
func readVersion(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return unknownVersion
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if line < 2 {
			continue
		}
		m := versionLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			return unknownVersion
		}
		return m[1]
	}
	return unknownVersion
}

// readDescriptor parses the entry source. A missing or empty file is an
// empty descriptor.
func readDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Descriptor{}, nil
		}
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor YAML: %w", err)
	}
	return &d, nil
}
