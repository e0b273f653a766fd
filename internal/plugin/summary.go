package plugin

import (
	"log/slog"
	"sort"
)

// Summary classifies every unit seen by one load pass. Loaded, Disabled and
// Failed hold public names; Failures is keyed by unit key ("folder/Echo",
// "file/Echo") so same-named units of both kinds keep separate details.
type Summary struct {
	Loaded   []string          `json:"loaded"`
	Disabled []string          `json:"disabled"`
	Failed   []string          `json:"failed"`
	Failures map[string]string `json:"failures"`
}

func newSummary() *Summary {
	return &Summary{
		Loaded:   []string{},
		Disabled: []string{},
		Failed:   []string{},
		Failures: make(map[string]string),
	}
}

func (s *Summary) add(u *Unit) {
	switch u.State {
	case StateLoaded:
		s.Loaded = append(s.Loaded, u.Name)
	case StateDisabled:
		s.Disabled = append(s.Disabled, u.Name)
	case StateFailed:
		s.Failed = append(s.Failed, u.Name)
		s.Failures[u.Key()] = u.Detail
	}
}

func (s *Summary) sort() {
	sort.Strings(s.Loaded)
	sort.Strings(s.Disabled)
	sort.Strings(s.Failed)
}

// Total is the number of units classified.
func (s *Summary) Total() int {
	return len(s.Loaded) + len(s.Disabled) + len(s.Failed)
}

// Log emits the grouped end-of-pass summary.
func (s *Summary) Log(logger *slog.Logger) {
	logger.Info("plugin load pass complete",
		"total", s.Total(),
		"loaded", s.Loaded,
		"disabled", s.Disabled,
		"failed", s.Failed,
	)
	keys := make([]string, 0, len(s.Failures))
	for k := range s.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		logger.Warn("plugin unloaded", "unit", k, "reason", firstLine(s.Failures[k]))
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
