// Package unitcfg reads typed values out of a unit's merged config map.
package unitcfg

import (
	"fmt"
	"time"
)

// String returns cfg[key] as a string, or def when absent.
func String(cfg map[string]any, key, def string) (string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config %q: want string, got %T", key, v)
	}
	return s, nil
}

// Int accepts any YAML or JSON number without a fractional part.
func Int(cfg map[string]any, key string, def int) (int, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("config %q: %v is not an integer", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("config %q: want integer, got %T", key, v)
	}
}

// Duration accepts a Go duration string ("30s") or a number of seconds.
func Duration(cfg map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("config %q: %w", key, err)
		}
		return d, nil
	}
	secs, err := Int(cfg, key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
