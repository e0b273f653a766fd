package webhook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/sensus-gw/internal/config"
)

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// FromGlobalConfig converts the webhooks section of the gateway config.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, errors.New("webhooks config is nil")
	}

	cfg := Config{Listen: wc.Listen}
	seen := make(map[string]bool, len(wc.Endpoints))
	for _, ep := range wc.Endpoints {
		if seen[ep.Path] {
			return Config{}, fmt.Errorf("webhook endpoint %q: duplicate path", ep.Path)
		}
		seen[ep.Path] = true

		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		size, err := ParseSize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}

		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{
			Path:            ep.Path,
			Plugin:          ep.Plugin,
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     size,
		})
	}
	return cfg, nil
}

// ParseSize parses "512KB", "1MB" or a plain byte count. Empty means
// DefaultMaxBodySize.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(size)
	mult := int64(1)
	for _, u := range sizeUnits {
		if n, ok := strings.CutSuffix(upper, u.suffix); ok {
			upper, mult = n, u.mult
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, errors.New("size must be positive")
	}
	if value > (1<<62)/mult {
		return 0, errors.New("size too large")
	}
	return value * mult, nil
}
