package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides config discovery.
const EnvConfigPath = "SENSUS_CONFIG"

// Discover finds the config file. Priority order: explicit path (--config),
// $SENSUS_CONFIG, ~/.config/sensus-gw/config.yaml,
// /etc/sensus-gw/config.yaml, ./config.yaml.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if path := os.Getenv(EnvConfigPath); path != "" {
		if exists(path) {
			return path, nil
		}
	}

	candidates := make([]string, 0, 3)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "sensus-gw", "config.yaml"))
	}
	candidates = append(candidates, "/etc/sensus-gw/config.yaml", "./config.yaml")

	for _, path := range candidates {
		if fileExists(path) {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/sensus-gw/config.yaml, /etc/sensus-gw/config.yaml, ./config.yaml)", EnvConfigPath)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
