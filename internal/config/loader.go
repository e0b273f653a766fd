package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults, and validates a config file.
// A directory argument means <dir>/config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes config YAML, applies defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	applyConfigDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyConfigDefaults fills every zero-valued optional field.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}

	gw := &cfg.Gateway
	if gw.Listen == "" {
		gw.Listen = defaults.Gateway.Listen
	}
	if gw.Path == "" {
		gw.Path = defaults.Gateway.Path
	}
	if gw.MaxConcurrency == 0 {
		gw.MaxConcurrency = defaults.Gateway.MaxConcurrency
	}
	if gw.HandshakeTimeout == 0 {
		gw.HandshakeTimeout = defaults.Gateway.HandshakeTimeout
	}
	if gw.WriteTimeout == 0 {
		gw.WriteTimeout = defaults.Gateway.WriteTimeout
	}
	if gw.ReadLimit == 0 {
		gw.ReadLimit = defaults.Gateway.ReadLimit
	}

	if cfg.Plugins.FolderDir == "" {
		cfg.Plugins.FolderDir = defaults.Plugins.FolderDir
	}
	if cfg.Plugins.FileDir == "" {
		cfg.Plugins.FileDir = defaults.Plugins.FileDir
	}
	if cfg.Plugins.SnapshotPath == "" {
		cfg.Plugins.SnapshotPath = defaults.Plugins.SnapshotPath
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(filepath.Dir(cfg.State.Path), "sensus-gw.lock")
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name it.
		return match
	})
}
