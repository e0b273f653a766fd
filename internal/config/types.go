package config

import "time"

// Config represents the complete sensus-gw configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service"`
	Gateway  GatewayConfig   `yaml:"gateway"`
	Plugins  PluginsConfig   `yaml:"plugins"`
	State    StateConfig     `yaml:"state"`
	API      APIConfig       `yaml:"api,omitempty"`
	Webhooks *WebhooksConfig `yaml:"webhooks,omitempty"`
	LockPath string          `yaml:"lock_path,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// GatewayConfig defines the websocket listener.
type GatewayConfig struct {
	Listen           string        `yaml:"listen"`
	Path             string        `yaml:"path"`
	Token            string        `yaml:"token"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// PluginsConfig defines where units are discovered and how they are configured.
type PluginsConfig struct {
	FolderDir    string `yaml:"folder_dir"`
	FileDir      string `yaml:"file_dir"`
	SnapshotPath string `yaml:"snapshot_path"`
	Watch        bool   `yaml:"watch"`
	// Units holds per-unit config keyed by public name, merged over the
	// unit descriptor's config block.
	Units map[string]map[string]any `yaml:"units,omitempty"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the admin bearer token (full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines webhook listener settings.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint defines a single webhook endpoint.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Plugin          string `yaml:"plugin"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "sensus-gw",
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			Listen:           "0.0.0.0:11120",
			Path:             "/",
			MaxConcurrency:   200,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			ReadLimit:        1 << 20,
		},
		Plugins: PluginsConfig{
			FolderDir:    "./plugins",
			FileDir:      "./plugins/example",
			SnapshotPath: "./cache/plugins.json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
