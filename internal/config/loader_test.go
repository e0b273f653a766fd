package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "gateway:\n  token: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sensus-gw", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "0.0.0.0:11120", cfg.Gateway.Listen)
	assert.Equal(t, "/", cfg.Gateway.Path)
	assert.Equal(t, 200, cfg.Gateway.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Gateway.HandshakeTimeout)
	assert.Equal(t, int64(1<<20), cfg.Gateway.ReadLimit)
	assert.Equal(t, "./plugins", cfg.Plugins.FolderDir)
	assert.Equal(t, "./plugins/example", cfg.Plugins.FileDir)
	assert.Equal(t, "./cache/plugins.json", cfg.Plugins.SnapshotPath)
	assert.Equal(t, "./data/state.db", cfg.State.Path)
	assert.Equal(t, filepath.Join("data", "sensus-gw.lock"), cfg.LockPath)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, path, cfg.SourcePath)
	assert.Len(t, cfg.Fingerprint(), 16)
}

func TestLoad_FullFile(t *testing.T) {
	t.Setenv("SENSUS_TEST_TOKEN", "from-env")
	t.Setenv("SENSUS_TEST_SECRET", "hook-secret")

	path := writeConfig(t, `
service:
  name: edge-01
  log_level: debug
gateway:
  listen: 127.0.0.1:9000
  path: /ws
  token: ${SENSUS_TEST_TOKEN}
  max_concurrency: 16
  handshake_timeout: 3s
  write_timeout: 2s
  read_limit: 4096
plugins:
  folder_dir: /srv/units
  file_dir: /srv/units/single
  watch: true
  units:
    Inbox:
      retention_days: 7
state:
  path: /var/lib/sensus/state.db
api:
  enabled: true
  listen: 127.0.0.1:8081
  auth:
    api_key: admin
    tokens:
      - token: viewer
        scopes: [connections:ro]
webhooks:
  listen: 127.0.0.1:8082
  endpoints:
    - path: /hooks/inbox
      plugin: Inbox
      secret: ${SENSUS_TEST_SECRET}
      signature_header: X-Signature
      max_body_size: 64KB
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gateway.Token)
	assert.Equal(t, "/ws", cfg.Gateway.Path)
	assert.Equal(t, 16, cfg.Gateway.MaxConcurrency)
	assert.Equal(t, 3*time.Second, cfg.Gateway.HandshakeTimeout)
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, 7, cfg.Plugins.Units["Inbox"]["retention_days"])
	assert.Equal(t, "/var/lib/sensus/sensus-gw.lock", cfg.LockPath)
	require.NotNil(t, cfg.Webhooks)
	assert.Equal(t, "hook-secret", cfg.Webhooks.Endpoints[0].Secret)
	assert.Equal(t, "viewer", cfg.API.Auth.Tokens[0].Token)
}

func TestLoad_Directory(t *testing.T) {
	path := writeConfig(t, "gateway:\n  token: s3cret\n")
	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, path, cfg.SourcePath)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing token", "service:\n  name: x\n", "gateway.token is required"},
		{"unset env token", "gateway:\n  token: ${SENSUS_UNSET_VAR_FOR_TEST}\n", "gateway.token: environment variable ${SENSUS_UNSET_VAR_FOR_TEST} is not set"},
		{"token with comma", "gateway:\n  token: a,b\n", "gateway.token must not contain"},
		{"bad level", "service:\n  log_level: loud\ngateway:\n  token: t\n", "service.log_level"},
		{"bad listen", "gateway:\n  token: t\n  listen: nowhere\n", "gateway.listen"},
		{"bad path", "gateway:\n  token: t\n  path: ws\n", "gateway.path"},
		{"same dirs", "gateway:\n  token: t\nplugins:\n  folder_dir: ./p\n  file_dir: ./p\n", "must differ"},
		{"api without auth", "gateway:\n  token: t\napi:\n  enabled: true\n", "api.auth"},
		{"api token no scopes", "gateway:\n  token: t\napi:\n  enabled: true\n  auth:\n    tokens:\n      - token: x\n", "api.auth.tokens[0].scopes"},
		{"webhook no secret", "gateway:\n  token: t\nwebhooks:\n  listen: 127.0.0.1:1\n  endpoints:\n    - path: /h\n      plugin: Inbox\n", "webhooks.endpoints[0].secret"},
		{"webhook dup path", "gateway:\n  token: t\nwebhooks:\n  listen: 127.0.0.1:1\n  endpoints:\n    - {path: /h, plugin: A, secret: s}\n    - {path: /h, plugin: B, secret: s}\n", "duplicated"},
		{"unit env", "gateway:\n  token: t\nplugins:\n  units:\n    Inbox:\n      key: ${SENSUS_UNSET_VAR_FOR_TEST}\n", "plugins.units.Inbox.key"},
		{"bad yaml", "gateway: [\n", "failed to parse config YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should contain %q", err.Error(), tt.want)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestDiscover(t *testing.T) {
	got, err := Discover("/explicit/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/config.yaml", got)

	path := writeConfig(t, "gateway:\n  token: t\n")
	t.Setenv(EnvConfigPath, path)
	got, err = Discover("")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestRedactedAndGetPath(t *testing.T) {
	cfg, err := Parse([]byte(`
gateway:
  token: s3cret
api:
  enabled: true
  auth:
    api_key: admin
webhooks:
  listen: 127.0.0.1:1
  endpoints:
    - {path: /h, plugin: Inbox, secret: hush}
`))
	require.NoError(t, err)

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Gateway.Token)
	assert.Equal(t, "********", red.API.Auth.APIKey)
	assert.Equal(t, "********", red.Webhooks.Endpoints[0].Secret)
	assert.Equal(t, "s3cret", cfg.Gateway.Token, "original must be untouched")
	assert.Equal(t, "hush", cfg.Webhooks.Endpoints[0].Secret, "original must be untouched")

	v, err := cfg.GetPath("gateway.listen")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:11120", v)

	v, err = cfg.GetPath("gateway.token")
	require.NoError(t, err)
	assert.Equal(t, "********", v)

	_, err = cfg.GetPath("gateway.nope")
	assert.Error(t, err)
}
