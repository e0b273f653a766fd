package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// validate checks a defaulted config. Errors name the offending key.
func validate(cfg *Config) error {
	level := strings.ToLower(cfg.Service.LogLevel)
	if !validLogLevels[level] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if err := validateGateway(&cfg.Gateway); err != nil {
		return err
	}

	if cfg.Plugins.FolderDir == cfg.Plugins.FileDir {
		return fmt.Errorf("plugins.folder_dir and plugins.file_dir must differ (both %q)", cfg.Plugins.FolderDir)
	}
	for name, unitCfg := range cfg.Plugins.Units {
		if err := checkUnresolvedEnvVars(unitCfg, "plugins.units."+name); err != nil {
			return err
		}
	}

	if cfg.API.Enabled {
		if err := validateAPI(&cfg.API); err != nil {
			return err
		}
	}

	if cfg.Webhooks != nil {
		if err := validateWebhooks(cfg.Webhooks); err != nil {
			return err
		}
	}
	return nil
}

func validateGateway(gw *GatewayConfig) error {
	if err := unresolved("gateway.token", gw.Token); err != nil {
		return err
	}
	if strings.TrimSpace(gw.Token) == "" {
		return fmt.Errorf("gateway.token is required")
	}
	if strings.ContainsAny(gw.Token, ", \t") {
		return fmt.Errorf("gateway.token must not contain commas or whitespace")
	}
	if _, _, err := net.SplitHostPort(gw.Listen); err != nil {
		return fmt.Errorf("gateway.listen: %w", err)
	}
	if !strings.HasPrefix(gw.Path, "/") {
		return fmt.Errorf("gateway.path must start with / (got %q)", gw.Path)
	}
	if gw.MaxConcurrency < 0 {
		return fmt.Errorf("gateway.max_concurrency must be positive")
	}
	if gw.HandshakeTimeout < 0 || gw.WriteTimeout < 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}
	if gw.ReadLimit < 0 {
		return fmt.Errorf("gateway.read_limit must be positive")
	}
	return nil
}

func validateAPI(api *APIConfig) error {
	if err := unresolved("api.auth.api_key", api.Auth.APIKey); err != nil {
		return err
	}
	if api.Auth.APIKey == "" && len(api.Auth.Tokens) == 0 {
		return fmt.Errorf("api.auth: api_key or tokens required when api.enabled is true")
	}
	for i, tok := range api.Auth.Tokens {
		key := fmt.Sprintf("api.auth.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", key)
		}
		if err := unresolved(key+".token", tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", key)
		}
	}
	if _, _, err := net.SplitHostPort(api.Listen); err != nil {
		return fmt.Errorf("api.listen: %w", err)
	}
	return nil
}

func validateWebhooks(wh *WebhooksConfig) error {
	if _, _, err := net.SplitHostPort(wh.Listen); err != nil {
		return fmt.Errorf("webhooks.listen: %w", err)
	}
	seen := make(map[string]bool, len(wh.Endpoints))
	for i, ep := range wh.Endpoints {
		key := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with / (got %q)", key, ep.Path)
		}
		if seen[ep.Path] {
			return fmt.Errorf("%s.path %q is duplicated", key, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Plugin == "" {
			return fmt.Errorf("%s.plugin is required", key)
		}
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", key)
		}
		if err := unresolved(key+".secret", ep.Secret); err != nil {
			return err
		}
	}
	return nil
}

func unresolved(key, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", key, m[1])
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, prefix string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if err := unresolved(prefix+"."+key, v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, prefix+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}
