package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Redacted returns a copy with every secret masked, suitable for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Gateway.Token = mask(c.Gateway.Token)
	out.API.Auth.APIKey = mask(c.API.Auth.APIKey)
	if len(c.API.Auth.Tokens) > 0 {
		out.API.Auth.Tokens = make([]APIToken, len(c.API.Auth.Tokens))
		for i, tok := range c.API.Auth.Tokens {
			out.API.Auth.Tokens[i] = APIToken{Token: mask(tok.Token), Scopes: tok.Scopes}
		}
	}
	if c.Webhooks != nil {
		wh := *c.Webhooks
		wh.Endpoints = make([]WebhookEndpoint, len(c.Webhooks.Endpoints))
		for i, ep := range c.Webhooks.Endpoints {
			ep.Secret = mask(ep.Secret)
			wh.Endpoints[i] = ep
		}
		out.Webhooks = &wh
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// GetPath retrieves a value from the redacted configuration using a
// dot-notation path such as "gateway.listen".
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
