// Package doctor cross-checks a loaded configuration against the plugin units
// on disk and the built-in catalog, catching mistakes that only show up once
// the gateway is running.
package doctor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/sensus-gw/internal/auth"
	"github.com/mattjoyce/sensus-gw/internal/config"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

const minTokenLength = 16

var knownScopes = map[string]bool{
	auth.ScopeAll:           true,
	auth.ScopePluginsRead:   true,
	auth.ScopePluginsWrite:  true,
	auth.ScopeConnsRead:     true,
	auth.ScopeEventsRead:    true,
	auth.ScopeSystemControl: true,
}

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered units.
type Doctor struct {
	cfg     *config.Config
	units   []*plugin.Unit
	catalog *plugin.Catalog
}

// New creates a Doctor. A nil catalog means plugin.Default.
func New(cfg *config.Config, units []*plugin.Unit, catalog *plugin.Catalog) *Doctor {
	if catalog == nil {
		catalog = plugin.Default
	}
	return &Doctor{cfg: cfg, units: units, catalog: catalog}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePluginRefs(r)
	d.validateListeners(r)
	d.validateTokenScopes(r)
	d.validateWebhooks(r)
	d.warnUnusedUnitConfig(r)
	d.warnWeakSecrets(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) unit(name string) (*plugin.Unit, bool) {
	for _, u := range d.units {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}

// validatePluginRefs flags enabled units that cannot load.
func (d *Doctor) validatePluginRefs(r *Result) {
	claimed := make(map[string]string)
	for _, u := range d.units {
		if !u.Enabled {
			continue
		}
		if _, ok := d.catalog.Lookup(u.Name); !ok {
			d.addWarning(r, "plugin_refs", u.Path,
				fmt.Sprintf("unit %q has no built-in implementation and will fail to load", u.Name))
		}
		if prev, dup := claimed[u.TypeName()]; dup {
			d.addError(r, "plugin_refs", u.Path,
				fmt.Sprintf("unit %q duplicates type %s already provided by %s; it will be rejected", u.Name, u.TypeName(), prev))
			continue
		}
		claimed[u.TypeName()] = u.Path
	}
}

// validateListeners rejects servers bound to the same address.
func (d *Doctor) validateListeners(r *Result) {
	owners := map[string]string{d.cfg.Gateway.Listen: "gateway.listen"}
	check := func(field, addr string) {
		if prev, clash := owners[addr]; clash {
			d.addError(r, "listen", field, fmt.Sprintf("%s conflicts with %s", addr, prev))
			return
		}
		owners[addr] = field
	}
	if d.cfg.API.Enabled {
		check("api.listen", d.cfg.API.Listen)
	}
	if d.cfg.Webhooks != nil && len(d.cfg.Webhooks.Endpoints) > 0 {
		check("webhooks.listen", d.cfg.Webhooks.Listen)
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if knownScopes[scope] {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				fmt.Sprintf("unknown scope %q (expected one of %s)", scope, strings.Join(scopeNames(), ", ")))
		}
	}
}

func scopeNames() []string {
	names := make([]string, 0, len(knownScopes))
	for s := range knownScopes {
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}

// validateWebhooks checks target units and near-duplicate paths.
func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}

	seen := make(map[string]int)
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)

		u, ok := d.unit(ep.Plugin)
		switch {
		case !ok:
			d.addError(r, "webhooks", field+".plugin",
				fmt.Sprintf("webhook %q targets unit %q which was not discovered", ep.Path, ep.Plugin))
		case !u.Enabled:
			d.addWarning(r, "webhooks", field+".plugin",
				fmt.Sprintf("webhook %q targets disabled unit %q; deliveries will get 404", ep.Path, ep.Plugin))
		}

		normalized := strings.TrimSuffix(ep.Path, "/")
		if prev, exists := seen[normalized]; exists {
			d.addError(r, "webhooks", field+".path",
				fmt.Sprintf("webhook path %q conflicts with webhooks.endpoints[%d]", ep.Path, prev))
		}
		seen[normalized] = i
	}
}

// warnUnusedUnitConfig warns about plugins.units entries with no unit on disk.
func (d *Doctor) warnUnusedUnitConfig(r *Result) {
	names := make([]string, 0, len(d.cfg.Plugins.Units))
	for name := range d.cfg.Plugins.Units {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.unit(name); !ok {
			d.addWarning(r, "unused", "plugins.units."+name,
				fmt.Sprintf("config for unit %q but no such unit was discovered", name))
		}
	}
}

func (d *Doctor) warnWeakSecrets(r *Result) {
	if len(d.cfg.Gateway.Token) < minTokenLength {
		d.addWarning(r, "security", "gateway.token",
			fmt.Sprintf("token is shorter than %d characters", minTokenLength))
	}
	if d.cfg.API.Enabled && d.cfg.API.Auth.APIKey != "" && d.cfg.API.Auth.APIKey == d.cfg.Gateway.Token {
		d.addWarning(r, "security", "api.auth.api_key",
			"api_key equals gateway.token; websocket clients would hold admin API access")
	}
}

func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
