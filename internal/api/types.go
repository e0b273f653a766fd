package api

import (
	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/httpx"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

// ErrorResponse is returned on errors.
type ErrorResponse = httpx.ErrorBody

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	Connections       int    `json:"connections"`
	PluginsLoaded     int    `json:"plugins_loaded"`
	PluginsFailed     int    `json:"plugins_failed"`
	InFlight          int64  `json:"in_flight"`
	Capacity          int64  `json:"capacity"`
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
}

// UnitSummary is one discovered unit as reported by GET /plugins.
type UnitSummary struct {
	Name    string       `json:"name"`
	Kind    plugin.Kind  `json:"kind"`
	Enabled bool         `json:"enabled"`
	Version string       `json:"version"`
	State   plugin.State `json:"state"`
	Path    string       `json:"path"`
	Error   string       `json:"error,omitempty"`
}

// PluginListResponse is returned by GET /plugins.
type PluginListResponse struct {
	Snapshot *plugin.Snapshot `json:"snapshot"`
	Summary  *plugin.Summary  `json:"summary"`
	Units    []UnitSummary    `json:"units"`
}

// ReloadResponse is returned by POST /plugins/reload.
type ReloadResponse struct {
	Summary *plugin.Summary `json:"summary"`
}

// ConnectionListResponse is returned by GET /connections.
type ConnectionListResponse struct {
	Count       int               `json:"count"`
	Connections []connection.Info `json:"connections"`
}

// ExitRequest is the JSON body for POST /system/exit.
type ExitRequest struct {
	Reason string `json:"reason"`
}

// ExitResponse acknowledges an exit request.
type ExitResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
