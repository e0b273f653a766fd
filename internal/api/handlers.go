package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/auth"
	"github.com/mattjoyce/sensus-gw/internal/httpx"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

const defaultExitReason = "requested via API"

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:            "ok",
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
		ConfigFingerprint: s.config.Fingerprint,
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.Len()
	}
	if s.deps.Registry != nil {
		if sum := s.deps.Registry.Summary(); sum != nil {
			resp.PluginsLoaded = len(sum.Loaded)
			resp.PluginsFailed = len(sum.Failed)
		}
	}
	if s.deps.Load != nil {
		resp.InFlight = s.deps.Load.InFlight()
		resp.Capacity = s.deps.Load.Capacity()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleListPlugins handles GET /plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	units := s.deps.Registry.Units()
	resp := PluginListResponse{
		Snapshot: s.deps.Registry.Snapshot(),
		Summary:  trimSummary(s.deps.Registry.Summary()),
		Units:    make([]UnitSummary, 0, len(units)),
	}
	for _, u := range units {
		resp.Units = append(resp.Units, UnitSummary{
			Name:    u.Name,
			Kind:    u.Kind,
			Enabled: u.Enabled,
			Version: u.Version,
			State:   u.State,
			Path:    u.Path,
			Error:   firstLine(u.Detail),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleReload handles POST /plugins/reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Registry.Reload(r.Context())
	if err != nil {
		s.logger.Error("plugin reload failed", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, ReloadResponse{Summary: trimSummary(sum)})
}

// handleListConnections handles GET /connections.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Connections.List()
	httpx.JSON(w, http.StatusOK, ConnectionListResponse{Count: len(list), Connections: list})
}

// handleExit handles POST /system/exit.
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultExitReason
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	s.logger.Warn("exit requested via API", "reason", reason, "admin", principal.Admin())

	// Reply before the signal lands so the caller sees the acknowledgement.
	httpx.JSON(w, http.StatusAccepted, ExitResponse{Status: "exiting", Reason: reason})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.deps.Exiter.ExitServer(reason)
}

// trimSummary drops stack traces from failure details.
func trimSummary(sum *plugin.Summary) *plugin.Summary {
	if sum == nil {
		return nil
	}
	out := *sum
	out.Failures = make(map[string]string, len(sum.Failures))
	for k, v := range sum.Failures {
		out.Failures[k] = firstLine(v)
	}
	return &out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
