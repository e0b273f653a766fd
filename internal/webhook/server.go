package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/sensus-gw/internal/httpx"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

// Server verifies signed POSTs and hands their bodies to unit receivers.
type Server struct {
	listen    string
	endpoints []EndpointConfig
	receivers Receivers
	logger    *slog.Logger
	now       func() time.Time
}

// New applies endpoint defaults and returns a server delivering to
// receivers.
func New(cfg Config, receivers Receivers, logger *slog.Logger) *Server {
	eps := make([]EndpointConfig, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		eps[i] = ep
	}
	return &Server{
		listen:    cfg.Listen,
		endpoints: eps,
		receivers: receivers,
		logger:    logger,
		now:       time.Now,
	}
}

// Endpoint returns the effective configuration for path.
func (s *Server) Endpoint(path string) (EndpointConfig, bool) {
	for _, ep := range s.endpoints {
		if ep.Path == path {
			return ep, true
		}
	}
	return EndpointConfig{}, false
}

// Start serves webhooks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("webhook endpoints configured", "count", len(s.endpoints))
	return httpx.Serve(ctx, "webhook", &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, s.logger)
}

// Handler routes each configured path to its own delivery handler.
func (s *Server) Handler() http.Handler {
	r := httpx.NewRouter(s.logger, slog.LevelInfo)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Error(w, http.StatusNotFound, "endpoint not found")
	})
	for _, ep := range s.endpoints {
		r.Post(ep.Path, s.deliveryHandler(ep))
	}
	return r
}

func (s *Server) deliveryHandler(ep EndpointConfig) http.HandlerFunc {
	logger := s.logger.With("path", ep.Path, "plugin", ep.Plugin)

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, ep.MaxBodySize+1))
		switch {
		case err != nil:
			httpx.Error(w, http.StatusInternalServerError, "failed to read request body")
			return
		case int64(len(body)) > ep.MaxBodySize:
			httpx.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}

		if err := verifySignature(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
			logger.Warn("webhook signature rejected", "header", ep.SignatureHeader, "error", err)
			httpx.Error(w, http.StatusForbidden, "forbidden")
			return
		}

		receiver, ok := s.receivers.Receiver(ep.Plugin)
		if !ok {
			logger.Warn("webhook target unavailable")
			httpx.Error(w, http.StatusNotFound, "plugin not available")
			return
		}

		result, err := deliver(r.Context(), receiver, plugin.Webhook{
			Endpoint:   ep.Path,
			Headers:    r.Header.Clone(),
			Body:       body,
			ReceivedAt: s.now(),
		})
		if err != nil {
			logger.Warn("webhook rejected by unit", "error", err)
			httpx.Error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		logger.Info("webhook delivered", "request_id", middleware.GetReqID(r.Context()))
		httpx.JSON(w, http.StatusAccepted, AcceptedResponse{Plugin: ep.Plugin, Result: result})
	}
}

// deliver calls the receiver, turning a panic into an error.
func deliver(ctx context.Context, rcv plugin.WebhookReceiver, wh plugin.Webhook) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("receiver: %w", &plugin.PanicError{Value: v, Stack: debug.Stack()})
		}
	}()
	return rcv.ReceiveWebhook(ctx, wh)
}
