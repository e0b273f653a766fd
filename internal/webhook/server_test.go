package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

const testSecret = "test-secret"

type receiverFunc func(ctx context.Context, w plugin.Webhook) (any, error)

func (f receiverFunc) ReceiveWebhook(ctx context.Context, w plugin.Webhook) (any, error) {
	return f(ctx, w)
}

type receiverMap map[string]plugin.WebhookReceiver

func (m receiverMap) Receiver(name string) (plugin.WebhookReceiver, bool) {
	r, ok := m[name]
	return r, ok
}

func newTestServer(receivers Receivers, maxBody int64) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{{
			Path:        "/webhook/inbox",
			Plugin:      "Inbox",
			Secret:      testSecret,
			MaxBodySize: maxBody,
		}},
	}, receivers, logger)
}

func post(t *testing.T, s *Server, path string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_Delivered(t *testing.T) {
	body := []byte(`{"title":"hello","source":"ci","message":"green"}`)
	var got plugin.Webhook
	s := newTestServer(receiverMap{
		"Inbox": receiverFunc(func(_ context.Context, w plugin.Webhook) (any, error) {
			got = w
			return map[string]string{"id": "abc"}, nil
		}),
	}, 0)

	rec := post(t, s, "/webhook/inbox", body, Signature(body, testSecret))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if string(got.Body) != string(body) {
		t.Errorf("body = %q, want %q", got.Body, body)
	}
	if got.Endpoint != "/webhook/inbox" {
		t.Errorf("endpoint = %q", got.Endpoint)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}

	var resp struct {
		Plugin string            `json:"plugin"`
		Result map[string]string `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Plugin != "Inbox" || resp.Result["id"] != "abc" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	body := []byte(`{}`)
	called := false
	s := newTestServer(receiverMap{
		"Inbox": receiverFunc(func(context.Context, plugin.Webhook) (any, error) {
			called = true
			return nil, nil
		}),
	}, 0)

	for name, sig := range map[string]string{
		"missing": "",
		"wrong":   Signature(body, "other-secret"),
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, s, "/webhook/inbox", body, sig)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error != "forbidden" {
				t.Errorf("Error = %q, want generic 'forbidden'", resp.Error)
			}
		})
	}
	if called {
		t.Error("receiver must not be called without a valid signature")
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 2048)
	s := newTestServer(receiverMap{}, 1024)

	rec := post(t, s, "/webhook/inbox", body, Signature(body, testSecret))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleWebhook_TargetUnavailable(t *testing.T) {
	body := []byte(`{}`)
	s := newTestServer(receiverMap{}, 0)

	rec := post(t, s, "/webhook/inbox", body, Signature(body, testSecret))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleWebhook_UnknownPath(t *testing.T) {
	s := newTestServer(receiverMap{}, 0)

	rec := post(t, s, "/webhook/unknown", []byte(`{}`), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleWebhook_ReceiverError(t *testing.T) {
	body := []byte(`{"title":""}`)
	s := newTestServer(receiverMap{
		"Inbox": receiverFunc(func(context.Context, plugin.Webhook) (any, error) {
			return nil, errors.New("title is required")
		}),
	}, 0)

	rec := post(t, s, "/webhook/inbox", body, Signature(body, testSecret))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(rec.Body.String(), "title is required") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleWebhook_ReceiverPanic(t *testing.T) {
	body := []byte(`{}`)
	s := newTestServer(receiverMap{
		"Inbox": receiverFunc(func(context.Context, plugin.Webhook) (any, error) {
			panic("boom")
		}),
	}, 0)

	rec := post(t, s, "/webhook/inbox", body, Signature(body, testSecret))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := newTestServer(receiverMap{}, 0)

	ep, ok := s.Endpoint("/webhook/inbox")
	if !ok {
		t.Fatal("endpoint not registered")
	}
	if ep.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("MaxBodySize = %d, want %d", ep.MaxBodySize, DefaultMaxBodySize)
	}
	if ep.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("SignatureHeader = %q, want %q", ep.SignatureHeader, DefaultSignatureHeader)
	}
}
