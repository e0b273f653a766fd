package webhook

import (
	"github.com/mattjoyce/sensus-gw/internal/httpx"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
)

// Receivers resolves a public unit name to its webhook receiver. It reports
// false when the unit is missing, disabled or does not accept webhooks.
type Receivers interface {
	Receiver(name string) (plugin.WebhookReceiver, bool)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path, e.g. "/webhook/inbox".
	Path string
	// Plugin is the public name of the receiving unit.
	Plugin string
	// Secret is the HMAC-SHA256 key.
	Secret string
	// SignatureHeader carries the signature, e.g. "X-Hub-Signature-256".
	SignatureHeader string
	MaxBodySize     int64
}

// AcceptedResponse is the JSON body of a 202 reply.
type AcceptedResponse struct {
	Plugin string `json:"plugin"`
	Result any    `json:"result,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse = httpx.ErrorBody

const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
