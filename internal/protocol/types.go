package protocol

import (
	"errors"
	"fmt"
)

// AllPlugins is the reserved target name that fans a message out to every
// enabled unit.
const AllPlugins = "all"

// Message is the inbound envelope carried by one websocket text frame.
// Message.Message is opaque to the gateway; units usually encode JSON in it.
type Message struct {
	Plugin  string `json:"plugin"`
	Method  string `json:"method"`
	Message string `json:"message"`
}

// Reply is the outbound shape units write back to a connection.
// Exactly one of Message or Error is normally set.
type Reply struct {
	Message any    `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps a successful payload.
func OK(payload any) Reply {
	return Reply{Message: payload}
}

// Fail wraps an error description.
func Fail(desc string) Reply {
	return Reply{Error: desc}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) Reply {
	return Reply{Error: fmt.Sprintf(format, args...)}
}

// ErrMissingKey marks a handler failure caused by a payload lacking a
// required key. The dispatcher logs these at DEBUG.
var ErrMissingKey = errors.New("required key missing")

// MissingKeyError names the key that was absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("required key missing: %q", e.Key)
}

func (e *MissingKeyError) Unwrap() error {
	return ErrMissingKey
}

// RequireKey returns m[key] or a *MissingKeyError.
func RequireKey(m map[string]any, key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	return v, nil
}
