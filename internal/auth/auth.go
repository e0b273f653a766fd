// Package auth covers both credential surfaces: the shared token clients
// present as their first websocket subprotocol, and scoped bearer tokens on
// the ops API.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrMissingSubprotocol means the client offered no subprotocol list.
var ErrMissingSubprotocol = errors.New("missing subprotocol")

// SubprotocolToken returns the first entry of the client's
// Sec-WebSocket-Protocol list. values are the raw header values; each may
// hold a comma separated list.
func SubprotocolToken(values []string) (string, error) {
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				return part, nil
			}
		}
	}
	return "", ErrMissingSubprotocol
}

// ValidToken compares a presented token with the configured one in constant
// time. An empty expected token never matches.
func ValidToken(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
