package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses one inbound frame. The frame must be a JSON object; absent
// fields decode to "". plugin and method must be strings when present, while a
// non-string message value is kept as its raw JSON text.
func Decode(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if raw == nil {
		return Message{}, fmt.Errorf("failed to decode message: not a JSON object")
	}

	var (
		msg Message
		err error
	)
	if msg.Plugin, err = stringField(raw, "plugin", false); err != nil {
		return Message{}, err
	}
	if msg.Method, err = stringField(raw, "method", false); err != nil {
		return Message{}, err
	}
	if msg.Message, err = stringField(raw, "message", true); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func stringField(raw map[string]json.RawMessage, key string, keepRaw bool) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", nil
	}
	v = bytes.TrimSpace(v)
	if bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("invalid %s field: %w", key, err)
		}
		return s, nil
	}
	if keepRaw {
		return string(v), nil
	}
	return "", fmt.Errorf("invalid %s field: expected string", key)
}

// Encode serializes an envelope.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Payload decodes the inner message string as JSON into v.
func (m Message) Payload(v any) error {
	if m.Message == "" {
		return fmt.Errorf("empty message payload")
	}
	if err := json.Unmarshal([]byte(m.Message), v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
