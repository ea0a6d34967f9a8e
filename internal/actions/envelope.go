package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMessage is returned for inbound frames that cannot be dispatched.
var ErrMalformedMessage = errors.New("malformed message")

// Inbound is the command envelope a client sends over its connection.
type Inbound struct {
	Path         string          `json:"path"`
	InvocationID string          `json:"invocationId,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
}

// Message is the status envelope pushed to clients.
type Message struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// DecodeInbound parses a raw frame. The path must be absolute.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !strings.HasPrefix(in.Path, "/") {
		return Inbound{}, fmt.Errorf("%w: path %q", ErrMalformedMessage, in.Path)
	}
	return in, nil
}

// Encode marshals m for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
