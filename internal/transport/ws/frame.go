// Package ws connects the capsule to the native backend daemon over a
// JSON websocket protocol.
//
// Outgoing frames are invoke, listen and unlisten, each with a fresh id.
// The backend answers every one of them with a reply carrying the same id
// and pushes subscribed events as event frames.
package ws

import (
	"encoding/json"
	"fmt"
)

const (
	FrameInvoke   = "invoke"
	FrameListen   = "listen"
	FrameUnlisten = "unlisten"
	FrameReply    = "reply"
	FrameEvent    = "event"
)

// Frame is the single envelope used in both directions.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RemoteError is a failure reported by the backend in a reply frame.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("backend %s failed: %s", e.Op, e.Message)
}
