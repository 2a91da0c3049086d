package models

import (
	"encoding/json"
	"time"
)

// MessageType is the discriminator of an outbound WebSocket message.
type MessageType string

const (
	MessageSnapshot     MessageType = "meeting_snapshot"
	MessageStatePatch   MessageType = "state_patch"
	MessageCommandAck   MessageType = "command_ack"
	MessageCommandError MessageType = "command_error"
	MessagePing         MessageType = "ping"
	MessagePong         MessageType = "pong"
)

// Message is the outbound envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EncodeMessage marshals an envelope stamped with now.
func EncodeMessage(t MessageType, payload any, now time.Time) ([]byte, error) {
	return json.Marshal(Message{Type: t, Payload: payload, Timestamp: now})
}

// ClientMessage is the inbound envelope. Payload is decoded per action.
type ClientMessage struct {
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CommandAck answers a successful command.
type CommandAck struct {
	RequestID string `json:"requestId,omitempty"`
	Action    string `json:"action"`
	Result    any    `json:"result,omitempty"`
}

// CommandError answers a rejected command. Kind is one of the service error kinds.
type CommandError struct {
	RequestID string `json:"requestId,omitempty"`
	Action    string `json:"action"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Degraded  bool   `json:"degraded,omitempty"`
}
