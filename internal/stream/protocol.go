package stream

import (
	"encoding/json"
	"fmt"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
)

// Server-to-client message types
const (
	MessageTypeFrame    = "frame"
	MessageTypeComplete = "complete"
	MessageTypeError    = "error"
)

// ActionStart is the only client-to-server command the protocol accepts.
const ActionStart = "start"

// ServerMessage is the envelope for all server-to-client messages
type ServerMessage struct {
	Type    string            `json:"type"`
	Data    *blendshape.Frame `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
}

// FrameMessage wraps a frame for delivery
func FrameMessage(frame blendshape.Frame) ServerMessage {
	return ServerMessage{Type: MessageTypeFrame, Data: &frame}
}

// CompleteMessage signals that every frame has been delivered
func CompleteMessage() ServerMessage {
	return ServerMessage{Type: MessageTypeComplete}
}

// ErrorMessage carries a stream-level error to the client
func ErrorMessage(message string) ServerMessage {
	return ServerMessage{Type: MessageTypeError, Message: message}
}

// clientCommand is the client-to-server message shape
type clientCommand struct {
	Action string `json:"action"`
}

// ParseStartCommand decodes a client message and verifies it is the expected
// start signal. Anything else is a protocol violation.
func ParseStartCommand(data []byte) error {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("malformed client message: %w", err)
	}

	if cmd.Action != ActionStart {
		return fmt.Errorf("unexpected client action %q", cmd.Action)
	}

	return nil
}
