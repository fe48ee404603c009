package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the event name carried by every frame on the wire.
type MessageType string

const (
	TypeStateUpdate MessageType = "state_update"
)

// Command is an outbound event without payload.
type Command = MessageType

const (
	CommandStart Command = "start_simulation"
	CommandStop  Command = "stop_simulation"
	CommandReset Command = "reset_simulation"
	CommandFire  Command = "fire_weapon"
)

// IsCommand reports whether t is one of the outbound commands.
func IsCommand(t MessageType) bool {
	switch t {
	case CommandStart, CommandStop, CommandReset, CommandFire:
		return true
	}
	return false
}

// Envelope wraps every message exchanged with the simulation.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(Envelope{Type: cmd})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("envelope without type")
	}
	return env, nil
}
