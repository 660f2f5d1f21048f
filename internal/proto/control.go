package proto

import (
	"encoding/json"
	"fmt"
)

// ControlMessage travels over a direct peer control channel.
type ControlMessage interface {
	controlMessage()
}

// ControlCommand is a privileged action delivered peer to peer.
type ControlCommand struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	FromUserID string `json:"fromUserId"`
}

func (ChatMessage) controlMessage()    {}
func (ControlCommand) controlMessage() {}
func (Ignored) controlMessage()        {}

// DecodeControl parses a control channel message. Unknown types yield Ignored.
func DecodeControl(data []byte) (ControlMessage, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}

	switch h.Type {
	case TypeChatMessage:
		return decodeAs[ChatMessage](data)
	case TypeAdminCommand:
		return decodeAs[ControlCommand](data)
	default:
		return Ignored{Type: h.Type}, nil
	}
}
