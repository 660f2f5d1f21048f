package core

import (
	"encoding/json"

	"github.com/vovakirdan/wiremesh/internal/policy"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom binds the connection to a room, creating it if needed.
	CommandJoinRoom CommandKind = iota
	// CommandSignal relays a negotiation step to one participant.
	CommandSignal
	// CommandAdmin requests a privileged action.
	CommandAdmin
	// CommandChat broadcasts a chat message to the room.
	CommandChat
	// CommandEncryptionKey distributes the room chat key.
	CommandEncryptionKey
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Room     string
	UserID   string
	UserName string
	Target   string
	Signal   json.RawMessage
	Action   policy.Command
	Chat     ChatMessage
	KeyData  []byte
}

// ChatMessage is a relayed chat payload. Text and Sender are opaque.
type ChatMessage struct {
	From      string
	Sender    string
	Text      string
	Timestamp int64
}
