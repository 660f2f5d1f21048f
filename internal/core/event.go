package core

import (
	"encoding/json"

	"github.com/vovakirdan/wiremesh/internal/policy"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventJoinSuccess delivers the roster snapshot to a new participant.
	EventJoinSuccess EventKind = iota
	// EventUserJoined notifies the room about a new participant.
	EventUserJoined
	// EventUserLeft notifies the room about a departed participant.
	EventUserLeft
	// EventUserPromoted notifies the room that a participant became admin.
	EventUserPromoted
	// EventUserDemoted notifies the room that a participant lost admin.
	EventUserDemoted
	// EventSignal delivers a negotiation step from another participant.
	EventSignal
	// EventAdminAction delivers an authorized privileged action to its target.
	EventAdminAction
	// EventChat delivers a chat message.
	EventChat
	// EventEncryptionKey delivers the room chat key.
	EventEncryptionKey
	// EventError notifies clients about a domain error.
	EventError
)

// Member is a roster entry with its resolved role.
type Member struct {
	ID   string
	Name string
	Role policy.Role
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	User    string // subject of the event, or the recipient's id for EventJoinSuccess
	From    string // originating participant
	Role    policy.Role
	Member  Member
	Members []Member
	Signal  json.RawMessage
	Action  policy.Command
	Chat    ChatMessage
	KeyData []byte
	Error   *CoreError
}
