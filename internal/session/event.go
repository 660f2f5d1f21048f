package session

import (
	"time"

	"github.com/vovakirdan/wiremesh/internal/policy"
)

// EventKind identifies what happened in the session.
type EventKind int

const (
	EventJoined EventKind = iota
	EventParticipantJoined
	EventParticipantLeft
	EventRoleChanged
	EventChat
	EventNotice
	EventError
	EventRemoteTrack
	EventPeerState
	EventKicked
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventParticipantJoined:
		return "participant-joined"
	case EventParticipantLeft:
		return "participant-left"
	case EventRoleChanged:
		return "role-changed"
	case EventChat:
		return "chat"
	case EventNotice:
		return "notice"
	case EventError:
		return "error"
	case EventRemoteTrack:
		return "remote-track"
	case EventPeerState:
		return "peer-state"
	case EventKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Event is what the presentation layer renders. Fields are filled per kind.
type Event struct {
	Kind   EventKind
	UserID string
	Name   string
	Role   policy.Role
	Text   string
	Time   time.Time
	// Direct marks chat received over a control channel instead of the relay.
	Direct bool
}
