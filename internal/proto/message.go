package proto

import (
	"encoding/json"
	"fmt"
)

// Envelope types. Every message on the relay connection is a flat JSON object
// whose "type" field selects the schema.
const (
	TypeJoinRoom      = "join-room"
	TypeJoinSuccess   = "join-success"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeUserPromoted  = "user-promoted"
	TypeUserDemoted   = "user-demoted"
	TypeWebRTCSignal  = "webrtc-signal"
	TypeAdminCommand  = "admin-command"
	TypeAdminAction   = "admin-action"
	TypeChatMessage   = "chat-message"
	TypeEncryptionKey = "encryption-key"
	TypeError         = "error"
)

// ClientMessage is an envelope the relay accepts from a client.
type ClientMessage interface {
	clientMessage()
}

// ServerMessage is an envelope the relay emits to a client.
type ServerMessage interface {
	serverMessage()
}

// JoinRoom asks to join roomId, creating the room when it does not exist.
type JoinRoom struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// User is a roster entry.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// JoinSuccess carries the roster snapshot at join time.
type JoinSuccess struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	YourID   string `json:"yourId"`
	YourRole string `json:"yourRole"`
	Users    []User `json:"users"`
}

// UserJoined is a roster delta.
type UserJoined struct {
	Type string `json:"type"`
	User User   `json:"user"`
}

// UserLeft is a roster delta.
type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// RoleChanged is sent as user-promoted or user-demoted.
type RoleChanged struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// WebRTCSignal carries one negotiation step. Clients fill TargetUserID, the
// relay replaces it with SenderUserID. Signal is never inspected by the relay.
type WebRTCSignal struct {
	Type         string          `json:"type"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	SenderUserID string          `json:"senderUserId,omitempty"`
	Signal       json.RawMessage `json:"signal"`
}

// AdminCommand requests a privileged action against TargetUserID.
type AdminCommand struct {
	Type         string `json:"type"`
	Command      string `json:"command"`
	TargetUserID string `json:"targetUserId"`
	FromUserID   string `json:"fromUserId,omitempty"`
}

// AdminAction is delivered to the target of an authorized command.
type AdminAction struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	FromUserID string `json:"fromUserId"`
}

// ChatMessage is broadcast to the room. Message and Sender may be encrypted
// envelopes and are opaque to the relay.
type ChatMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// EncryptionKey distributes the room chat key. TargetUserID narrows delivery
// to a single participant.
type EncryptionKey struct {
	Type         string    `json:"type"`
	KeyData      ByteArray `json:"keyData"`
	TargetUserID string    `json:"targetUserId,omitempty"`
}

// Error is a non-fatal failure report; the connection stays open.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Ignored stands for any envelope with an unknown type.
type Ignored struct {
	Type string
}

func (JoinRoom) clientMessage()      {}
func (WebRTCSignal) clientMessage()  {}
func (AdminCommand) clientMessage()  {}
func (ChatMessage) clientMessage()   {}
func (EncryptionKey) clientMessage() {}
func (Ignored) clientMessage()       {}

func (JoinSuccess) serverMessage()   {}
func (UserJoined) serverMessage()    {}
func (UserLeft) serverMessage()      {}
func (RoleChanged) serverMessage()   {}
func (WebRTCSignal) serverMessage()  {}
func (AdminAction) serverMessage()   {}
func (ChatMessage) serverMessage()   {}
func (EncryptionKey) serverMessage() {}
func (Error) serverMessage()         {}
func (Ignored) serverMessage()       {}

type header struct {
	Type string `json:"type"`
}

// DecodeClient parses a client envelope. Unknown types yield Ignored.
func DecodeClient(data []byte) (ClientMessage, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch h.Type {
	case TypeJoinRoom:
		return decodeAs[JoinRoom](data)
	case TypeWebRTCSignal:
		return decodeAs[WebRTCSignal](data)
	case TypeAdminCommand:
		return decodeAs[AdminCommand](data)
	case TypeChatMessage:
		return decodeAs[ChatMessage](data)
	case TypeEncryptionKey:
		return decodeAs[EncryptionKey](data)
	default:
		return Ignored{Type: h.Type}, nil
	}
}

// DecodeServer parses a relay envelope. Unknown types yield Ignored.
func DecodeServer(data []byte) (ServerMessage, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch h.Type {
	case TypeJoinSuccess:
		return decodeAs[JoinSuccess](data)
	case TypeUserJoined:
		return decodeAs[UserJoined](data)
	case TypeUserLeft:
		return decodeAs[UserLeft](data)
	case TypeUserPromoted, TypeUserDemoted:
		return decodeAs[RoleChanged](data)
	case TypeWebRTCSignal:
		return decodeAs[WebRTCSignal](data)
	case TypeAdminAction:
		return decodeAs[AdminAction](data)
	case TypeChatMessage:
		return decodeAs[ChatMessage](data)
	case TypeEncryptionKey:
		return decodeAs[EncryptionKey](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return Ignored{Type: h.Type}, nil
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
