package http

import (
	"github.com/vovakirdan/wiremesh/internal/core"
	"github.com/vovakirdan/wiremesh/internal/policy"
	"github.com/vovakirdan/wiremesh/internal/proto"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Type: proto.TypeError, Code: core.ErrCodeBadRequest, Message: msg}
}

// clientToCommand maps a decoded envelope onto a hub command. A nil command
// with a nil error means the envelope is ignored.
func clientToCommand(msg proto.ClientMessage) (*core.Command, *proto.Error) {
	switch m := msg.(type) {
	case proto.JoinRoom:
		if m.RoomID == "" || m.UserID == "" {
			return nil, badRequest("roomId and userId are required")
		}
		return &core.Command{
			Kind:     core.CommandJoinRoom,
			Room:     m.RoomID,
			UserID:   m.UserID,
			UserName: m.UserName,
		}, nil
	case proto.WebRTCSignal:
		if m.TargetUserID == "" {
			return nil, badRequest("targetUserId is required")
		}
		return &core.Command{
			Kind:   core.CommandSignal,
			Target: m.TargetUserID,
			Signal: m.Signal,
		}, nil
	case proto.AdminCommand:
		if m.TargetUserID == "" {
			return nil, badRequest("targetUserId is required")
		}
		return &core.Command{
			Kind:   core.CommandAdmin,
			Target: m.TargetUserID,
			Action: policy.Command(m.Command),
		}, nil
	case proto.ChatMessage:
		return &core.Command{
			Kind: core.CommandChat,
			Chat: core.ChatMessage{Sender: m.Sender, Text: m.Message},
		}, nil
	case proto.EncryptionKey:
		if len(m.KeyData) == 0 {
			return nil, badRequest("keyData is required")
		}
		return &core.Command{
			Kind:    core.CommandEncryptionKey,
			Target:  m.TargetUserID,
			KeyData: []byte(m.KeyData),
		}, nil
	default:
		return nil, nil
	}
}

func toUser(m core.Member) proto.User {
	return proto.User{ID: m.ID, Name: m.Name, Role: string(m.Role)}
}

func toUsers(members []core.Member) []proto.User {
	out := make([]proto.User, 0, len(members))
	for _, m := range members {
		out = append(out, toUser(m))
	}
	return out
}

func serverFromEvent(event *core.Event) proto.ServerMessage {
	switch event.Kind {
	case core.EventJoinSuccess:
		return proto.JoinSuccess{
			Type:     proto.TypeJoinSuccess,
			RoomID:   event.Room,
			YourID:   event.User,
			YourRole: string(event.Role),
			Users:    toUsers(event.Members),
		}
	case core.EventUserJoined:
		return proto.UserJoined{Type: proto.TypeUserJoined, User: toUser(event.Member)}
	case core.EventUserLeft:
		return proto.UserLeft{Type: proto.TypeUserLeft, UserID: event.User}
	case core.EventUserPromoted:
		return proto.RoleChanged{Type: proto.TypeUserPromoted, UserID: event.User, Role: string(event.Role)}
	case core.EventUserDemoted:
		return proto.RoleChanged{Type: proto.TypeUserDemoted, UserID: event.User, Role: string(event.Role)}
	case core.EventSignal:
		return proto.WebRTCSignal{Type: proto.TypeWebRTCSignal, SenderUserID: event.From, Signal: event.Signal}
	case core.EventAdminAction:
		return proto.AdminAction{Type: proto.TypeAdminAction, Action: string(event.Action), FromUserID: event.From}
	case core.EventChat:
		return proto.ChatMessage{
			Type:      proto.TypeChatMessage,
			Message:   event.Chat.Text,
			Sender:    event.Chat.Sender,
			Timestamp: event.Chat.Timestamp,
			UserID:    event.Chat.From,
		}
	case core.EventEncryptionKey:
		return proto.EncryptionKey{Type: proto.TypeEncryptionKey, KeyData: proto.ByteArray(event.KeyData)}
	case core.EventError:
		if event.Error == nil {
			return proto.Error{Type: proto.TypeError, Message: "unknown error"}
		}
		return proto.Error{Type: proto.TypeError, Code: event.Error.Code, Message: event.Error.Message}
	default:
		return proto.Ignored{Type: "unknown"}
	}
}
