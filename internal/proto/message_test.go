package proto

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(ClientMessage) bool
	}{
		{
			name: "join",
			raw:  `{"type":"join-room","roomId":"R1","userId":"a","userName":"Alice"}`,
			want: func(m ClientMessage) bool {
				j, ok := m.(JoinRoom)
				return ok && j.RoomID == "R1" && j.UserID == "a" && j.UserName == "Alice"
			},
		},
		{
			name: "signal keeps payload opaque",
			raw:  `{"type":"webrtc-signal","targetUserId":"b","signal":{"type":"offer","offer":{"sdp":"x"}}}`,
			want: func(m ClientMessage) bool {
				s, ok := m.(WebRTCSignal)
				return ok && s.TargetUserID == "b" && string(s.Signal) == `{"type":"offer","offer":{"sdp":"x"}}`
			},
		},
		{
			name: "admin command",
			raw:  `{"type":"admin-command","command":"kick-user","targetUserId":"b","fromUserId":"a"}`,
			want: func(m ClientMessage) bool {
				c, ok := m.(AdminCommand)
				return ok && c.Command == "kick-user" && c.TargetUserID == "b"
			},
		},
		{
			name: "unknown type is ignored",
			raw:  `{"type":"ping","extra":1}`,
			want: func(m ClientMessage) bool {
				i, ok := m.(Ignored)
				return ok && i.Type == "ping"
			},
		},
		{
			name: "unknown fields are tolerated",
			raw:  `{"type":"chat-message","message":"hi","future":true}`,
			want: func(m ClientMessage) bool {
				c, ok := m.(ChatMessage)
				return ok && c.Message == "hi"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClient([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeClient: %v", err)
			}
			if !tt.want(msg) {
				t.Fatalf("unexpected message: %#v", msg)
			}
		})
	}
}

func TestDecodeClientRejectsMalformed(t *testing.T) {
	if _, err := DecodeClient([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestDecodeServerRoleChange(t *testing.T) {
	msg, err := DecodeServer([]byte(`{"type":"user-demoted","userId":"b","role":"user"}`))
	if err != nil {
		t.Fatalf("DecodeServer: %v", err)
	}
	rc, ok := msg.(RoleChanged)
	if !ok || rc.Type != TypeUserDemoted || rc.Role != "user" {
		t.Fatalf("unexpected message: %#v", msg)
	}
}

func TestEncryptionKeyIsIntegerArray(t *testing.T) {
	out, err := json.Marshal(EncryptionKey{Type: TypeEncryptionKey, KeyData: ByteArray{0, 7, 255}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"type":"encryption-key","keyData":[0,7,255]}` {
		t.Fatalf("unexpected encoding: %s", out)
	}

	msg, err := DecodeServer(out)
	if err != nil {
		t.Fatalf("DecodeServer: %v", err)
	}
	key := msg.(EncryptionKey)
	if len(key.KeyData) != 3 || key.KeyData[2] != 255 {
		t.Fatalf("unexpected key data: %v", key.KeyData)
	}

	if _, err := DecodeServer([]byte(`{"type":"encryption-key","keyData":[256]}`)); err == nil {
		t.Fatal("expected out-of-range byte to fail")
	}
}

func TestDecodeControl(t *testing.T) {
	msg, err := DecodeControl([]byte(`{"type":"admin-command","action":"mute-user","fromUserId":"a"}`))
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	cmd, ok := msg.(ControlCommand)
	if !ok || cmd.Action != "mute-user" || cmd.FromUserID != "a" {
		t.Fatalf("unexpected control message: %#v", msg)
	}
}
