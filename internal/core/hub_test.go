package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wiremesh/internal/policy"
	"github.com/vovakirdan/wiremesh/internal/store"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	hub := startHub(t, 0)

	alice, ok := join(t, hub, "general", "alice")
	if ok.Role != policy.RoleOwner || ok.User != "alice" || len(ok.Members) != 1 {
		t.Fatalf("unexpected join success for alice: %+v", ok)
	}

	bob, ok := join(t, hub, "general", "bob")
	if ok.Role != policy.RoleUser {
		t.Fatalf("expected bob to be a user, got %s", ok.Role)
	}
	if len(ok.Members) != 2 || ok.Members[0].ID != "alice" || ok.Members[0].Role != policy.RoleOwner {
		t.Fatalf("unexpected roster: %+v", ok.Members)
	}

	joined := mustEvent(t, alice.Events, EventUserJoined)
	if joined.Member.ID != "bob" || joined.Member.Role != policy.RoleUser {
		t.Fatalf("unexpected user-joined: %+v", joined)
	}
	noEvent(t, bob.Events, EventUserJoined, 50*time.Millisecond)

	hub.UnregisterClient(alice)
	left := mustEvent(t, bob.Events, EventUserLeft)
	if left.User != "alice" || left.Room != "general" {
		t.Fatalf("unexpected user-left: %+v", left)
	}
	waitClosed(t, alice.Events)
}

func TestHubDoubleJoinProducesError(t *testing.T) {
	hub := startHub(t, 0)

	alice, _ := join(t, hub, "general", "alice")
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "other", UserID: "alice"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeAlreadyJoined {
		t.Fatalf("expected already_joined error, got %+v", ev)
	}
}

func TestHubDuplicateParticipantIDRejected(t *testing.T) {
	hub := startHub(t, 0)

	join(t, hub, "general", "alice")

	imposter := NewClient("conn-imposter")
	hub.RegisterClient(imposter)
	imposter.Commands <- &Command{Kind: CommandJoinRoom, Room: "general", UserID: "alice"}

	ev := mustEvent(t, imposter.Events, EventError)
	if ev.Error.Code != ErrCodeAlreadyJoined {
		t.Fatalf("expected already_joined, got %+v", ev.Error)
	}
}

func TestHubTicketSubjectMismatch(t *testing.T) {
	hub := startHub(t, 0)

	c := NewClient("conn")
	c.Subject = "alice"
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoinRoom, Room: "general", UserID: "mallory"}

	ev := mustEvent(t, c.Events, EventError)
	if ev.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", ev.Error)
	}
}

func TestHubRoomCapacity(t *testing.T) {
	hub := startHub(t, DefaultRoomCapacity)

	for i := range DefaultRoomCapacity {
		join(t, hub, "full", fmt.Sprintf("p%d", i))
	}

	late := NewClient("conn-late")
	hub.RegisterClient(late)
	late.Commands <- &Command{Kind: CommandJoinRoom, Room: "full", UserID: "late"}

	ev := mustEvent(t, late.Events, EventError)
	if ev.Error.Code != ErrCodeRoomFull {
		t.Fatalf("expected room_full, got %+v", ev.Error)
	}
	if ev.Error.Message != "room is full (max 10 participants)" {
		t.Fatalf("unexpected message: %q", ev.Error.Message)
	}

	rooms, err := hub.Rooms(context.Background())
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Size != DefaultRoomCapacity {
		t.Fatalf("unexpected rooms snapshot: %+v", rooms)
	}
}

func TestHubLastLeaveDeletesRoom(t *testing.T) {
	hub := startHub(t, 0)

	alice, _ := join(t, hub, "ephemeral", "alice")
	hub.UnregisterClient(alice)

	if _, found, _ := hub.Room(context.Background(), "ephemeral"); found {
		t.Fatal("expected room to be deleted after the last participant left")
	}

	_, ok := join(t, hub, "ephemeral", "bob")
	if ok.Role != policy.RoleOwner || len(ok.Members) != 1 {
		t.Fatalf("expected bob to own a fresh room, got %+v", ok)
	}
}

func TestHubSignalRouting(t *testing.T) {
	hub := startHub(t, 0)

	alice, _ := join(t, hub, "r", "alice")
	bob, _ := join(t, hub, "r", "bob")

	payload := json.RawMessage(`{"type":"offer","offer":{"type":"offer","sdp":"v=0"}}`)
	alice.Commands <- &Command{Kind: CommandSignal, Target: "bob", Signal: payload}

	ev := mustEvent(t, bob.Events, EventSignal)
	if ev.From != "alice" || string(ev.Signal) != string(payload) {
		t.Fatalf("unexpected signal: %+v", ev)
	}

	// Signals to self are dropped.
	alice.Commands <- &Command{Kind: CommandSignal, Target: "alice", Signal: payload}
	noEvent(t, alice.Events, EventSignal, 50*time.Millisecond)
}

func TestHubSignalToDepartedParticipantDropped(t *testing.T) {
	hub := startHub(t, 0)

	alice, _ := join(t, hub, "r", "alice")
	bob, _ := join(t, hub, "r", "bob")
	hub.UnregisterClient(bob)
	mustEvent(t, alice.Events, EventUserLeft)

	alice.Commands <- &Command{Kind: CommandSignal, Target: "bob", Signal: json.RawMessage(`{}`)}
	noEvent(t, alice.Events, EventError, 100*time.Millisecond)

	// Hub is still responsive.
	if _, found, err := hub.Room(context.Background(), "r"); err != nil || !found {
		t.Fatalf("room lookup: found=%v err=%v", found, err)
	}
}

func TestHubPromoteDemoteRoundTrip(t *testing.T) {
	hub := startHub(t, 0)

	owner, _ := join(t, hub, "r", "owner")
	bob, _ := join(t, hub, "r", "bob")

	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandPromoteToAdmin, Target: "bob"}
	for _, c := range []*Client{owner, bob} {
		ev := mustEvent(t, c.Events, EventUserPromoted)
		if ev.User != "bob" || ev.Role != policy.RoleAdmin {
			t.Fatalf("unexpected promote event: %+v", ev)
		}
	}

	// Promoting twice changes nothing and broadcasts nothing.
	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandPromoteToAdmin, Target: "bob"}
	noEvent(t, bob.Events, EventUserPromoted, 50*time.Millisecond)

	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandDemoteAdmin, Target: "bob"}
	ev := mustEvent(t, bob.Events, EventUserDemoted)
	if ev.User != "bob" || ev.Role != policy.RoleUser {
		t.Fatalf("unexpected demote event: %+v", ev)
	}
}

func TestHubOwnerIsImmutable(t *testing.T) {
	hub := startHub(t, 0)

	owner, _ := join(t, hub, "r", "owner")
	admin, _ := join(t, hub, "r", "admin")

	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandPromoteToAdmin, Target: "admin"}
	mustEvent(t, admin.Events, EventUserPromoted)

	for _, action := range []policy.Command{policy.CommandDemoteAdmin, policy.CommandMuteUser, policy.CommandKickUser} {
		admin.Commands <- &Command{Kind: CommandAdmin, Action: action, Target: "owner"}
		ev := mustEvent(t, admin.Events, EventError)
		if ev.Error.Code != ErrCodeUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %+v", action, ev.Error)
		}
	}
	noEvent(t, owner.Events, EventAdminAction, 50*time.Millisecond)

	// The owner cannot demote itself either.
	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandDemoteAdmin, Target: "owner"}
	mustEvent(t, owner.Events, EventError)

	info, _, _ := hub.Room(context.Background(), "r")
	if info.OwnerID != "owner" {
		t.Fatalf("owner changed to %q", info.OwnerID)
	}
}

func TestHubUserCommandNeverDelivered(t *testing.T) {
	hub := startHub(t, 0)

	join(t, hub, "r", "owner")
	u, _ := join(t, hub, "r", "u")
	v, _ := join(t, hub, "r", "v")

	u.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandMuteUser, Target: "v"}
	ev := mustEvent(t, u.Events, EventError)
	if ev.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", ev.Error)
	}
	noEvent(t, v.Events, EventAdminAction, 100*time.Millisecond)
}

func TestHubAdminKickScenario(t *testing.T) {
	hub := startHub(t, 0)

	a, _ := join(t, hub, "r", "A")
	b, _ := join(t, hub, "r", "B")
	r1, _ := join(t, hub, "r", "R1")

	a.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandPromoteToAdmin, Target: "B"}
	mustEvent(t, b.Events, EventUserPromoted)

	b.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandKickUser, Target: "A"}
	if ev := mustEvent(t, b.Events, EventError); ev.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", ev.Error)
	}
	noEvent(t, a.Events, EventAdminAction, 50*time.Millisecond)

	b.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandKickUser, Target: "R1"}
	ev := mustEvent(t, r1.Events, EventAdminAction)
	if ev.Action != policy.CommandKickUser || ev.From != "B" {
		t.Fatalf("unexpected admin action: %+v", ev)
	}
	waitClosed(t, r1.Events)

	left := mustEvent(t, a.Events, EventUserLeft)
	if left.User != "R1" {
		t.Fatalf("expected R1 to leave, got %+v", left)
	}
}

func TestHubAdminCannotActOnAdmin(t *testing.T) {
	hub := startHub(t, 0)

	owner, _ := join(t, hub, "r", "owner")
	b, _ := join(t, hub, "r", "b")
	c, _ := join(t, hub, "r", "c")

	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandPromoteToAdmin, Target: "b"}
	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandPromoteToAdmin, Target: "c"}
	mustEvent(t, b.Events, EventUserPromoted)
	mustEvent(t, b.Events, EventUserPromoted)

	b.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandDisableCamera, Target: "c"}
	mustEvent(t, b.Events, EventError)
	noEvent(t, c.Events, EventAdminAction, 50*time.Millisecond)

	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandDisableCamera, Target: "c"}
	if ev := mustEvent(t, c.Events, EventAdminAction); ev.Action != policy.CommandDisableCamera {
		t.Fatalf("unexpected action: %+v", ev)
	}
}

func TestHubUnknownAdminCommand(t *testing.T) {
	hub := startHub(t, 0)

	owner, _ := join(t, hub, "r", "owner")
	owner.Commands <- &Command{Kind: CommandAdmin, Action: "self-destruct", Target: "x"}
	if ev := mustEvent(t, owner.Events, EventError); ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", ev.Error)
	}
}

func TestHubChatRelay(t *testing.T) {
	hub := startHub(t, 0)

	alice, _ := join(t, hub, "r", "alice")
	bob, _ := join(t, hub, "r", "bob")

	bob.Commands <- &Command{Kind: CommandChat, Chat: ChatMessage{Sender: "Bob", Text: "opaque"}}
	for _, c := range []*Client{alice, bob} {
		ev := mustEvent(t, c.Events, EventChat)
		if ev.Chat.From != "bob" || ev.Chat.Text != "opaque" || ev.Chat.Sender != "Bob" || ev.Chat.Timestamp == 0 {
			t.Fatalf("unexpected chat: %+v", ev.Chat)
		}
	}
}

func TestHubEncryptionKeyDistribution(t *testing.T) {
	hub := startHub(t, 0)

	owner, _ := join(t, hub, "r", "owner")
	bob, _ := join(t, hub, "r", "bob")
	carol, _ := join(t, hub, "r", "carol")

	key := []byte{1, 2, 3}
	owner.Commands <- &Command{Kind: CommandEncryptionKey, KeyData: key}
	for _, c := range []*Client{bob, carol} {
		ev := mustEvent(t, c.Events, EventEncryptionKey)
		if string(ev.KeyData) != string(key) || ev.From != "owner" {
			t.Fatalf("unexpected key event: %+v", ev)
		}
	}
	noEvent(t, owner.Events, EventEncryptionKey, 50*time.Millisecond)

	owner.Commands <- &Command{Kind: CommandEncryptionKey, KeyData: key, Target: "carol"}
	mustEvent(t, carol.Events, EventEncryptionKey)
	noEvent(t, bob.Events, EventEncryptionKey, 50*time.Millisecond)

	bob.Commands <- &Command{Kind: CommandEncryptionKey, KeyData: []byte{9}}
	if ev := mustEvent(t, bob.Events, EventError); ev.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", ev.Error)
	}
	noEvent(t, carol.Events, EventEncryptionKey, 50*time.Millisecond)
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []*store.AuditEntry
}

func (m *memoryAudit) RecordAction(_ context.Context, e *store.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAudit) ListActions(context.Context, string, int) ([]*store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.AuditEntry(nil), m.entries...), nil
}

func (m *memoryAudit) Close() error { return nil }

func TestHubRecordsModerationOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	audit := &memoryAudit{}
	hub := NewHub(0, audit, nil)
	go hub.Run(ctx)

	owner, _ := join(t, hub, "r", "owner")
	u, _ := join(t, hub, "r", "u")

	u.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandMuteUser, Target: "owner"}
	mustEvent(t, u.Events, EventError)
	owner.Commands <- &Command{Kind: CommandAdmin, Action: policy.CommandMuteUser, Target: "u"}
	mustEvent(t, u.Events, EventAdminAction)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ := audit.ListActions(ctx, "r", 0)
		if len(entries) == 2 {
			if entries[0].Outcome != store.OutcomeRejected || entries[1].Outcome != store.OutcomeApplied {
				t.Fatalf("unexpected outcomes: %s, %s", entries[0].Outcome, entries[1].Outcome)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("audit entries were not recorded")
}
