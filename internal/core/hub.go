package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/policy"
	"github.com/vovakirdan/wiremesh/internal/store"
)

type envelope struct {
	client *Client
	cmd    *Command
}

// Hub is the signaling relay. A single goroutine owns the Registry and
// processes every command, so room state needs no further locking.
type Hub struct {
	registry *Registry
	audit    store.AuditStore
	log      *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	inbox      chan envelope
	queries    chan func(*Registry)
	audits     chan *store.AuditEntry
	stopped    chan struct{}
	now        func() time.Time
}

// NewHub creates a hub whose rooms hold at most capacity participants.
// audit may be nil.
func NewHub(capacity int, audit store.AuditStore, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		registry:   NewRegistry(capacity),
		audit:      audit,
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan envelope, 256),
		queries:    make(chan func(*Registry)),
		audits:     make(chan *store.AuditEntry, 128),
		stopped:    make(chan struct{}),
		now:        time.Now,
	}
}

// Run processes commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	if h.audit != nil {
		go h.auditLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			go h.pump(ctx, c)
		case c := <-h.unregister:
			h.disconnect(c)
		case env := <-h.inbox:
			h.handle(env.client, env.cmd)
		case q := <-h.queries:
			q(h.registry)
		}
	}
}

// RegisterClient starts forwarding c.Commands into the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
	}
}

// UnregisterClient removes c from its room and stops its event stream.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Rooms returns a snapshot of all live rooms.
func (h *Hub) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var out []RoomInfo
	err := h.query(ctx, func(g *Registry) { out = g.Rooms() })
	return out, err
}

// Room returns a snapshot of one live room.
func (h *Hub) Room(ctx context.Context, id string) (RoomInfo, bool, error) {
	var (
		out   RoomInfo
		found bool
	)
	err := h.query(ctx, func(g *Registry) {
		if r, ok := g.Room(id); ok {
			out, found = info(r), true
		}
	})
	return out, found, err
}

func (h *Hub) query(ctx context.Context, fn func(*Registry)) error {
	done := make(chan struct{})
	wrapped := func(g *Registry) {
		fn(g)
		close(done)
	}
	select {
	case h.queries <- wrapped:
	case <-h.stopped:
		return errors.New("hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			select {
			case h.inbox <- envelope{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	if c.detached {
		return
	}
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd)
	case CommandSignal:
		h.handleSignal(c, cmd)
	case CommandAdmin:
		h.handleAdmin(c, cmd)
	case CommandChat:
		h.handleChat(c, cmd)
	case CommandEncryptionKey:
		h.handleEncryptionKey(c, cmd)
	default:
		h.log.Debug().Str("conn_id", c.ID).Int("kind", int(cmd.Kind)).Msg("ignoring unknown command")
	}
}

func (h *Hub) handleJoin(c *Client, cmd *Command) {
	if c.Subject != "" && c.Subject != cmd.UserID {
		h.sendError(c, ErrCodeUnauthorized, "ticket does not match user id")
		return
	}
	room, err := h.registry.Join(c, cmd.Room, cmd.UserID, cmd.UserName)
	switch {
	case errors.Is(err, ErrRoomFull):
		h.log.Info().Str("room_id", cmd.Room).Str("user_id", cmd.UserID).Msg("join rejected: room full")
		h.sendError(c, ErrCodeRoomFull, fmt.Sprintf("room is full (max %d participants)", h.registry.capacity))
		return
	case errors.Is(err, ErrAlreadyJoined):
		h.sendError(c, ErrCodeAlreadyJoined, "already joined")
		return
	case err != nil:
		h.log.Error().Err(err).Str("room_id", cmd.Room).Msg("join failed")
		h.sendError(c, ErrCodeBadRequest, "failed to join room")
		return
	}

	self := room.member(cmd.UserID)
	h.deliver(c, &Event{
		Kind:    EventJoinSuccess,
		Room:    room.ID,
		User:    self.ID,
		Role:    self.Role,
		Members: room.Roster(),
	})
	h.broadcast(room, c, &Event{Kind: EventUserJoined, Room: room.ID, Member: self})

	h.log.Info().
		Str("room_id", room.ID).
		Str("user_id", self.ID).
		Str("role", string(self.Role)).
		Int("size", room.Size()).
		Msg("participant joined")
}

func (h *Hub) handleSignal(c *Client, cmd *Command) {
	b, ok := h.registry.Binding(c)
	if !ok {
		h.log.Debug().Str("conn_id", c.ID).Msg("dropping signal from unbound connection")
		return
	}
	if cmd.Target == b.ParticipantID {
		return
	}
	target, ok := h.registry.Lookup(b.RoomID, cmd.Target)
	if !ok {
		// The target left; this is a normal race, not an error.
		h.log.Debug().Str("room_id", b.RoomID).Str("target_id", cmd.Target).Msg("dropping signal for absent participant")
		return
	}
	h.deliver(target, &Event{Kind: EventSignal, Room: b.RoomID, From: b.ParticipantID, Signal: cmd.Signal})
}

func (h *Hub) handleAdmin(c *Client, cmd *Command) {
	b, ok := h.registry.Binding(c)
	if !ok {
		h.sendError(c, ErrCodeNotInRoom, "join a room first")
		return
	}
	room, ok := h.registry.Room(b.RoomID)
	if !ok {
		return
	}

	actorRole := room.RoleOf(b.ParticipantID)
	targetRole := room.RoleOf(cmd.Target)
	entry := &store.AuditEntry{
		RoomID:   room.ID,
		ActorID:  b.ParticipantID,
		TargetID: cmd.Target,
		Action:   string(cmd.Action),
	}

	if err := policy.Check(cmd.Action, actorRole, targetRole); err != nil {
		if errors.Is(err, policy.ErrUnknownCommand) {
			h.sendError(c, ErrCodeBadRequest, "unknown command")
			return
		}
		h.log.Info().
			Str("room_id", room.ID).
			Str("actor_id", b.ParticipantID).
			Str("target_id", cmd.Target).
			Str("command", string(cmd.Action)).
			Msg("privileged command rejected")
		entry.Outcome = store.OutcomeRejected
		h.record(entry)
		h.sendError(c, ErrCodeUnauthorized, "insufficient privileges")
		return
	}

	if cmd.Action.ChangesRole() {
		h.changeRole(room, b.ParticipantID, cmd, entry)
		return
	}

	target, ok := h.registry.Lookup(room.ID, cmd.Target)
	if !ok {
		entry.Outcome = store.OutcomeNoop
		h.record(entry)
		return
	}
	h.deliver(target, &Event{Kind: EventAdminAction, Room: room.ID, From: b.ParticipantID, Action: cmd.Action})
	entry.Outcome = store.OutcomeApplied
	h.record(entry)

	if cmd.Action == policy.CommandKickUser {
		h.log.Info().Str("room_id", room.ID).Str("user_id", cmd.Target).Str("by", b.ParticipantID).Msg("participant kicked")
		h.disconnect(target)
	}
}

func (h *Hub) changeRole(room *Room, actorID string, cmd *Command, entry *store.AuditEntry) {
	grant := cmd.Action == policy.CommandPromoteToAdmin
	changed, err := room.SetAdmin(actorID, cmd.Target, grant)
	if err != nil {
		entry.Outcome = store.OutcomeRejected
		h.record(entry)
		return
	}
	if !changed {
		entry.Outcome = store.OutcomeNoop
		h.record(entry)
		return
	}

	kind := EventUserDemoted
	if grant {
		kind = EventUserPromoted
	}
	role := room.RoleOf(cmd.Target)
	h.broadcast(room, nil, &Event{Kind: kind, Room: room.ID, User: cmd.Target, Role: role})
	entry.Outcome = store.OutcomeApplied
	h.record(entry)

	h.log.Info().Str("room_id", room.ID).Str("user_id", cmd.Target).Str("role", string(role)).Msg("role changed")
}

func (h *Hub) handleChat(c *Client, cmd *Command) {
	b, ok := h.registry.Binding(c)
	if !ok {
		return
	}
	room, ok := h.registry.Room(b.RoomID)
	if !ok {
		return
	}
	msg := cmd.Chat
	msg.From = b.ParticipantID
	msg.Timestamp = h.now().UnixMilli()
	h.broadcast(room, nil, &Event{Kind: EventChat, Room: room.ID, From: b.ParticipantID, Chat: msg})
}

func (h *Hub) handleEncryptionKey(c *Client, cmd *Command) {
	b, ok := h.registry.Binding(c)
	if !ok {
		return
	}
	room, ok := h.registry.Room(b.RoomID)
	if !ok {
		return
	}
	if room.RoleOf(b.ParticipantID) != policy.RoleOwner {
		h.sendError(c, ErrCodeUnauthorized, "only the room owner distributes the chat key")
		return
	}

	ev := &Event{Kind: EventEncryptionKey, Room: room.ID, From: b.ParticipantID, KeyData: cmd.KeyData}
	if cmd.Target == "" {
		h.broadcast(room, c, ev)
		return
	}
	if target, ok := h.registry.Lookup(room.ID, cmd.Target); ok && target != c {
		h.deliver(target, ev)
	}
}

// disconnect removes c from its room and detaches it. Safe to call twice.
func (h *Hub) disconnect(c *Client) {
	b, room, removed := h.registry.Leave(c)
	if removed {
		if room == nil {
			h.log.Info().Str("room_id", b.RoomID).Msg("room deleted (empty)")
		} else {
			h.broadcast(room, c, &Event{Kind: EventUserLeft, Room: room.ID, User: b.ParticipantID})
		}
		h.log.Info().Str("room_id", b.RoomID).Str("user_id", b.ParticipantID).Msg("participant left")
	}

	if !c.detached {
		c.detached = true
		close(c.done)
		close(c.Events)
	}
}

func (h *Hub) broadcast(room *Room, except *Client, ev *Event) {
	for _, c := range room.clients(except) {
		h.deliver(c, ev)
	}
}

// deliver is best-effort: detached or slow clients are skipped.
func (h *Hub) deliver(c *Client, ev *Event) {
	if c.detached {
		return
	}
	select {
	case c.Events <- ev:
	default:
		h.log.Warn().Str("conn_id", c.ID).Int("kind", int(ev.Kind)).Msg("dropping event for slow client")
	}
}

func (h *Hub) sendError(c *Client, code, msg string) {
	h.deliver(c, &Event{Kind: EventError, Error: coreError(code, msg)})
}

func (h *Hub) record(entry *store.AuditEntry) {
	if h.audit == nil {
		return
	}
	entry.CreatedAt = h.now().UTC()
	select {
	case h.audits <- entry:
	default:
		h.log.Warn().Str("room_id", entry.RoomID).Msg("audit queue full, dropping entry")
	}
}

func (h *Hub) auditLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-h.audits:
			if err := h.audit.RecordAction(ctx, entry); err != nil {
				h.log.Warn().Err(err).Str("room_id", entry.RoomID).Msg("failed to record audit entry")
			}
		}
	}
}
