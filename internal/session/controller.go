// Package session drives one participant through a room: it reacts to relay
// events, keeps the roster and the local role, owns the peer links and the
// chat key, and issues privileged commands.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiremesh/internal/chat"
	"github.com/vovakirdan/wiremesh/internal/media"
	"github.com/vovakirdan/wiremesh/internal/peer"
	"github.com/vovakirdan/wiremesh/internal/policy"
	"github.com/vovakirdan/wiremesh/internal/proto"
)

var (
	// ErrNotPermitted means the local role may not issue the command. The
	// relay would reject it anyway.
	ErrNotPermitted = errors.New("not permitted for current role")
	// ErrUnknownParticipant means the target is not in the roster.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrRelayClosed is returned by Run when the relay connection ends.
	ErrRelayClosed = errors.New("relay connection closed")
)

const eventBuffer = 128

// Relay is the connection to the signaling relay.
type Relay interface {
	Send(ctx context.Context, msg proto.ClientMessage) error
	Incoming() <-chan proto.ServerMessage
	Close() error
}

// Peers is the set of direct links, implemented by *peer.Manager.
type Peers interface {
	Connect(ctx context.Context, peerID string) error
	HandleSignal(ctx context.Context, peerID string, raw json.RawMessage) error
	Remove(peerID string)
	CloseAll()
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	SendControl(peerID string, data []byte) error
	Broadcast(data []byte) int
}

// PeerFactory builds the link set for a controller.
type PeerFactory func(cfg peer.Config) (Peers, error)

// Config configures a Controller.
type Config struct {
	RoomID   string
	UserID   string
	UserName string

	Relay      Relay
	Media      *media.LocalStream
	Chat       *chat.Channel
	ICEServers []webrtc.ICEServer
	// PeerFactory defaults to peer.NewManager.
	PeerFactory PeerFactory
	Logger      *zerolog.Logger
}

// Controller is the participant's view of one room.
type Controller struct {
	roomID   string
	userName string
	relay    Relay
	peers    Peers
	media    *media.LocalStream
	chat     *chat.Channel
	log      *zerolog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	selfID string
	role   policy.Role
	roster map[string]proto.User
	joined bool
}

// New wires a controller. It does not talk to the relay until Join.
func New(cfg Config) (*Controller, error) {
	if cfg.Relay == nil {
		return nil, errors.New("session: relay is required")
	}
	if cfg.RoomID == "" || cfg.UserID == "" {
		return nil, errors.New("session: room id and user id are required")
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	channel := cfg.Chat
	if channel == nil {
		channel = chat.NewChannel(chat.SuiteAESGCM, logger)
	}
	stream := cfg.Media
	if stream == nil {
		stream, _ = media.Open(media.SyntheticDevices{}, logger)
	}

	c := &Controller{
		roomID:   cfg.RoomID,
		userName: cfg.UserName,
		relay:    cfg.Relay,
		media:    stream,
		chat:     channel,
		log:      logger,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		selfID:   cfg.UserID,
		role:     policy.RoleUser,
		roster:   make(map[string]proto.User),
	}

	factory := cfg.PeerFactory
	if factory == nil {
		factory = func(pc peer.Config) (Peers, error) { return peer.NewManager(pc) }
	}
	peers, err := factory(peer.Config{
		ICEServers: cfg.ICEServers,
		Signaler:   relaySignaler{relay: cfg.Relay},
		Tracks:     stream,
		Handlers: peer.Handlers{
			OnRemoteTrack:    c.onRemoteTrack,
			OnControlMessage: c.onControlMessage,
			OnStateChange:    c.onPeerState,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	c.peers = peers
	return c, nil
}

type relaySignaler struct {
	relay Relay
}

func (s relaySignaler) Signal(ctx context.Context, peerID string, payload json.RawMessage) error {
	return s.relay.Send(ctx, proto.WebRTCSignal{
		Type:         proto.TypeWebRTCSignal,
		TargetUserID: peerID,
		Signal:       payload,
	})
}

// Events delivers session events. Events are dropped when nobody reads.
func (c *Controller) Events() <-chan Event { return c.events }

// Done is closed once the controller has released its resources.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Join asks the relay to put us into the configured room.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	selfID := c.selfID
	c.mu.Unlock()

	return c.relay.Send(ctx, proto.JoinRoom{
		Type:     proto.TypeJoinRoom,
		RoomID:   c.roomID,
		UserID:   selfID,
		UserName: c.userName,
	})
}

// Run processes relay envelopes until the relay closes, ctx ends or the
// controller is closed. Resources are always released on return.
func (c *Controller) Run(ctx context.Context) error {
	defer c.Close()

	incoming := c.relay.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case msg, ok := <-incoming:
			if !ok {
				select {
				case <-c.done:
					return nil
				default:
					return ErrRelayClosed
				}
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg proto.ServerMessage) {
	switch m := msg.(type) {
	case proto.JoinSuccess:
		c.handleJoinSuccess(ctx, m)
	case proto.UserJoined:
		c.handleUserJoined(ctx, m)
	case proto.UserLeft:
		c.handleUserLeft(m)
	case proto.RoleChanged:
		c.handleRoleChanged(m)
	case proto.WebRTCSignal:
		if err := c.peers.HandleSignal(ctx, m.SenderUserID, m.Signal); err != nil {
			c.log.Warn().Err(err).Str("peer_id", m.SenderUserID).Msg("signal rejected")
		}
	case proto.AdminAction:
		c.applyAction(policy.Command(m.Action), m.FromUserID)
	case proto.ChatMessage:
		c.emit(Event{
			Kind:   EventChat,
			UserID: m.UserID,
			Name:   c.chat.Open(m.Sender),
			Text:   c.chat.Open(m.Message),
			Time:   time.UnixMilli(m.Timestamp),
		})
	case proto.EncryptionKey:
		if err := c.chat.Install(m.KeyData); err != nil {
			c.log.Warn().Err(err).Msg("rejecting chat key")
			return
		}
		c.emit(Event{Kind: EventNotice, Text: "chat is end-to-end encrypted"})
	case proto.Error:
		c.emit(Event{Kind: EventError, Text: m.Message})
	default:
		c.log.Debug().Str("type", fmt.Sprintf("%T", msg)).Msg("unhandled relay envelope")
	}
}

func (c *Controller) handleJoinSuccess(ctx context.Context, m proto.JoinSuccess) {
	role := policy.Role(m.YourRole)

	c.mu.Lock()
	c.selfID = m.YourID
	c.role = role
	c.joined = true
	c.roster = make(map[string]proto.User, len(m.Users))
	for _, u := range m.Users {
		c.roster[u.ID] = u
	}
	c.mu.Unlock()

	c.log.Info().Str("room_id", m.RoomID).Str("role", string(role)).Int("participants", len(m.Users)).Msg("joined room")
	c.emit(Event{Kind: EventJoined, UserID: m.YourID, Role: role, Text: m.RoomID})

	// The newcomer initiates towards everyone already present.
	for _, u := range m.Users {
		if u.ID == m.YourID {
			continue
		}
		go c.connect(ctx, u.ID)
	}

	if role == policy.RoleOwner {
		raw, err := c.chat.Generate()
		if err != nil {
			c.log.Error().Err(err).Msg("chat key generation failed, chat stays in plaintext")
			return
		}
		if err := c.relay.Send(ctx, proto.EncryptionKey{Type: proto.TypeEncryptionKey, KeyData: raw}); err != nil {
			c.log.Warn().Err(err).Msg("distribute chat key")
		}
	}
}

// connect runs off the Run goroutine. handleUserLeft drops the roster entry
// before it removes the link, so a peer missing from the roster once Connect
// returns is removed here.
func (c *Controller) connect(ctx context.Context, peerID string) {
	if err := c.peers.Connect(ctx, peerID); err != nil {
		c.log.Warn().Err(err).Str("peer_id", peerID).Msg("peer link not established")
		return
	}

	c.mu.Lock()
	_, present := c.roster[peerID]
	c.mu.Unlock()
	if !present {
		c.log.Debug().Str("peer_id", peerID).Msg("peer left during connect")
		c.peers.Remove(peerID)
	}
}

func (c *Controller) handleUserJoined(ctx context.Context, m proto.UserJoined) {
	c.mu.Lock()
	c.roster[m.User.ID] = m.User
	owner := c.role == policy.RoleOwner
	c.mu.Unlock()

	c.emit(Event{Kind: EventParticipantJoined, UserID: m.User.ID, Name: m.User.Name, Role: policy.Role(m.User.Role)})

	if !owner {
		return
	}
	if raw, ok := c.chat.Key(); ok {
		err := c.relay.Send(ctx, proto.EncryptionKey{
			Type:         proto.TypeEncryptionKey,
			KeyData:      raw,
			TargetUserID: m.User.ID,
		})
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", m.User.ID).Msg("send chat key to late joiner")
		}
	}
}

func (c *Controller) handleUserLeft(m proto.UserLeft) {
	c.mu.Lock()
	u, ok := c.roster[m.UserID]
	delete(c.roster, m.UserID)
	c.mu.Unlock()

	c.peers.Remove(m.UserID)
	if ok {
		c.emit(Event{Kind: EventParticipantLeft, UserID: m.UserID, Name: u.Name})
	}
}

func (c *Controller) handleRoleChanged(m proto.RoleChanged) {
	role := policy.Role(m.Role)

	c.mu.Lock()
	if u, ok := c.roster[m.UserID]; ok {
		u.Role = m.Role
		c.roster[m.UserID] = u
	}
	if m.UserID == c.selfID {
		c.role = role
	}
	name := c.roster[m.UserID].Name
	c.mu.Unlock()

	c.emit(Event{Kind: EventRoleChanged, UserID: m.UserID, Name: name, Role: role})
}

// applyAction executes a privileged action aimed at us. Missing devices are
// not an error: there is nothing to disable.
func (c *Controller) applyAction(action policy.Command, fromUserID string) {
	log := c.log.With().Str("action", string(action)).Str("from", fromUserID).Logger()

	switch action {
	case policy.CommandMuteUser:
		if err := c.media.SetAudioEnabled(false); err != nil {
			log.Debug().Err(err).Msg("nothing to mute")
			return
		}
		c.emit(Event{Kind: EventNotice, UserID: fromUserID, Text: "an administrator muted your microphone"})
	case policy.CommandDisableCamera:
		if err := c.media.SetVideoEnabled(false); err != nil {
			log.Debug().Err(err).Msg("nothing to disable")
			return
		}
		c.emit(Event{Kind: EventNotice, UserID: fromUserID, Text: "an administrator turned off your camera"})
	case policy.CommandStopScreenShare:
		if !c.media.Sharing() {
			return
		}
		sharing, err := c.ToggleScreenShare()
		if err != nil {
			log.Warn().Err(err).Msg("stop screen share")
		}
		if sharing {
			return
		}
		c.emit(Event{Kind: EventNotice, UserID: fromUserID, Text: "an administrator stopped your screen share"})
	case policy.CommandKickUser:
		log.Info().Msg("removed from the room")
		c.emit(Event{Kind: EventKicked, UserID: fromUserID})
		c.Close()
	default:
		log.Debug().Msg("ignoring admin action")
	}
}

func (c *Controller) onControlMessage(peerID string, data []byte) {
	msg, err := proto.DecodeControl(data)
	if err != nil {
		c.log.Warn().Err(err).Str("peer_id", peerID).Msg("dropping malformed control message")
		return
	}

	switch m := msg.(type) {
	case proto.ChatMessage:
		c.emit(Event{
			Kind:   EventChat,
			UserID: peerID,
			Name:   c.chat.Open(m.Sender),
			Text:   c.chat.Open(m.Message),
			Time:   time.UnixMilli(m.Timestamp),
			Direct: true,
		})
	case proto.ControlCommand:
		// The channel identifies the sender; FromUserID is informational.
		c.mu.Lock()
		sender, known := c.roster[peerID]
		self := c.role
		c.mu.Unlock()

		action := policy.Command(m.Action)
		if !known || action.ChangesRole() || policy.Check(action, policy.Role(sender.Role), self) != nil {
			c.log.Warn().Str("peer_id", peerID).Str("action", m.Action).Msg("ignoring unauthorized control command")
			return
		}
		c.applyAction(action, peerID)
	}
}

func (c *Controller) onRemoteTrack(peerID string, track *webrtc.TrackRemote) {
	c.emit(Event{Kind: EventRemoteTrack, UserID: peerID, Text: track.Kind().String()})
}

func (c *Controller) onPeerState(peerID string, state peer.State) {
	c.emit(Event{Kind: EventPeerState, UserID: peerID, Text: state.String()})
}

// SendChat broadcasts text to the room through the relay, sealed when a room
// key is held.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	msg, err := c.sealChat(text)
	if err != nil {
		return err
	}
	return c.relay.Send(ctx, msg)
}

// SendDirect sends text to one participant over the control channel and falls
// back to a relay broadcast when the channel is not open. It reports whether
// the direct path was used.
func (c *Controller) SendDirect(ctx context.Context, peerID, text string) (bool, error) {
	msg, err := c.sealChat(text)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("encode chat: %w", err)
	}
	err = c.peers.SendControl(peerID, data)
	if err == nil {
		return true, nil
	}
	c.log.Debug().Err(err).Str("peer_id", peerID).Msg("direct chat unavailable, using relay")
	return false, c.relay.Send(ctx, msg)
}

func (c *Controller) sealChat(text string) (proto.ChatMessage, error) {
	body, err := c.chat.Seal(text)
	if err != nil {
		return proto.ChatMessage{}, fmt.Errorf("seal chat: %w", err)
	}
	sender, err := c.chat.Seal(c.userName)
	if err != nil {
		return proto.ChatMessage{}, fmt.Errorf("seal sender: %w", err)
	}

	c.mu.Lock()
	selfID := c.selfID
	c.mu.Unlock()

	return proto.ChatMessage{
		Type:      proto.TypeChatMessage,
		Message:   body,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
		UserID:    selfID,
	}, nil
}

// Command issues a privileged command against targetID. It is refused locally
// when our role does not allow it; the relay checks again either way.
func (c *Controller) Command(ctx context.Context, cmd policy.Command, targetID string) error {
	c.mu.Lock()
	target, ok := c.roster[targetID]
	actor := c.role
	selfID := c.selfID
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s %s: %w", cmd, targetID, ErrUnknownParticipant)
	}
	if err := policy.Check(cmd, actor, policy.Role(target.Role)); err != nil {
		if errors.Is(err, policy.ErrUnauthorized) {
			return fmt.Errorf("%s: %w", cmd, ErrNotPermitted)
		}
		return err
	}

	err := c.relay.Send(ctx, proto.AdminCommand{
		Type:         proto.TypeAdminCommand,
		Command:      string(cmd),
		TargetUserID: targetID,
		FromUserID:   selfID,
	})
	if err == nil {
		return nil
	}

	// Media commands can still reach the target over the peer link.
	switch cmd {
	case policy.CommandMuteUser, policy.CommandDisableCamera, policy.CommandStopScreenShare:
		data, merr := json.Marshal(proto.ControlCommand{
			Type:       proto.TypeAdminCommand,
			Action:     string(cmd),
			FromUserID: selfID,
		})
		if merr != nil {
			return err
		}
		if cerr := c.peers.SendControl(targetID, data); cerr != nil {
			c.log.Debug().Err(cerr).Str("peer_id", targetID).Msg("command not sent over peer link")
			return err
		}
		c.log.Warn().Err(err).Str("peer_id", targetID).Msg("relay unavailable, command sent over peer link")
		return nil
	}
	return err
}

// ToggleMicrophone flips the local microphone and returns whether it is live.
func (c *Controller) ToggleMicrophone() (bool, error) {
	return c.media.ToggleAudio()
}

// ToggleCamera flips the local video and returns whether it is live.
func (c *Controller) ToggleCamera() (bool, error) {
	return c.media.ToggleVideo()
}

// ToggleScreenShare starts or stops sharing and pushes the resulting video
// track into every link in place. It returns whether sharing is now on.
func (c *Controller) ToggleScreenShare() (bool, error) {
	if c.media.Sharing() {
		track, err := c.media.StopScreenShare()
		if err != nil {
			return true, err
		}
		return false, c.peers.ReplaceTrack(webrtc.RTPCodecTypeVideo, track)
	}

	track, err := c.media.StartScreenShare()
	if err != nil {
		return false, err
	}
	if err := c.peers.ReplaceTrack(webrtc.RTPCodecTypeVideo, track); err != nil {
		return true, fmt.Errorf("screen share not sent to every peer: %w", err)
	}
	return true, nil
}

// SelfID returns our participant id.
func (c *Controller) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Role returns our current role.
func (c *Controller) Role() policy.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Joined reports whether the relay accepted our join.
func (c *Controller) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Roster returns the participants ordered by id.
func (c *Controller) Roster() []proto.User {
	c.mu.Lock()
	users := make([]proto.User, 0, len(c.roster))
	for _, u := range c.roster {
		users = append(users, u)
	}
	c.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// Close releases every link, the local media and the relay connection. It
// does not wait for the relay to acknowledge anything.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.peers.CloseAll()
		c.media.Close()
		if err := c.relay.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close relay")
		}
		close(c.done)
	})
}

func (c *Controller) emit(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Str("event", ev.Kind.String()).Msg("event dropped, consumer too slow")
	}
}
