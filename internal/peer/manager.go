// Package peer negotiates one direct link per remote participant.
//
// A Manager is an arena of links keyed by participant ID. The side that joins
// a room initiates towards everyone already present; the other side responds
// to the offer. Signals travel through the relay via a Signaler and are never
// interpreted by it. A failure on one link abandons that link only.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// ControlChannelLabel names the ordered data channel opened by the initiator.
const ControlChannelLabel = "chat"

// State of a link. A peer without a link is absent.
type State int

const (
	StateNegotiating State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	default:
		return "closed"
	}
}

// Signaler forwards a signal payload to one remote participant.
type Signaler interface {
	Signal(ctx context.Context, peerID string, payload json.RawMessage) error
}

// TrackSource exposes the current outbound track per kind, nil when absent.
type TrackSource interface {
	Track(kind webrtc.RTPCodecType) webrtc.TrackLocal
}

// Handlers receive link events. Every field is optional. Remote tracks are
// drained by the manager; handlers must not read from them.
type Handlers struct {
	OnRemoteTrack    func(peerID string, track *webrtc.TrackRemote)
	OnControlMessage func(peerID string, data []byte)
	OnStateChange    func(peerID string, state State)
}

// Config configures a Manager.
type Config struct {
	// API builds peer connections. Nil selects a default engine with the
	// default codecs registered.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Signaler   Signaler
	Tracks     TrackSource
	Handlers   Handlers
	Logger     *zerolog.Logger
}

// Manager owns every link of the local participant.
type Manager struct {
	api      *webrtc.API
	rtc      webrtc.Configuration
	signaler Signaler
	tracks   TrackSource
	handlers Handlers
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[string]*link
	closed bool
}

// NewManager validates cfg and prepares the transport engine.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Signaler == nil {
		return nil, errors.New("peer: signaler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	api := cfg.API
	if api == nil {
		var err error
		if api, err = NewAPI(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		api:      api,
		rtc:      webrtc.Configuration{ICEServers: cfg.ICEServers},
		signaler: cfg.Signaler,
		tracks:   cfg.Tracks,
		handlers: cfg.Handlers,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		links:    make(map[string]*link),
	}, nil
}

// NewAPI builds a transport engine with the default codecs. Failure means the
// process cannot do real-time media at all.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)), nil
}

// Connect creates a link towards peerID as initiator and sends the offer.
// Connecting to a peer that already has a link is a no-op.
func (m *Manager) Connect(ctx context.Context, peerID string) error {
	if m.lookup(peerID) != nil {
		return nil
	}

	l, err := m.newLink(peerID, true)
	if err != nil {
		return err
	}
	if current, err := m.insert(l); err != nil || current != l {
		l.discard()
		return err
	}
	m.notifyState(peerID, StateNegotiating)

	if err := l.offer(ctx); err != nil {
		return m.abandon(l, "offer", err)
	}
	return nil
}

// HandleSignal applies a signal payload received from peerID. Malformed
// payloads return an error; candidates for unknown peers are dropped.
func (m *Manager) HandleSignal(ctx context.Context, peerID string, raw json.RawMessage) error {
	sig, err := ParseSignal(raw)
	if err != nil {
		return err
	}
	log := m.log.With().Str("peer_id", peerID).Str("type", sig.Type).Logger()

	switch sig.Type {
	case SignalOffer:
		l := m.lookup(peerID)
		if l == nil {
			if l, err = m.newLink(peerID, false); err != nil {
				return err
			}
			current, err := m.insert(l)
			if err != nil {
				l.discard()
				return err
			}
			if current != l {
				l.discard()
				l = current
			} else {
				m.notifyState(peerID, StateNegotiating)
			}
		}
		if l.initiator && l.pc.SignalingState() != webrtc.SignalingStateStable {
			log.Warn().Msg("offer collided with local offer, dropped")
			return nil
		}
		if err := l.answer(ctx, *sig.Offer); err != nil {
			return m.abandon(l, "answer", err)
		}

	case SignalAnswer:
		l := m.lookup(peerID)
		if l == nil {
			log.Debug().Msg("answer for unknown peer dropped")
			return nil
		}
		if err := l.applyAnswer(*sig.Answer); err != nil {
			return m.abandon(l, "apply answer", err)
		}

	case SignalICECandidate:
		l := m.lookup(peerID)
		if l == nil {
			log.Debug().Msg("candidate for unknown peer dropped")
			return nil
		}
		if err := l.addCandidate(*sig.Candidate); err != nil {
			// A single bad candidate does not doom the link.
			log.Warn().Err(err).Msg("add candidate")
		}
	}
	return nil
}

// Remove tears down the link to peerID. Removing an absent peer is a no-op.
func (m *Manager) Remove(peerID string) {
	m.mu.Lock()
	l, ok := m.links[peerID]
	delete(m.links, peerID)
	m.mu.Unlock()

	if ok {
		l.close()
	}
}

// CloseAll tears down every link. The manager refuses new links afterwards.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := m.links
	m.links = make(map[string]*link)
	m.mu.Unlock()

	m.cancel()
	for _, l := range links {
		l.close()
	}
}

// ReplaceTrack swaps the outbound track of kind in every link without
// renegotiating. Links that cannot take the track keep their session; each
// one is reported in the joined error, with ErrNoSender when the link never
// negotiated a sender for kind.
func (m *Manager) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	var errs []error
	for _, l := range m.snapshot() {
		if err := l.replaceTrack(kind, track); err != nil {
			errs = append(errs, fmt.Errorf("replace track for %s: %w", l.peerID, err))
		}
	}
	return errors.Join(errs...)
}

// SendControl writes data to the control channel of peerID.
func (m *Manager) SendControl(peerID string, data []byte) error {
	l := m.lookup(peerID)
	if l == nil {
		return fmt.Errorf("send control to %s: %w", peerID, ErrUnknownPeer)
	}
	return l.sendControl(data)
}

// Broadcast writes data to every open control channel and reports how many
// peers it reached.
func (m *Manager) Broadcast(data []byte) int {
	sent := 0
	for _, l := range m.snapshot() {
		if err := l.sendControl(data); err == nil {
			sent++
		}
	}
	return sent
}

// State reports the link state of peerID. ok is false when the peer is absent.
func (m *Manager) State(peerID string) (state State, ok bool) {
	l := m.lookup(peerID)
	if l == nil {
		return 0, false
	}
	return l.currentState(), true
}

// Peers lists the participants that currently have a link.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) lookup(peerID string) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[peerID]
}

// insert stores l unless a link for the same peer won the race, in which case
// the existing link is returned.
func (m *Manager) insert(l *link) (*link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if existing, ok := m.links[l.peerID]; ok {
		return existing, nil
	}
	m.links[l.peerID] = l
	return l, nil
}

func (m *Manager) snapshot() []*link {
	m.mu.Lock()
	defer m.mu.Unlock()

	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	return links
}

// abandon discards l after a failed step and returns the wrapped failure.
func (m *Manager) abandon(l *link, op string, err error) error {
	nerr := &NegotiationError{PeerID: l.peerID, Op: op, Err: err}
	m.log.Error().Err(err).Str("peer_id", l.peerID).Str("op", op).Msg("peer link abandoned")
	m.drop(l)
	return nerr
}

// drop removes l only if it is still the registered link for its peer.
func (m *Manager) drop(l *link) {
	m.mu.Lock()
	if m.links[l.peerID] == l {
		delete(m.links, l.peerID)
	}
	m.mu.Unlock()
	l.close()
}

func (m *Manager) notifyState(peerID string, state State) {
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(peerID, state)
	}
}

func (m *Manager) sendSignal(peerID string, sig Signal) error {
	payload, err := encodeSignal(sig)
	if err != nil {
		return err
	}
	return m.signaler.Signal(m.ctx, peerID, payload)
}
