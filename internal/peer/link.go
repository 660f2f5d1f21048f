package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// link is the negotiated session with one remote participant. Pion calls are
// never made while holding mu.
type link struct {
	peerID    string
	initiator bool
	pc        *webrtc.PeerConnection
	m         *Manager
	log       zerolog.Logger

	// negotiate serializes offer/answer steps of this link only.
	negotiate sync.Mutex

	mu            sync.Mutex
	state         State
	dc            *webrtc.DataChannel
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
	localSent     bool
	pendingLocal  []webrtc.ICECandidateInit

	closeOnce sync.Once
}

func (m *Manager) newLink(peerID string, initiator bool) (*link, error) {
	pc, err := m.api.NewPeerConnection(m.rtc)
	if err != nil {
		return nil, &NegotiationError{PeerID: peerID, Op: "new peer connection", Err: err}
	}

	l := &link{
		peerID:    peerID,
		initiator: initiator,
		pc:        pc,
		m:         m,
		log:       m.log.With().Str("peer_id", peerID).Logger(),
		state:     StateNegotiating,
	}

	if err := l.attachTracks(); err != nil {
		_ = pc.Close()
		return nil, &NegotiationError{PeerID: peerID, Op: "attach tracks", Err: err}
	}

	pc.OnICECandidate(l.onLocalCandidate)
	pc.OnConnectionStateChange(l.onConnectionState)
	pc.OnTrack(l.onTrack)

	if initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(ControlChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			_ = pc.Close()
			return nil, &NegotiationError{PeerID: peerID, Op: "create control channel", Err: err}
		}
		l.setChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != ControlChannelLabel {
				l.log.Debug().Str("label", dc.Label()).Msg("unexpected data channel ignored")
				return
			}
			l.setChannel(dc)
		})
	}

	return l, nil
}

// attachTracks adds the current outbound tracks. A kind without a track still
// gets a receive-only transceiver so remote media of that kind is accepted.
func (l *link) attachTracks() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		var track webrtc.TrackLocal
		if l.m.tracks != nil {
			track = l.m.tracks.Track(kind)
		}
		if track == nil {
			if _, err := l.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return err
			}
			continue
		}

		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (l *link) setChannel(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if h := l.m.handlers.OnControlMessage; h != nil {
			h(l.peerID, msg.Data)
		}
	})
	dc.OnOpen(func() {
		l.log.Debug().Msg("control channel open")
	})

	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()
}

func (l *link) offer(ctx context.Context) error {
	l.negotiate.Lock()
	defer l.negotiate.Unlock()

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.m.sendSignal(l.peerID, Signal{Type: SignalOffer, Offer: &offer}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	l.flushLocal()
	return nil
}

func (l *link) answer(ctx context.Context, offer webrtc.SessionDescription) error {
	l.negotiate.Lock()
	defer l.negotiate.Unlock()

	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	l.flushRemote()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.m.sendSignal(l.peerID, Signal{Type: SignalAnswer, Answer: &answer}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	l.flushLocal()
	return nil
}

func (l *link) applyAnswer(answer webrtc.SessionDescription) error {
	l.negotiate.Lock()
	defer l.negotiate.Unlock()

	if l.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		l.log.Debug().Str("signaling_state", l.pc.SignalingState().String()).Msg("unexpected answer dropped")
		return nil
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.flushRemote()
	return nil
}

// addCandidate applies c, or holds it until the remote description is set.
func (l *link) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pendingRemote = append(l.pendingRemote, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(c)
}

func (l *link) flushRemote() {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pendingRemote
	l.pendingRemote = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.log.Warn().Err(err).Msg("add buffered candidate")
		}
	}
}

// onLocalCandidate forwards local candidates once our description went out.
func (l *link) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	cand := c.ToJSON()

	l.mu.Lock()
	if !l.localSent {
		l.pendingLocal = append(l.pendingLocal, cand)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.sendCandidate(cand)
}

func (l *link) flushLocal() {
	l.mu.Lock()
	l.localSent = true
	pending := l.pendingLocal
	l.pendingLocal = nil
	l.mu.Unlock()

	for _, c := range pending {
		l.sendCandidate(c)
	}
}

func (l *link) sendCandidate(c webrtc.ICECandidateInit) {
	if err := l.m.sendSignal(l.peerID, Signal{Type: SignalICECandidate, Candidate: &c}); err != nil {
		l.log.Warn().Err(err).Msg("send candidate")
	}
}

func (l *link) onConnectionState(s webrtc.PeerConnectionState) {
	l.log.Debug().Str("connection_state", s.String()).Msg("peer connection state")

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if l.transition(StateEstablished) {
			l.m.notifyState(l.peerID, StateEstablished)
		}
	case webrtc.PeerConnectionStateFailed:
		l.log.Error().Msg("peer link failed")
		go l.m.drop(l)
	}
}

// transition moves to next unless the link is already closed.
func (l *link) transition(next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed || l.state == next {
		return false
	}
	l.state = next
	return true
}

func (l *link) currentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	l.log.Info().Str("kind", track.Kind().String()).Msg("remote track")
	if h := l.m.handlers.OnRemoteTrack; h != nil {
		h(l.peerID, track)
	}

	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (l *link) replaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	for _, t := range l.pc.GetTransceivers() {
		if t.Kind() != kind || t.Sender() == nil {
			continue
		}
		return t.Sender().ReplaceTrack(track)
	}
	return fmt.Errorf("%s: %w", kind, ErrNoSender)
}

func (l *link) sendControl(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("send control to %s: %w", l.peerID, ErrChannelNotOpen)
	}
	return dc.SendText(string(data))
}

func (l *link) close() {
	if l.shutdown() {
		l.m.notifyState(l.peerID, StateClosed)
	}
}

// discard closes a link that never became visible to the handlers.
func (l *link) discard() {
	l.shutdown()
}

func (l *link) shutdown() bool {
	done := false
	l.closeOnce.Do(func() {
		done = true
		l.mu.Lock()
		l.state = StateClosed
		dc := l.dc
		l.mu.Unlock()

		if dc != nil {
			_ = dc.Close()
		}
		if err := l.pc.Close(); err != nil {
			l.log.Debug().Err(err).Msg("close peer connection")
		}
	})
	return done
}
