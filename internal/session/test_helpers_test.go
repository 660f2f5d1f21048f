package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/wiremesh/internal/chat"
	"github.com/vovakirdan/wiremesh/internal/media"
	"github.com/vovakirdan/wiremesh/internal/peer"
	"github.com/vovakirdan/wiremesh/internal/proto"
)

type fakeRelay struct {
	in   chan proto.ServerMessage
	sent chan proto.ClientMessage

	mu      sync.Mutex
	closed  bool
	sendErr error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		in:   make(chan proto.ServerMessage, 16),
		sent: make(chan proto.ClientMessage, 64),
	}
}

func (r *fakeRelay) Send(ctx context.Context, msg proto.ClientMessage) error {
	r.mu.Lock()
	err := r.sendErr
	r.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case r.sent <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeRelay) failSends(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
}

func (r *fakeRelay) Incoming() <-chan proto.ServerMessage { return r.in }

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRelay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type replaced struct {
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal
}

type fakePeers struct {
	mu         sync.Mutex
	connected  []string
	removed    []string
	signals    map[string][]json.RawMessage
	replaced   []replaced
	controls   map[string][][]byte
	controlErr error
	replaceErr error
	closed     bool
}

func newFakePeers() *fakePeers {
	return &fakePeers{
		signals:  make(map[string][]json.RawMessage),
		controls: make(map[string][][]byte),
	}
}

func (p *fakePeers) Connect(_ context.Context, peerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = append(p.connected, peerID)
	return nil
}

func (p *fakePeers) HandleSignal(_ context.Context, peerID string, raw json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals[peerID] = append(p.signals[peerID], raw)
	return nil
}

func (p *fakePeers) Remove(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, peerID)
}

func (p *fakePeers) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeers) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaced = append(p.replaced, replaced{kind, track})
	return p.replaceErr
}

func (p *fakePeers) SendControl(peerID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.controlErr != nil {
		return p.controlErr
	}
	p.controls[peerID] = append(p.controls[peerID], data)
	return nil
}

func (p *fakePeers) Broadcast(data []byte) int { return 0 }

func (p *fakePeers) controlsFor(peerID string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.controls[peerID]...)
}

func (p *fakePeers) connectedPeers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.connected...)
}

type harness struct {
	ctl    *Controller
	relay  *fakeRelay
	peers  *fakePeers
	stream *media.LocalStream
	cancel context.CancelFunc
	runErr chan error
}

// startController runs a controller for user id with every synthetic device
// available.
func startController(t *testing.T, id string) *harness {
	t.Helper()

	relay := newFakeRelay()
	peers := newFakePeers()
	stream, _ := media.Open(media.SyntheticDevices{Audio: true, Video: true, ScreenShare: true}, nil)

	ctl, err := New(Config{
		RoomID:   "room",
		UserID:   id,
		UserName: id + "-name",
		Relay:    relay,
		Media:    stream,
		Chat:     chat.NewChannel(chat.SuiteAESGCM, nil),
		PeerFactory: func(peer.Config) (Peers, error) {
			return peers, nil
		},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctl: ctl, relay: relay, peers: peers, stream: stream, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- ctl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		ctl.Close()
	})
	return h
}

func (h *harness) deliver(msg proto.ServerMessage) {
	h.relay.in <- msg
}

// joinAs feeds a join-success for self with the given roster.
func (h *harness) joinAs(t *testing.T, self, role string, users ...proto.User) {
	t.Helper()
	h.deliver(proto.JoinSuccess{Type: proto.TypeJoinSuccess, RoomID: "room", YourID: self, YourRole: role, Users: users})
	mustEvent(t, h.ctl, EventJoined)
}

func mustEvent(t *testing.T, ctl *Controller, kind EventKind) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ctl.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected event %s not received", kind)
			return Event{}
		}
	}
}

func waitPeerState(t *testing.T, ctl *Controller, peerID string, want peer.State) {
	t.Helper()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ctl.Events():
			if ev.Kind == EventPeerState && ev.UserID == peerID && ev.Text == want.String() {
				return
			}
		case <-timeout:
			t.Fatalf("peer %s never reached %s", peerID, want)
		}
	}
}

func mustSent[T proto.ClientMessage](t *testing.T, r *fakeRelay) T {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-r.sent:
			if v, ok := msg.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("expected %T to be sent", zero)
			return zero
		}
	}
}

func noneSent[T proto.ClientMessage](t *testing.T, r *fakeRelay, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case msg := <-r.sent:
			if _, ok := msg.(T); ok {
				t.Fatalf("unexpected %T sent: %+v", msg, msg)
			}
		case <-timer.C:
			return
		}
	}
}

func user(id, role string) proto.User {
	return proto.User{ID: id, Name: id + "-name", Role: role}
}
