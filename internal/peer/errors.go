package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrNegotiation is the root of every per-link failure.
	ErrNegotiation = errors.New("peer negotiation failed")
	// ErrTransportUnavailable means the real-time transport cannot be used at all.
	ErrTransportUnavailable = errors.New("real-time transport unavailable")
	// ErrChannelNotOpen is returned when a control channel is absent or not open yet.
	ErrChannelNotOpen = errors.New("control channel not open")
	// ErrNoSender means a link never negotiated an outbound track of a kind,
	// so there is nothing to replace.
	ErrNoSender = errors.New("no sender for track kind")
	// ErrUnknownPeer is returned for operations on a peer without a link.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrClosed is returned after CloseAll.
	ErrClosed = errors.New("peer manager closed")
)

// NegotiationError describes a failed step of one link. The link is abandoned;
// other links are unaffected.
type NegotiationError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// Is makes every NegotiationError match ErrNegotiation.
func (e *NegotiationError) Is(target error) bool {
	return target == ErrNegotiation
}
