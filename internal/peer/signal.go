package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Signal payload types, as carried inside webrtc-signal envelopes.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// Signal is one negotiation step. The relay never inspects it.
type Signal struct {
	Type      string                     `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// ParseSignal decodes and validates a signal payload.
func ParseSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decode signal: %w", err)
	}
	switch {
	case s.Type == SignalOffer && s.Offer != nil:
	case s.Type == SignalAnswer && s.Answer != nil:
	case s.Type == SignalICECandidate && s.Candidate != nil:
	default:
		return s, fmt.Errorf("decode signal: incomplete %q payload", s.Type)
	}
	return s, nil
}

func encodeSignal(s Signal) (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode signal: %w", err)
	}
	return data, nil
}
