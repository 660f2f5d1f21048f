package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Mode describes which capture sources a stream obtained.
type Mode int

const (
	ModeFull Mode = iota
	ModeAudioOnly
	ModeVideoOnly
	ModeViewOnly
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeAudioOnly:
		return "audio-only"
	case ModeVideoOnly:
		return "video-only"
	default:
		return "view-only"
	}
}

// LocalStream is the participant's outbound media. It is shared by every peer
// link; only the session mutates it.
type LocalStream struct {
	devices Devices
	log     *zerolog.Logger

	mu      sync.Mutex
	audio   Device
	video   Device
	sharing bool
	closed  bool
}

// Open acquires microphone and camera. Missing devices degrade the stream
// instead of failing it.
func Open(devices Devices, logger *zerolog.Logger) (*LocalStream, Mode) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &LocalStream{devices: devices, log: logger}

	if mic, err := devices.Microphone(); err == nil {
		s.audio = mic
	} else {
		logger.Warn().Err(err).Msg("microphone unavailable")
	}
	if cam, err := devices.Camera(); err == nil {
		s.video = cam
	} else {
		logger.Warn().Err(err).Msg("camera unavailable")
	}
	return s, s.mode()
}

func (s *LocalStream) mode() Mode {
	switch {
	case s.audio != nil && s.video != nil:
		return ModeFull
	case s.audio != nil:
		return ModeAudioOnly
	case s.video != nil:
		return ModeVideoOnly
	default:
		return ModeViewOnly
	}
}

// Mode reports the current capture mode.
func (s *LocalStream) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode()
}

// Track returns the current outbound track of kind, or nil.
func (s *LocalStream) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Device
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		d = s.audio
	case webrtc.RTPCodecTypeVideo:
		d = s.video
	}
	if d == nil {
		return nil
	}
	return d.Track()
}

// SetAudioEnabled mutes or unmutes the microphone.
func (s *LocalStream) SetAudioEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		return fmt.Errorf("microphone: %w", ErrDeviceUnavailable)
	}
	s.audio.SetEnabled(enabled)
	return nil
}

// SetVideoEnabled turns the camera (or shared screen) on or off.
func (s *LocalStream) SetVideoEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return fmt.Errorf("camera: %w", ErrDeviceUnavailable)
	}
	s.video.SetEnabled(enabled)
	return nil
}

// ToggleAudio flips the microphone and returns the new state.
func (s *LocalStream) ToggleAudio() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		return false, fmt.Errorf("microphone: %w", ErrDeviceUnavailable)
	}
	enabled := !s.audio.Enabled()
	s.audio.SetEnabled(enabled)
	return enabled, nil
}

// ToggleVideo flips the camera and returns the new state.
func (s *LocalStream) ToggleVideo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return false, fmt.Errorf("camera: %w", ErrDeviceUnavailable)
	}
	enabled := !s.video.Enabled()
	s.video.SetEnabled(enabled)
	return enabled, nil
}

// AudioEnabled reports whether the microphone is live.
func (s *LocalStream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio != nil && s.audio.Enabled()
}

// VideoEnabled reports whether video is live.
func (s *LocalStream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil && s.video.Enabled()
}

// Sharing reports whether the video track is a screen capture.
func (s *LocalStream) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// StartScreenShare swaps the camera for a screen capture and returns the new
// video track, which the caller pushes into every peer link.
func (s *LocalStream) StartScreenShare() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("stream closed")
	}
	if s.sharing {
		return s.video.Track(), nil
	}

	screen, err := s.devices.Screen()
	if err != nil {
		return nil, err
	}
	if s.video != nil {
		_ = s.video.Close()
	}
	s.video = screen
	s.sharing = true
	return screen.Track(), nil
}

// StopScreenShare restores the camera. The returned track is nil when the
// camera cannot be reacquired.
func (s *LocalStream) StopScreenShare() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sharing {
		if s.video == nil {
			return nil, nil
		}
		return s.video.Track(), nil
	}

	_ = s.video.Close()
	s.video = nil
	s.sharing = false

	cam, err := s.devices.Camera()
	if err != nil {
		s.log.Warn().Err(err).Msg("camera unavailable after screen share")
		return nil, nil
	}
	s.video = cam
	return cam.Track(), nil
}

// Close stops every capture device. Safe to call more than once.
func (s *LocalStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, d := range []Device{s.audio, s.video} {
		if d != nil {
			_ = d.Close()
		}
	}
}
