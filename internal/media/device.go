package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrDeviceUnavailable reports a capture device that is absent or denied.
var ErrDeviceUnavailable = errors.New("media device unavailable")

// Device is an open capture source backing one outbound track.
type Device interface {
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// Devices opens capture sources.
type Devices interface {
	Microphone() (Device, error)
	Camera() (Device, error)
	Screen() (Device, error)
}

// SampleDevice feeds a static sample track with a fixed payload at a fixed
// cadence. It stands in for real capture in headless participants.
type SampleDevice struct {
	track    *webrtc.TrackLocalStaticSample
	payload  []byte
	interval time.Duration
	enabled  atomic.Bool

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewSampleDevice creates and starts a device of the given kind.
func NewSampleDevice(kind webrtc.RTPCodecType, id string) (*SampleDevice, error) {
	var (
		capability webrtc.RTPCodecCapability
		interval   time.Duration
		size       int
	)
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		interval, size = 20*time.Millisecond, 3
	case webrtc.RTPCodecTypeVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		interval, size = 33*time.Millisecond, 64
	default:
		return nil, fmt.Errorf("sample device: unsupported kind %s", kind)
	}

	track, err := webrtc.NewTrackLocalStaticSample(capability, id, "wiremesh")
	if err != nil {
		return nil, fmt.Errorf("sample device: %w", err)
	}

	d := &SampleDevice{
		track:    track,
		payload:  make([]byte, size),
		interval: interval,
		stop:     make(chan struct{}),
	}
	d.enabled.Store(true)
	d.wg.Add(1)
	go d.pump()
	return d, nil
}

func (d *SampleDevice) pump() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if !d.enabled.Load() {
				continue
			}
			// Errors only mean no peer is bound yet.
			_ = d.track.WriteSample(pionmedia.Sample{Data: d.payload, Duration: d.interval})
		}
	}
}

// Track returns the outbound track.
func (d *SampleDevice) Track() webrtc.TrackLocal { return d.track }

// SetEnabled pauses or resumes sample output without touching the track.
func (d *SampleDevice) SetEnabled(enabled bool) { d.enabled.Store(enabled) }

// Enabled reports whether samples are being written.
func (d *SampleDevice) Enabled() bool { return d.enabled.Load() }

// Close stops the pump.
func (d *SampleDevice) Close() error {
	d.once.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
	return nil
}

// SyntheticDevices opens SampleDevices for the kinds that are switched on.
type SyntheticDevices struct {
	Audio       bool
	Video       bool
	ScreenShare bool
}

var deviceSeq atomic.Int64

func (s SyntheticDevices) open(available bool, kind webrtc.RTPCodecType, name string) (Device, error) {
	if !available {
		return nil, fmt.Errorf("%s: %w", name, ErrDeviceUnavailable)
	}
	return NewSampleDevice(kind, fmt.Sprintf("%s-%d", name, deviceSeq.Add(1)))
}

// Microphone implements Devices.
func (s SyntheticDevices) Microphone() (Device, error) {
	return s.open(s.Audio, webrtc.RTPCodecTypeAudio, "microphone")
}

// Camera implements Devices.
func (s SyntheticDevices) Camera() (Device, error) {
	return s.open(s.Video, webrtc.RTPCodecTypeVideo, "camera")
}

// Screen implements Devices.
func (s SyntheticDevices) Screen() (Device, error) {
	return s.open(s.ScreenShare, webrtc.RTPCodecTypeVideo, "screen")
}
