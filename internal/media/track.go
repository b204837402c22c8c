// Package media owns the local capture devices of one call: the camera and
// microphone stream, an optional screen-share stream, and their teardown.
package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is one capture source. Stop is idempotent; Ended is closed once the
// track stops, whether stopped locally or ended by its source.
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	Enabled() bool
	SetEnabled(on bool)
	Stop()
	Ended() <-chan struct{}
}

// Stream groups the tracks returned by one acquisition.
type Stream struct {
	ID     string
	Tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{ID: uuid.NewString(), Tracks: tracks}
}

func (s *Stream) AudioTracks() []Track { return s.tracksOf(KindAudio) }
func (s *Stream) VideoTracks() []Track { return s.tracksOf(KindVideo) }

func (s *Stream) tracksOf(kind TrackKind) []Track {
	var out []Track
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks {
		t.Stop()
	}
}

// Constraints describe the requested capture.
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

// DefaultConstraints asks for 720p video and audio.
func DefaultConstraints() Constraints {
	return Constraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30}
}

// Provider is the platform's device API. Both calls may block on a permission prompt.
type Provider interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// LocalTrack is an in-process Track used by the synthetic provider and tests.
type LocalTrack struct {
	id    string
	kind  TrackKind
	label string

	mu      sync.Mutex
	enabled bool
	once    sync.Once
	ended   chan struct{}
}

func NewLocalTrack(kind TrackKind, label string) *LocalTrack {
	return &LocalTrack{
		id:      uuid.NewString(),
		kind:    kind,
		label:   label,
		enabled: true,
		ended:   make(chan struct{}),
	}
}

func (t *LocalTrack) ID() string      { return t.id }
func (t *LocalTrack) Kind() TrackKind { return t.kind }
func (t *LocalTrack) Label() string   { return t.label }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) SetEnabled(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = on
}

func (t *LocalTrack) Stop() {
	t.once.Do(func() { close(t.ended) })
}

// End simulates the source ending the track, e.g. the OS "stop sharing" button.
func (t *LocalTrack) End() { t.Stop() }

func (t *LocalTrack) Ended() <-chan struct{} { return t.ended }

// Stopped reports whether the track has ended.
func (t *LocalTrack) Stopped() bool {
	select {
	case <-t.ended:
		return true
	default:
		return false
	}
}
