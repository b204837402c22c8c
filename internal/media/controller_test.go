package media

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingTrack struct {
	*LocalTrack
	stops atomic.Int32
}

func (t *countingTrack) Stop() {
	t.stops.Add(1)
	t.LocalTrack.Stop()
}

// countingProvider records how many times each track was stopped.
type countingProvider struct {
	tracks []*countingTrack
}

func (p *countingProvider) UserMedia(context.Context, Constraints) (*Stream, error) {
	a := &countingTrack{LocalTrack: NewLocalTrack(KindAudio, "mic")}
	v := &countingTrack{LocalTrack: NewLocalTrack(KindVideo, "cam")}
	p.tracks = append(p.tracks, a, v)
	return NewStream(a, v), nil
}

func (p *countingProvider) DisplayMedia(context.Context) (*Stream, error) {
	s := &countingTrack{LocalTrack: NewLocalTrack(KindVideo, "screen")}
	p.tracks = append(p.tracks, s)
	return NewStream(s), nil
}

// gatedProvider blocks until release is closed, like a pending permission prompt.
type gatedProvider struct {
	SyntheticProvider
	release chan struct{}
	entered chan struct{}
}

func (p *gatedProvider) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	close(p.entered)
	<-p.release
	return p.SyntheticProvider.UserMedia(context.Background(), c)
}

func TestAcquireLocalStream_EnablesDevices(t *testing.T) {
	p := &SyntheticProvider{}
	c := NewController(p, nil)

	s, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(s.AudioTracks()) != 1 || len(s.VideoTracks()) != 1 {
		t.Fatalf("expected one audio and one video track, got %d tracks", len(s.Tracks))
	}
	if got := c.State(); !got.MicrophoneEnabled || !got.CameraEnabled || got.ScreenShareActive {
		t.Fatalf("unexpected state %+v", got)
	}

	again, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
	if err != nil || again != s {
		t.Fatalf("expected the held stream back, got %v %v", again, err)
	}
	if len(p.Streams()) != 1 {
		t.Fatalf("expected a single acquisition, got %d", len(p.Streams()))
	}
}

func TestAcquireLocalStream_DeviceErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		kind     DeviceErrorKind
		sentinel error
	}{
		{"permission", &DeviceError{Kind: KindPermissionDenied}, KindPermissionDenied, ErrPermissionDenied},
		{"not found", ErrDeviceNotFound, KindNotFound, ErrDeviceNotFound},
		{"busy", ErrHardwareBusy, KindHardwareBusy, ErrHardwareBusy},
		{"other", errors.New("driver crashed"), KindUnknown, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(&SyntheticProvider{UserMediaErr: tc.err}, nil)
			_, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
			var de *DeviceError
			if !errors.As(err, &de) || de.Kind != tc.kind {
				t.Fatalf("expected device error %s, got %v", tc.kind, err)
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected errors.Is(%v)", tc.sentinel)
			}
			if !IsDeviceError(err) {
				t.Fatalf("expected IsDeviceError")
			}
			if got := c.State(); got != (DeviceState{}) {
				t.Fatalf("failed acquisition must leave state empty, got %+v", got)
			}
		})
	}
}

func TestToggles_AreInPlaceAndIdempotent(t *testing.T) {
	c := NewController(&SyntheticProvider{}, nil)
	if err := c.SetMicrophoneEnabled(false); !errors.Is(err, ErrNoLocalStream) {
		t.Fatalf("expected ErrNoLocalStream, got %v", err)
	}

	s, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mic, cam := s.AudioTracks()[0], s.VideoTracks()[0]

	for i := 0; i < 2; i++ {
		if err := c.SetMicrophoneEnabled(false); err != nil {
			t.Fatalf("mute: %v", err)
		}
	}
	if mic.Enabled() || c.State().MicrophoneEnabled {
		t.Fatalf("microphone should be muted")
	}
	if err := c.SetCameraEnabled(false); err != nil {
		t.Fatalf("camera off: %v", err)
	}
	if cam.Enabled() || c.State().CameraEnabled {
		t.Fatalf("camera should be off")
	}
	if err := c.SetCameraEnabled(true); err != nil {
		t.Fatalf("camera on: %v", err)
	}
	if !cam.Enabled() {
		t.Fatalf("camera should be on")
	}
	if c.OutgoingVideo() != cam {
		t.Fatalf("expected camera as outgoing video")
	}
}

func TestScreenShare_PausesAndResumesCamera(t *testing.T) {
	c := NewController(&SyntheticProvider{}, nil)
	s, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cam := s.VideoTracks()[0]

	screen, err := c.StartScreenShare(context.Background())
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if !c.State().ScreenShareActive || cam.Enabled() {
		t.Fatalf("camera should be paused while sharing")
	}
	if c.OutgoingVideo() != screen.VideoTracks()[0] {
		t.Fatalf("expected screen as outgoing video")
	}
	if cam.(*LocalTrack).Stopped() {
		t.Fatalf("camera must be paused, not released")
	}

	// Turning the camera off while sharing applies once sharing stops.
	if err := c.SetCameraEnabled(false); err != nil {
		t.Fatalf("camera off: %v", err)
	}
	c.StopScreenShare()
	c.StopScreenShare()
	if c.State().ScreenShareActive || cam.Enabled() {
		t.Fatalf("camera should stay off after share, state %+v", c.State())
	}
	if !screen.VideoTracks()[0].(*LocalTrack).Stopped() {
		t.Fatalf("screen track should be stopped")
	}
	if c.OutgoingVideo() != cam {
		t.Fatalf("expected camera as outgoing video after share")
	}
}

func TestScreenShare_FallsBackWhenSourceEnds(t *testing.T) {
	c := NewController(&SyntheticProvider{}, nil)
	s, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	screen, err := c.StartScreenShare(context.Background())
	if err != nil {
		t.Fatalf("share: %v", err)
	}

	screen.VideoTracks()[0].(*LocalTrack).End()

	deadline := time.Now().Add(2 * time.Second)
	for c.State().ScreenShareActive {
		if time.Now().After(deadline) {
			t.Fatalf("controller did not fall back to the camera")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !s.VideoTracks()[0].Enabled() {
		t.Fatalf("camera video should resume")
	}
}

func TestScreenShare_DeniedKeepsCamera(t *testing.T) {
	c := NewController(&SyntheticProvider{DisplayMediaErr: ErrPermissionDenied}, nil)
	s, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := c.StartScreenShare(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if c.State().ScreenShareActive || !s.VideoTracks()[0].Enabled() {
		t.Fatalf("camera should be untouched, state %+v", c.State())
	}
}

func TestRelease_TwiceStopsEachTrackOnce(t *testing.T) {
	p := &countingProvider{}
	c := NewController(p, nil)
	if _, err := c.AcquireLocalStream(context.Background(), DefaultConstraints()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("share: %v", err)
	}

	c.Release()
	c.Release()

	for _, tr := range p.tracks {
		if n := tr.stops.Load(); n != 1 {
			t.Fatalf("track %s stopped %d times", tr.Label(), n)
		}
	}
	if got := c.State(); got != (DeviceState{}) {
		t.Fatalf("expected empty state after release, got %+v", got)
	}
	if err := c.SetMicrophoneEnabled(true); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
	if _, err := c.AcquireLocalStream(context.Background(), DefaultConstraints()); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestRelease_StopsLateArrivingStream(t *testing.T) {
	p := &gatedProvider{release: make(chan struct{}), entered: make(chan struct{})}
	c := NewController(p, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.AcquireLocalStream(context.Background(), DefaultConstraints())
		errCh <- err
	}()
	<-p.entered

	c.Release()
	close(p.release)

	if err := <-errCh; !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased for late stream, got %v", err)
	}
	streams := p.Streams()
	if len(streams) != 1 {
		t.Fatalf("expected one stream handed out, got %d", len(streams))
	}
	for _, tr := range streams[0].Tracks {
		if !tr.(*LocalTrack).Stopped() {
			t.Fatalf("late track %s was not stopped", tr.Label())
		}
	}
}

func TestReleaseWhenDone(t *testing.T) {
	p := &SyntheticProvider{}
	c := NewController(p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.ReleaseWhenDone(ctx)

	s, err := c.AcquireLocalStream(ctx, DefaultConstraints())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Released() {
		if time.Now().After(deadline) {
			t.Fatalf("controller was not released when the call ended")
		}
		time.Sleep(2 * time.Millisecond)
	}
	for _, tr := range s.Tracks {
		if !tr.(*LocalTrack).Stopped() {
			t.Fatalf("track %s still live", tr.Label())
		}
	}
}
