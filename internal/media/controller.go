package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"telemed-platform/pkg/logger"
)

// DeviceState is what the call UI renders for the local controls.
type DeviceState struct {
	MicrophoneEnabled bool `json:"microphone_enabled"`
	CameraEnabled     bool `json:"camera_enabled"`
	ScreenShareActive bool `json:"screen_share_active"`
}

// Controller is the single owner of one call's capture streams. After Release
// every operation fails with ErrReleased and late-arriving streams are stopped.
type Controller struct {
	provider Provider
	log      *slog.Logger

	mu       sync.Mutex
	local    *Stream
	screen   *Stream
	state    DeviceState
	shareGen uint64
	released bool
	done     chan struct{}
}

func NewController(p Provider, log *slog.Logger) *Controller {
	return &Controller{provider: p, log: logger.OrDefault(log), done: make(chan struct{})}
}

// AcquireLocalStream requests the camera and microphone. A second call returns
// the stream already held.
func (c *Controller) AcquireLocalStream(ctx context.Context, cons Constraints) (*Stream, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, ErrReleased
	}
	if c.local != nil {
		s := c.local
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.provider.UserMedia(ctx, cons)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, asDeviceError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		s.Stop()
		c.log.Debug("discarded stream acquired after release", "stream_id", s.ID)
		return nil, ErrReleased
	}
	if c.local != nil {
		s.Stop()
		return c.local, nil
	}
	c.local = s
	for _, t := range s.Tracks {
		t.SetEnabled(true)
	}
	c.state.MicrophoneEnabled = len(s.AudioTracks()) > 0
	c.state.CameraEnabled = len(s.VideoTracks()) > 0
	if c.screen != nil {
		setEnabled(s.VideoTracks(), false)
	}
	return s, nil
}

// SetMicrophoneEnabled mutes or unmutes the microphone in place.
func (c *Controller) SetMicrophoneEnabled(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	setEnabled(c.local.AudioTracks(), on)
	c.state.MicrophoneEnabled = on
	return nil
}

// SetCameraEnabled turns the camera on or off in place. While a screen is shared
// the camera track stays paused and the choice applies when sharing stops.
func (c *Controller) SetCameraEnabled(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.screen == nil {
		setEnabled(c.local.VideoTracks(), on)
	}
	c.state.CameraEnabled = on
	return nil
}

// StartScreenShare captures the screen and makes it the outgoing video. The camera
// video is paused, not released. When the source ends the share (the OS "stop
// sharing" control) the controller falls back to the camera on its own.
func (c *Controller) StartScreenShare(ctx context.Context) (*Stream, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, ErrReleased
	}
	if c.screen != nil {
		s := c.screen
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.provider.DisplayMedia(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, asDeviceError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		s.Stop()
		return nil, ErrReleased
	}
	if c.screen != nil {
		s.Stop()
		return c.screen, nil
	}

	c.screen = s
	c.state.ScreenShareActive = true
	if c.local != nil {
		setEnabled(c.local.VideoTracks(), false)
	}
	c.shareGen++
	if v := s.VideoTracks(); len(v) > 0 {
		go c.watchScreen(v[0], c.shareGen)
	}
	return s, nil
}

func (c *Controller) watchScreen(t Track, gen uint64) {
	<-t.Ended()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen == nil || c.shareGen != gen {
		return
	}
	c.log.Info("screen share ended by source, falling back to camera")
	c.stopScreenLocked()
}

// StopScreenShare ends the share and resumes the camera. It is a no-op when not sharing.
func (c *Controller) StopScreenShare() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen == nil {
		return
	}
	c.stopScreenLocked()
}

func (c *Controller) stopScreenLocked() {
	c.shareGen++
	c.screen.Stop()
	c.screen = nil
	c.state.ScreenShareActive = false
	if c.local != nil {
		setEnabled(c.local.VideoTracks(), c.state.CameraEnabled)
	}
}

// OutgoingVideo returns the track currently sent to the peer, or nil.
func (c *Controller) OutgoingVideo() Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != nil {
		if v := c.screen.VideoTracks(); len(v) > 0 {
			return v[0]
		}
	}
	if c.local != nil {
		if v := c.local.VideoTracks(); len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

func (c *Controller) State() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Release stops every track the controller holds. Calling it again is a no-op.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.shareGen++
	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
	}
	if c.local != nil {
		c.local.Stop()
		c.local = nil
	}
	c.state = DeviceState{}
	close(c.done)
	c.log.Debug("media devices released")
}

// ReleaseWhenDone releases the devices once ctx ends, covering hangups and
// navigation that never reach an explicit Release.
func (c *Controller) ReleaseWhenDone(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			c.Release()
		case <-c.done:
		}
	}()
}

// Released reports whether Release has run.
func (c *Controller) Released() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) usableLocked() error {
	if c.released {
		return ErrReleased
	}
	if c.local == nil {
		return ErrNoLocalStream
	}
	return nil
}

func setEnabled(tracks []Track, on bool) {
	for _, t := range tracks {
		t.SetEnabled(on)
	}
}

// IsDeviceError reports whether err is a recoverable device failure.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
