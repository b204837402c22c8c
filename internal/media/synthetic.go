package media

import (
	"context"
	"sync"
)

// SyntheticProvider hands out LocalTracks instead of touching real devices.
// It backs the probe command and tests. Set the error fields to simulate failures.
type SyntheticProvider struct {
	UserMediaErr    error
	DisplayMediaErr error

	mu      sync.Mutex
	streams []*Stream
}

func (p *SyntheticProvider) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.UserMediaErr != nil {
		return nil, p.UserMediaErr
	}
	if !c.Audio && !c.Video {
		return nil, &DeviceError{Kind: KindNotFound}
	}
	var tracks []Track
	if c.Audio {
		tracks = append(tracks, NewLocalTrack(KindAudio, "synthetic microphone"))
	}
	if c.Video {
		tracks = append(tracks, NewLocalTrack(KindVideo, "synthetic camera"))
	}
	return p.keep(NewStream(tracks...)), nil
}

func (p *SyntheticProvider) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.DisplayMediaErr != nil {
		return nil, p.DisplayMediaErr
	}
	return p.keep(NewStream(NewLocalTrack(KindVideo, "synthetic screen"))), nil
}

// Streams returns every stream handed out so far.
func (p *SyntheticProvider) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

func (p *SyntheticProvider) keep(s *Stream) *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, s)
	return s
}
