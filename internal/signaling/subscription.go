package signaling

import (
	"context"
	"io"
	"sync"
)

// MaxQueuedEvents caps a subscription's backlog. The websocket writer drains it
// with a WriteWait deadline per frame, so only a reader that stopped reading can
// fill it; that subscription is ended and the participant may reconnect.
const MaxQueuedEvents = 256

// Subscription is one participant's view of a room: an ordered queue of events.
// Next drains it and then reports io.EOF once closed.
type Subscription struct {
	roomID        string
	participantID string

	mu     sync.Mutex
	queue  []Event
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newSubscription(roomID, participantID string) *Subscription {
	return &Subscription{
		roomID:        roomID,
		participantID: participantID,
		ready:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

func (s *Subscription) RoomID() string        { return s.roomID }
func (s *Subscription) ParticipantID() string { return s.participantID }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next blocks until an event is available, the subscription ends or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (s *Subscription) push(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.queue) >= MaxQueuedEvents {
		s.queue = nil
		s.closed = true
		close(s.done)
		return false
	}
	s.queue = append(s.queue, e)
	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
