package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telemed-platform/pkg/logger"
)

// MaxParticipants is the room capacity: one patient and one doctor.
const MaxParticipants = 2

// Authorizer decides whether a participant may join a room.
type Authorizer interface {
	AuthorizeRoom(ctx context.Context, roomID, participantID string) error
}

type Config struct {
	// ReconnectGrace is how long a dropped participant keeps its slot.
	ReconnectGrace time.Duration
	// OnRoomClosed runs after CloseRoom with the number of members the room held.
	OnRoomClosed func(roomID string, members int)
}

// Coordinator tracks room membership and relays events between the members of a room.
// The room table is guarded by mu; each room serializes its own join, send and leave.
type Coordinator struct {
	auth     Authorizer
	grace    time.Duration
	onClosed func(roomID string, members int)
	log      *slog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
	// closeSeq counts CloseRoom calls. While joins are being authorized,
	// closedAt keeps the sequence at which each room was closed so that a
	// join authorized before the close cannot recreate the room.
	closeSeq uint64
	closedAt map[string]uint64
	joining  int
}

type room struct {
	id      string
	mu      sync.Mutex
	members map[string]*member
	closed  bool
}

type member struct {
	// sub is nil while the participant is inside its reconnect grace period.
	sub   *Subscription
	gen   uint64
	timer *time.Timer
}

// NewCoordinator returns a coordinator. auth may be nil to admit everyone.
func NewCoordinator(auth Authorizer, cfg Config, log *slog.Logger) *Coordinator {
	return &Coordinator{
		auth:     auth,
		grace:    cfg.ReconnectGrace,
		onClosed: cfg.OnRoomClosed,
		log:      logger.OrDefault(log),
		clock:    time.Now,
		rooms:    make(map[string]*room),
		closedAt: make(map[string]uint64),
	}
}

// Join admits participantID to roomID and returns its event subscription.
// A participant that already holds a slot (connected or within its grace period)
// replaces its previous subscription.
func (c *Coordinator) Join(ctx context.Context, roomID, participantID string) (*Subscription, error) {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(participantID) == "" {
		return nil, fmt.Errorf("%w: room id and participant id are required", ErrInvalidArgument)
	}
	seq := c.beginJoin()
	defer c.endJoin()
	if c.auth != nil {
		if err := c.auth.AuthorizeRoom(ctx, roomID, participantID); err != nil {
			return nil, err
		}
	}

	for {
		r, err := c.room(roomID, seq)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.closed {
			// Lost a race with the room being emptied; take the fresh one.
			r.mu.Unlock()
			continue
		}
		sub, err := c.joinLocked(r, participantID)
		r.mu.Unlock()
		return sub, err
	}
}

func (c *Coordinator) joinLocked(r *room, participantID string) (*Subscription, error) {
	m, ok := r.members[participantID]
	switch {
	case ok:
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		if m.sub != nil {
			m.sub.close()
		}
	case len(r.members) >= MaxParticipants:
		c.log.Warn("room full", "room_id", r.id, "participant_id", participantID)
		return nil, ErrRoomFull
	default:
		m = &member{}
		r.members[participantID] = m
	}

	sub := newSubscription(r.id, participantID)
	m.sub = sub
	m.gen++

	now := c.clock().UTC()
	for pid, other := range r.members {
		if pid == participantID || other.sub == nil {
			continue
		}
		sub.push(Event{Type: EventPeerJoined, RoomID: r.id, From: pid, SentAt: now})
		other.sub.push(Event{Type: EventPeerJoined, RoomID: r.id, From: participantID, SentAt: now})
	}
	c.log.Info("participant joined", "room_id", r.id, "participant_id", participantID, "rejoin", ok)
	return sub, nil
}

// Send relays e from participantID to the other connected member of roomID.
// Events from one sender are delivered in the order Send was called.
func (c *Coordinator) Send(roomID, participantID string, e Event) error {
	return c.relay(roomID, participantID, nil, e)
}

// SendFrom relays e on behalf of sub. A subscription replaced by a rejoin can no longer send.
func (c *Coordinator) SendFrom(sub *Subscription, e Event) error {
	return c.relay(sub.roomID, sub.participantID, sub, e)
}

func (c *Coordinator) relay(roomID, participantID string, sub *Subscription, e Event) error {
	if !e.Type.Relayable() {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, e.Type)
	}
	r := c.lookup(roomID)
	if r == nil {
		return ErrNotJoined
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[participantID]
	if !ok || m.sub == nil || (sub != nil && m.sub != sub) {
		return ErrNotJoined
	}

	e.RoomID = roomID
	e.From = participantID
	e.Error = ""
	if e.SentAt.IsZero() {
		e.SentAt = c.clock().UTC()
	}
	for pid, other := range r.members {
		// Members inside their grace period miss events sent meanwhile.
		if pid == participantID || other.sub == nil {
			continue
		}
		other.sub.push(e)
	}
	return nil
}

// Leave removes participantID from roomID. It is a no-op when the participant holds no slot.
func (c *Coordinator) Leave(roomID, participantID string) {
	c.leave(roomID, participantID, nil)
}

// LeaveWith removes the participant only if sub is still its current subscription.
func (c *Coordinator) LeaveWith(sub *Subscription) {
	c.leave(sub.roomID, sub.participantID, sub)
	sub.close()
}

func (c *Coordinator) leave(roomID, participantID string, sub *Subscription) {
	r := c.lookup(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[participantID]
	if !ok || (sub != nil && m.sub != sub) {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	delete(r.members, participantID)
	if m.sub != nil {
		m.sub.close()
		c.notifyLeftLocked(r, participantID)
	}
	c.log.Info("participant left", "room_id", roomID, "participant_id", participantID)
	c.dropIfEmptyLocked(r)
}

// Disconnect records that sub's transport dropped. The peer is told immediately
// and the slot is kept for the reconnect grace period.
func (c *Coordinator) Disconnect(sub *Subscription) {
	defer sub.close()

	r := c.lookup(sub.roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sub.participantID]
	if !ok || m.sub != sub {
		return
	}
	m.sub = nil
	c.notifyLeftLocked(r, sub.participantID)

	if c.grace <= 0 {
		delete(r.members, sub.participantID)
		c.dropIfEmptyLocked(r)
		return
	}
	gen := m.gen
	pid := sub.participantID
	m.timer = time.AfterFunc(c.grace, func() { c.expire(r, pid, gen) })
	c.log.Info("participant disconnected", "room_id", r.id, "participant_id", pid, "grace", c.grace.String())
}

func (c *Coordinator) expire(r *room, participantID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[participantID]
	if !ok || m.gen != gen || m.sub != nil {
		return
	}
	delete(r.members, participantID)
	c.log.Info("reconnect grace expired", "room_id", r.id, "participant_id", participantID)
	c.dropIfEmptyLocked(r)
}

// CloseRoom ends every subscription of roomID and forgets the room.
// Joins that were authorized before the call are refused with ErrRoomClosed.
func (c *Coordinator) CloseRoom(roomID string) {
	c.mu.Lock()
	c.closeSeq++
	if c.joining > 0 {
		c.closedAt[roomID] = c.closeSeq
	}
	r := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if r == nil {
		return
	}
	n := c.closeRoom(r)
	c.log.Info("room closed", "room_id", roomID, "members", n)
	if c.onClosed != nil {
		c.onClosed(roomID, n)
	}
}

func (c *Coordinator) closeRoom(r *room) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	n := len(r.members)
	for pid, m := range r.members {
		if m.timer != nil {
			m.timer.Stop()
		}
		if m.sub != nil {
			m.sub.close()
		}
		delete(r.members, pid)
	}
	return n
}

// Close shuts every room down; later joins fail with ErrConnectionFailed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	rooms := c.rooms
	c.rooms = make(map[string]*room)
	c.closed = true
	c.mu.Unlock()

	for _, r := range rooms {
		c.closeRoom(r)
	}
}

// Occupancy returns how many slots of roomID are held, including members
// inside their reconnect grace period.
func (c *Coordinator) Occupancy(roomID string) int {
	r := c.lookup(roomID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Connected reports whether participantID currently has a live subscription in roomID.
func (c *Coordinator) Connected(roomID, participantID string) bool {
	r := c.lookup(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[participantID]
	return ok && m.sub != nil
}

func (c *Coordinator) notifyLeftLocked(r *room, participantID string) {
	e := Event{Type: EventPeerLeft, RoomID: r.id, From: participantID, SentAt: c.clock().UTC()}
	for pid, other := range r.members {
		if pid == participantID || other.sub == nil {
			continue
		}
		other.sub.push(e)
	}
}

// dropIfEmptyLocked removes an empty room from the table. Callers hold r.mu;
// the lock order is always room before table.
func (c *Coordinator) dropIfEmptyLocked(r *room) {
	if len(r.members) > 0 {
		return
	}
	r.closed = true
	c.mu.Lock()
	if c.rooms[r.id] == r {
		delete(c.rooms, r.id)
	}
	c.mu.Unlock()
}

func (c *Coordinator) beginJoin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joining++
	return c.closeSeq
}

func (c *Coordinator) endJoin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joining--
	if c.joining == 0 && len(c.closedAt) > 0 {
		clear(c.closedAt)
	}
}

// room returns the live room for roomID, creating it unless the room was
// closed after the join that asks for it began (seq).
func (c *Coordinator) room(roomID string, seq uint64) (*room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: coordinator closed", ErrConnectionFailed)
	}
	if c.closedAt[roomID] > seq {
		return nil, ErrRoomClosed
	}
	r, ok := c.rooms[roomID]
	if !ok {
		r = &room{id: roomID, members: make(map[string]*member)}
		c.rooms[roomID] = r
	}
	return r, nil
}

func (c *Coordinator) lookup(roomID string) *room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}
