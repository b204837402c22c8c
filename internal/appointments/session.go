package appointments

import (
	"context"
	"log/slog"
	"time"

	"telemed-platform/internal/audit"
	"telemed-platform/pkg/logger"
)

// RoomCloser ends every signaling subscription of a room.
type RoomCloser interface {
	CloseRoom(roomID string)
}

type SessionConfig struct {
	// EarlyJoin is how long before ScheduledAt a session may be started.
	EarlyJoin time.Duration
	// LinkPadding extends the join link past the end of the slot.
	LinkPadding time.Duration
	// JoinPathPrefix is prepended to the room id to build the join URL.
	JoinPathPrefix string
}

// RoomGrant is what a participant needs to enter the call.
type RoomGrant struct {
	AppointmentID string    `json:"appointment_id"`
	RoomID        string    `json:"room_id"`
	JoinURL       string    `json:"join_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SessionMachine moves appointments through scheduled -> in_progress -> completed
// and assigns the call room exactly once.
type SessionMachine struct {
	repo  Repository
	cfg   SessionConfig
	rooms RoomCloser
	audit Auditor
	log   *slog.Logger

	clock     func() time.Time
	newRoomID func() string
}

func NewSessionMachine(repo Repository, cfg SessionConfig, auditor Auditor, log *slog.Logger) *SessionMachine {
	if cfg.EarlyJoin < 0 {
		cfg.EarlyJoin = 0
	}
	if cfg.JoinPathPrefix == "" {
		cfg.JoinPathPrefix = "/telemedicine/room/"
	}
	return &SessionMachine{
		repo:      repo,
		cfg:       cfg,
		audit:     auditor,
		log:       logger.OrDefault(log),
		clock:     time.Now,
		newRoomID: NewRoomID,
	}
}

// SetRoomCloser attaches the signaling coordinator. The coordinator depends on the
// machine for room authorization, so it is wired after construction.
func (m *SessionMachine) SetRoomCloser(rc RoomCloser) { m.rooms = rc }

// StartSession opens the video session for a participant.
// Starting an in_progress session returns the existing room without a time check.
func (m *SessionMachine) StartSession(ctx context.Context, id, requesterID string) (RoomGrant, error) {
	cur, err := m.repo.Get(ctx, id)
	if err != nil {
		return RoomGrant{}, err
	}
	if !cur.IsParticipant(requesterID) {
		return RoomGrant{}, ErrForbidden
	}
	if cur.State == StateInProgress {
		return m.grant(cur), nil
	}

	now := m.clock().UTC()
	started := false
	a, err := m.repo.Update(ctx, id, func(a *Appointment) error {
		switch a.State {
		case StateInProgress:
			// Another participant won the race.
			return nil
		case StateCompleted, StateCancelled:
			return &InvalidTransitionError{From: a.State, To: StateInProgress}
		}
		if now.Before(a.ScheduledAt.Add(-m.cfg.EarlyJoin)) {
			return ErrNotYetAvailable
		}
		if now.After(a.EndsAt()) {
			return ErrExpired
		}
		a.State = StateInProgress
		a.RoomID = m.newRoomID()
		a.StartedAt = &now
		a.UpdatedAt = now
		started = true
		return nil
	})
	if err != nil {
		return RoomGrant{}, err
	}

	if started {
		m.log.Info("session started", "appointment_id", a.ID, "room_id", a.RoomID, "actor", requesterID)
		m.record(ctx, audit.Event{
			Type:          audit.EventTypeSessionStart,
			AppointmentID: a.ID,
			RoomID:        a.RoomID,
			ActorUserID:   requesterID,
			ActorRole:     participantRole(a, requesterID),
			FromState:     string(StateScheduled),
			ToState:       string(StateInProgress),
		})
	}
	return m.grant(a), nil
}

// EndSession completes an in_progress session and closes its signaling room.
func (m *SessionMachine) EndSession(ctx context.Context, id, requesterID string) (Appointment, error) {
	now := m.clock().UTC()
	a, err := m.repo.Update(ctx, id, func(a *Appointment) error {
		if !a.IsParticipant(requesterID) {
			return ErrForbidden
		}
		if a.State != StateInProgress {
			return &InvalidTransitionError{From: a.State, To: StateCompleted}
		}
		a.State = StateCompleted
		a.EndedAt = &now
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Appointment{}, err
	}

	if m.rooms != nil {
		m.rooms.CloseRoom(a.RoomID)
	}
	m.log.Info("session completed", "appointment_id", a.ID, "room_id", a.RoomID, "actor", requesterID)
	m.record(ctx, audit.Event{
		Type:          audit.EventTypeSessionEnd,
		AppointmentID: a.ID,
		RoomID:        a.RoomID,
		ActorUserID:   requesterID,
		ActorRole:     participantRole(a, requesterID),
		FromState:     string(StateInProgress),
		ToState:       string(StateCompleted),
	})
	return a, nil
}

// AuthorizeRoom admits a participant to the signaling room of an in_progress appointment.
func (m *SessionMachine) AuthorizeRoom(ctx context.Context, roomID, participantID string) error {
	a, err := m.repo.FindByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !a.IsParticipant(participantID) {
		return ErrForbidden
	}
	if a.State != StateInProgress {
		return ErrSessionNotActive
	}
	return nil
}

func (m *SessionMachine) grant(a Appointment) RoomGrant {
	return RoomGrant{
		AppointmentID: a.ID,
		RoomID:        a.RoomID,
		JoinURL:       m.cfg.JoinPathPrefix + a.RoomID,
		ExpiresAt:     a.EndsAt().Add(m.cfg.LinkPadding),
	}
}

func (m *SessionMachine) record(ctx context.Context, e audit.Event) {
	if m.audit != nil {
		m.audit.Record(ctx, e)
	}
}
