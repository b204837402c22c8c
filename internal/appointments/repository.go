package appointments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	PatientID string
	DoctorID  string
	State     State
}

func (f Filter) match(a Appointment) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.State != "" && a.State != f.State {
		return false
	}
	return true
}

// Repository persists appointments.
type Repository interface {
	Create(ctx context.Context, a Appointment) error
	Get(ctx context.Context, id string) (Appointment, error)
	// List returns matches ordered by ScheduledAt ascending.
	List(ctx context.Context, f Filter) ([]Appointment, error)
	// FindOverlapping returns the doctor's active appointments intersecting
	// [start, start+durationMinutes), ignoring excludeID.
	FindOverlapping(ctx context.Context, doctorID string, start time.Time, durationMinutes int, excludeID string) ([]Appointment, error)
	FindByRoom(ctx context.Context, roomID string) (Appointment, error)
	// Update applies fn to the current row as one serialized read-modify-write.
	// If fn returns an error nothing is written and that error is returned.
	Update(ctx context.Context, id string, fn func(*Appointment) error) (Appointment, error)
}

// MemoryRepo is an in-memory Repository for tests and single-node runs.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]Appointment
	rooms map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:  make(map[string]Appointment),
		rooms: make(map[string]string),
	}
}

func (r *MemoryRepo) Create(_ context.Context, a Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.ID]; ok {
		return ErrConflict
	}
	// Same guarantee as the Postgres exclusion constraint.
	if a.State.Active() {
		for _, other := range r.byID {
			if other.DoctorID == a.DoctorID && other.State.Active() && other.Overlaps(a.ScheduledAt, a.DurationMinutes) {
				return ErrConflict
			}
		}
	}
	r.byID[a.ID] = a
	if a.RoomID != "" {
		r.rooms[a.RoomID] = a.ID
	}
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) List(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0)
	for _, a := range r.byID {
		if f.match(a) {
			out = append(out, a)
		}
	}
	sortBySchedule(out)
	return out, nil
}

func (r *MemoryRepo) FindOverlapping(_ context.Context, doctorID string, start time.Time, durationMinutes int, excludeID string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.byID {
		if a.ID == excludeID || a.DoctorID != doctorID || !a.State.Active() {
			continue
		}
		if a.Overlaps(start, durationMinutes) {
			out = append(out, a)
		}
	}
	sortBySchedule(out)
	return out, nil
}

func (r *MemoryRepo) FindByRoom(_ context.Context, roomID string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.rooms[roomID]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepo) Update(_ context.Context, id string, fn func(*Appointment) error) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	next := cur
	if err := fn(&next); err != nil {
		return Appointment{}, err
	}
	next.ID, next.PatientID, next.DoctorID = cur.ID, cur.PatientID, cur.DoctorID
	if cur.RoomID != "" {
		next.RoomID = cur.RoomID
	}
	if next.State.Active() {
		for _, other := range r.byID {
			if other.ID != id && other.DoctorID == next.DoctorID && other.State.Active() && other.Overlaps(next.ScheduledAt, next.DurationMinutes) {
				return Appointment{}, ErrConflict
			}
		}
	}
	r.byID[id] = next
	if next.RoomID != "" {
		r.rooms[next.RoomID] = id
	}
	return next, nil
}

func sortBySchedule(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].ScheduledAt.Equal(list[j].ScheduledAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ScheduledAt.Before(list[j].ScheduledAt)
	})
}
