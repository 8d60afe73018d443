package store

import (
	"errors"
	"sync"
	"time"

	"clinicdesk/internal/model"
)

var (
	// ErrRoomNotFound is returned when a bay id is unknown.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomNotAvailable is returned when a patient is assigned to a
	// bay that is not available. It is the one error surfaced to the
	// initiating terminal action.
	ErrRoomNotAvailable = errors.New("room not available")
	// ErrIllegalTransition is returned for bay transitions attempted
	// from the wrong status.
	ErrIllegalTransition = errors.New("illegal bay transition")
)

// TouchFunc is invoked after every locally-originated mutation so the
// reconciler can stamp the room's grace window.
type TouchFunc func(roomID string)

// RoomStore is the single in-process owner of all bay state. All
// mutations are synchronous and immediately visible; there is no
// secondary copy that could diverge.
type RoomStore struct {
	mu      sync.RWMutex
	rooms   []model.Room
	index   map[string]int
	onTouch TouchFunc
	now     func() time.Time
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// SetTouchFunc registers the reconciler's touch stamp. Replace-all
// from snapshots never touches; local mutations always do unless the
// patch opts out.
func (s *RoomStore) SetTouchFunc(fn TouchFunc) {
	s.mu.Lock()
	s.onTouch = fn
	s.mu.Unlock()
}

// SetClock replaces the wall clock, for tests.
func (s *RoomStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// List returns a deep copy of all rooms in display order.
func (s *RoomStore) List() []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, len(s.rooms))
	for i := range s.rooms {
		out[i] = s.rooms[i].Clone()
	}
	return out
}

// Get returns a deep copy of one room.
func (s *RoomStore) Get(roomID string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[roomID]
	if !ok {
		return model.Room{}, ErrRoomNotFound
	}
	return s.rooms[i].Clone(), nil
}

// ReplaceAll swaps in a full room list, used by the reconciler after
// a snapshot merge. It does not count as a local touch.
func (s *RoomStore) ReplaceAll(rooms []model.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make([]model.Room, len(rooms))
	s.index = make(map[string]int, len(rooms))
	for i := range rooms {
		s.rooms[i] = rooms[i].Clone()
		s.index[rooms[i].ID] = i
	}
}

// PatchOption modifies how a patch is recorded.
type PatchOption func(*patchConfig)

type patchConfig struct {
	skipTouch bool
}

// WithoutTouch marks a patch as a pure local UI mutation (an
// in-progress drag reorder) that must not starve reconciliation.
func WithoutTouch() PatchOption {
	return func(c *patchConfig) { c.skipTouch = true }
}

// Patch applies fn to the current room, replaces it in the
// collection, and records the room as locally touched unless opted
// out. Returns the updated room.
func (s *RoomStore) Patch(roomID string, fn func(*model.Room), opts ...PatchOption) (model.Room, error) {
	var cfg patchConfig
	for _, o := range opts {
		o(&cfg)
	}

	s.mu.Lock()
	i, ok := s.index[roomID]
	if !ok {
		s.mu.Unlock()
		return model.Room{}, ErrRoomNotFound
	}
	room := s.rooms[i].Clone()
	fn(&room)
	room.ID = roomID
	s.rooms[i] = room
	touch := s.onTouch
	s.mu.Unlock()

	if !cfg.skipTouch && touch != nil {
		touch(roomID)
	}
	return room.Clone(), nil
}

// AssignPatient starts a new occupancy episode on an available bay,
// seeding its step list. The bay must be available at call time; the
// caller must never force-overwrite an occupied bay.
func (s *RoomStore) AssignPatient(roomID string, patient model.PatientRef, sessionID string, seed []model.TreatmentStep) (model.Room, error) {
	s.mu.Lock()
	i, ok := s.index[roomID]
	if !ok {
		s.mu.Unlock()
		return model.Room{}, ErrRoomNotFound
	}
	if s.rooms[i].BayStatus != model.BayAvailable {
		s.mu.Unlock()
		return model.Room{}, ErrRoomNotAvailable
	}
	now := s.now()
	room := s.rooms[i].Clone()
	room.BayStatus = model.BayOccupied
	room.SessionID = sessionID
	room.Patient = &patient
	room.OccupiedAt = &now
	room.Steps = make([]model.TreatmentStep, len(seed))
	for j := range seed {
		room.Steps[j] = seed[j].Clone()
	}
	s.rooms[i] = room
	touch := s.onTouch
	s.mu.Unlock()

	if touch != nil {
		touch(roomID)
	}
	return room.Clone(), nil
}

// ReturnToWaiting vacates an occupied bay directly back to available
// with no cleaning stage: the bay was never actually used and the
// session leaves no trace.
func (s *RoomStore) ReturnToWaiting(roomID string) (model.Room, error) {
	return s.transition(roomID, model.BayOccupied, func(room *model.Room) {
		clearSession(room)
		room.BayStatus = model.BayAvailable
	})
}

// FinishSession ends an occupied bay's session. The bay moves to
// needs_cleaning; patient and steps are retained so the caller can
// emit the move-to-billing side effect, and are cleared when cleaning
// begins.
func (s *RoomStore) FinishSession(roomID string) (model.Room, error) {
	return s.transition(roomID, model.BayOccupied, func(room *model.Room) {
		room.BayStatus = model.BayNeedsCleaning
	})
}

// StartCleaning moves a finished bay into cleaning and drops the
// ended session's fields.
func (s *RoomStore) StartCleaning(roomID string) (model.Room, error) {
	return s.transition(roomID, model.BayNeedsCleaning, func(room *model.Room) {
		clearSession(room)
		room.BayStatus = model.BayCleaning
	})
}

// FinishCleaning returns a cleaned bay to available.
func (s *RoomStore) FinishCleaning(roomID string) (model.Room, error) {
	return s.transition(roomID, model.BayCleaning, func(room *model.Room) {
		room.BayStatus = model.BayAvailable
	})
}

func (s *RoomStore) transition(roomID string, from model.BayStatus, fn func(*model.Room)) (model.Room, error) {
	s.mu.Lock()
	i, ok := s.index[roomID]
	if !ok {
		s.mu.Unlock()
		return model.Room{}, ErrRoomNotFound
	}
	if s.rooms[i].BayStatus != from {
		s.mu.Unlock()
		return model.Room{}, ErrIllegalTransition
	}
	room := s.rooms[i].Clone()
	fn(&room)
	s.rooms[i] = room
	touch := s.onTouch
	s.mu.Unlock()

	if touch != nil {
		touch(roomID)
	}
	return room.Clone(), nil
}

func clearSession(room *model.Room) {
	room.SessionID = ""
	room.Patient = nil
	room.OccupiedAt = nil
	room.Steps = nil
}

// ReorderStep moves the step with id stepID to the current position
// of targetID: a pure splice, no step's own fields change.
func ReorderStep(steps []model.TreatmentStep, stepID, targetID string) []model.TreatmentStep {
	from, to := -1, -1
	for i := range steps {
		switch steps[i].ID {
		case stepID:
			from = i
		case targetID:
			to = i
		}
	}
	if from < 0 || to < 0 || from == to {
		return steps
	}
	moved := steps[from]
	out := append(steps[:from:from], steps[from+1:]...)
	if to > len(out) {
		to = len(out)
	}
	out = append(out[:to], append([]model.TreatmentStep{moved}, out[to:]...)...)
	return out
}
