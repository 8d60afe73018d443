package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"clinicdesk/internal/model"
	"clinicdesk/internal/store"
)

// DefaultGracePeriod is the window after a local mutation during
// which an incoming snapshot for the same room is ignored.
const DefaultGracePeriod = 3 * time.Second

// Reconciler merges authoritative snapshots into the room store
// without clobbering very-recent local edits. A snapshot version of a
// room is adopted unless that room was locally touched within the
// grace window; a kept-local room self-heals on the next snapshot
// after the window elapses. Rooms are judged independently.
type Reconciler struct {
	store  *store.RoomStore
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastTouched map[string]time.Time
}

func NewReconciler(st *store.RoomStore, grace time.Duration, logger *zap.Logger) *Reconciler {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Reconciler{
		store:       st,
		grace:       grace,
		logger:      logger,
		now:         time.Now,
		lastTouched: make(map[string]time.Time),
	}
}

// SetClock replaces the wall clock, for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Touch stamps a room as locally mutated. The store calls it on every
// optimistic apply, and the persistence path calls it again when the
// write is acknowledged, so the window is anchored to the later of
// the two events.
func (r *Reconciler) Touch(roomID string) {
	r.mu.Lock()
	r.lastTouched[roomID] = r.now()
	r.mu.Unlock()
}

// Apply merges a full snapshot into the store and returns the ids of
// rooms whose snapshot version was kept out this cycle.
func (r *Reconciler) Apply(snapshot []model.Room) []string {
	now := r.now()
	current := r.store.List()
	byID := make(map[string]model.Room, len(current))
	for _, room := range current {
		byID[room.ID] = room
	}

	merged := make([]model.Room, 0, len(snapshot))
	var kept []string
	for _, remote := range snapshot {
		local, exists := byID[remote.ID]
		if exists && r.withinGrace(remote.ID, now) {
			merged = append(merged, local)
			kept = append(kept, remote.ID)
			continue
		}
		merged = append(merged, remote)
	}

	if len(kept) > 0 {
		r.logger.Debug("reconcile kept local rooms inside grace window",
			zap.Strings("rooms", kept))
	}
	r.store.ReplaceAll(merged)
	return kept
}

func (r *Reconciler) withinGrace(roomID string, now time.Time) bool {
	r.mu.Lock()
	touched, ok := r.lastTouched[roomID]
	r.mu.Unlock()
	return ok && now.Sub(touched) < r.grace
}
