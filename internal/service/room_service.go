package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinicdesk/internal/cache"
	"clinicdesk/internal/engine"
	"clinicdesk/internal/model"
	"clinicdesk/internal/repository"
	"clinicdesk/internal/store"
)

// Broadcaster fans messages out to connected terminals (avoids
// import cycle with the ws package).
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// SessionFinishedNotifier receives the move-to-billing side effect,
// fired exactly once per finished session. The engine does not wait
// on or depend on its result.
type SessionFinishedNotifier interface {
	SessionFinished(ctx context.Context, patientID string) error
}

const persistTimeout = 5 * time.Second

// fallbackSeedCount is how many catalogue entries seed a session when
// the patient has no saved defaults.
const fallbackSeedCount = 3

// RoomService orchestrates bay and step mutations: every operation
// applies optimistically to the in-process store, stamps the grace
// window, kicks off a best-effort persistence write, and broadcasts
// the result. A failed write is logged and never rolled back; the
// next reconciliation pass after the grace window heals divergence.
type RoomService struct {
	store         *store.RoomStore
	reconciler    *engine.Reconciler
	projector     *engine.Projector
	roomRepo      repository.RoomRepo
	treatmentRepo repository.TreatmentRepo
	logger        *zap.Logger

	broadcaster    Broadcaster
	notifier       SessionFinishedNotifier
	catalogueCache cache.CatalogueCache

	now func() time.Time
}

// NewRoomService creates a new room service
func NewRoomService(
	st *store.RoomStore,
	rec *engine.Reconciler,
	proj *engine.Projector,
	roomRepo repository.RoomRepo,
	treatmentRepo repository.TreatmentRepo,
	logger *zap.Logger,
) *RoomService {
	return &RoomService{
		store:         st,
		reconciler:    rec,
		projector:     proj,
		roomRepo:      roomRepo,
		treatmentRepo: treatmentRepo,
		logger:        logger,
		now:           time.Now,
	}
}

// SetBroadcaster injects the terminal fan-out (the ws hub implements it).
func (s *RoomService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetNotifier injects the billing handoff.
func (s *RoomService) SetNotifier(n SessionFinishedNotifier) { s.notifier = n }

// SetCatalogueCache injects the read-through catalogue cache.
func (s *RoomService) SetCatalogueCache(c cache.CatalogueCache) { s.catalogueCache = c }

// SetClock replaces the wall clock, for tests.
func (s *RoomService) SetClock(now func() time.Time) { s.now = now }

// Rooms returns the current state of every bay.
func (s *RoomService) Rooms() []model.Room {
	return s.store.List()
}

// Room returns one bay.
func (s *RoomService) Room(roomID string) (model.Room, error) {
	return s.store.Get(roomID)
}

// Reload fetches a fresh authoritative snapshot and merges it through
// the reconciler. A fetch failure is logged and leaves the store
// untouched; the next push notice or poll tick retries.
func (s *RoomService) Reload(ctx context.Context) {
	snapshot, err := s.roomRepo.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("room snapshot fetch failed, keeping current state", zap.Error(err))
		return
	}

	s.reconciler.Apply(snapshot)
	s.retrack()
	s.broadcastSnapshot()
}

// retrack realigns the projector's tick loops with whatever is
// running after a snapshot merge. A snapshot can also remove a
// running step outright (another terminal vacated the bay or replaced
// the step list); those loops must not outlive their steps.
func (s *RoomService) retrack() {
	present := make(map[string]bool)
	for _, room := range s.store.List() {
		for _, step := range room.Steps {
			present[step.ID] = true
			s.projector.Track(room.ID, step)
		}
	}
	for _, id := range s.projector.TrackedIDs() {
		if !present[id] {
			s.projector.Untrack(id)
		}
	}
}

// AssignPatient seeds a session on an available bay from the
// patient's saved defaults, or the first catalogue entries when none
// are saved. Returns store.ErrRoomNotAvailable when the bay is taken;
// the terminal rejects the drag and both sides stay unchanged.
func (s *RoomService) AssignPatient(ctx context.Context, roomID string, patient model.PatientRef) (model.Room, error) {
	seed, err := s.seedSteps(ctx, patient.ID)
	if err != nil {
		return model.Room{}, err
	}

	sessionID := uuid.New().String()
	room, err := s.store.AssignPatient(roomID, patient, sessionID, seed)
	if err != nil {
		return model.Room{}, err
	}

	s.persistRoom(room.ID, map[string]interface{}{
		"bayStatus":  room.BayStatus,
		"sessionId":  room.SessionID,
		"patient":    room.Patient,
		"occupiedAt": room.OccupiedAt,
	})
	s.persistSteps(room)
	s.broadcastRoom(room)
	return room, nil
}

func (s *RoomService) seedSteps(ctx context.Context, patientID string) ([]model.TreatmentStep, error) {
	defaults, err := s.treatmentRepo.DefaultsForPatient(ctx, patientID)
	if err != nil {
		s.logger.Warn("patient defaults fetch failed, falling back to catalogue",
			zap.String("patient", patientID), zap.Error(err))
	}

	var seed []model.TreatmentStep
	for _, d := range defaults {
		seed = append(seed, model.TreatmentStep{
			ID:              uuid.New().String(),
			Name:            d.Name,
			Status:          model.StepPending,
			DurationMinutes: d.DurationMinutes,
			Memo:            d.Memo,
		})
	}
	if len(seed) > 0 {
		return seed, nil
	}

	catalogue, err := s.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	for i, entry := range catalogue {
		if i >= fallbackSeedCount {
			break
		}
		seed = append(seed, model.TreatmentStep{
			ID:              uuid.New().String(),
			Name:            entry.Name,
			Status:          model.StepPending,
			DurationMinutes: entry.DefaultDurationMinutes,
		})
	}
	return seed, nil
}

// ReturnToWaiting vacates a bay whose patient goes back to the
// waiting list: nothing was done, no completion is recorded, and the
// bay skips the cleaning stage.
func (s *RoomService) ReturnToWaiting(ctx context.Context, roomID string) (model.Room, error) {
	room, err := s.store.ReturnToWaiting(roomID)
	if err != nil {
		return model.Room{}, err
	}

	s.projector.UntrackRoom(roomID)
	s.clearPersisted(roomID, model.BayAvailable)
	s.broadcastRoom(room)
	return room, nil
}

// FinishSession ends a session and hands the patient to billing. The
// bay needs cleaning before it can take the next patient; its steps
// stay visible until cleaning starts.
func (s *RoomService) FinishSession(ctx context.Context, roomID string) (model.Room, error) {
	current, err := s.store.Get(roomID)
	if err != nil {
		return model.Room{}, err
	}
	var patientID string
	if current.Patient != nil {
		patientID = current.Patient.ID
	}

	room, err := s.store.FinishSession(roomID)
	if err != nil {
		return model.Room{}, err
	}

	s.projector.UntrackRoom(roomID)

	if s.notifier != nil && patientID != "" {
		if err := s.notifier.SessionFinished(ctx, patientID); err != nil {
			s.logger.Warn("billing handoff failed",
				zap.String("patient", patientID), zap.Error(err))
		}
	}

	s.persistRoom(roomID, map[string]interface{}{"bayStatus": room.BayStatus})
	s.broadcastRoom(room)
	return room, nil
}

// StartCleaning begins cleaning a finished bay and drops the ended
// session's fields.
func (s *RoomService) StartCleaning(ctx context.Context, roomID string) (model.Room, error) {
	room, err := s.store.StartCleaning(roomID)
	if err != nil {
		return model.Room{}, err
	}

	s.clearPersisted(roomID, model.BayCleaning)
	s.broadcastRoom(room)
	return room, nil
}

// FinishCleaning returns a cleaned bay to available.
func (s *RoomService) FinishCleaning(ctx context.Context, roomID string) (model.Room, error) {
	room, err := s.store.FinishCleaning(roomID)
	if err != nil {
		return model.Room{}, err
	}

	s.persistRoom(roomID, map[string]interface{}{"bayStatus": room.BayStatus})
	s.broadcastRoom(room)
	return room, nil
}

// StartStep starts or resumes a step's clock.
func (s *RoomService) StartStep(ctx context.Context, roomID, stepID string) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		return step.Start(s.now())
	})
}

// PauseStep banks the elapsed run-time and stops the clock.
func (s *RoomService) PauseStep(ctx context.Context, roomID, stepID string) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		return step.Pause(s.now())
	})
}

// CompleteStep finishes a step.
func (s *RoomService) CompleteStep(ctx context.Context, roomID, stepID string) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		return step.Complete()
	})
}

// ResetStep returns a completed step to pending.
func (s *RoomService) ResetStep(ctx context.Context, roomID, stepID string) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		return step.Reset()
	})
}

// AdjustStepDuration applies a +/- minute increment.
func (s *RoomService) AdjustStepDuration(ctx context.Context, roomID, stepID string, deltaMinutes int) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		return step.AdjustDuration(deltaMinutes)
	})
}

// SetStepDuration applies a free-form duration edit.
func (s *RoomService) SetStepDuration(ctx context.Context, roomID, stepID string, minutes int) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		return step.SetDuration(minutes)
	})
}

// SetStepMemo updates a step's memo.
func (s *RoomService) SetStepMemo(ctx context.Context, roomID, stepID, memo string) (model.Room, error) {
	return s.patchStep(roomID, stepID, func(step *model.TreatmentStep) bool {
		step.Memo = memo
		return true
	})
}

// AddStep appends a new pending step to a session.
func (s *RoomService) AddStep(ctx context.Context, roomID, name string, durationMinutes int, memo string) (model.Room, error) {
	if durationMinutes < 1 {
		durationMinutes = 1
	}
	room, err := s.store.Patch(roomID, func(room *model.Room) {
		room.Steps = append(room.Steps, model.TreatmentStep{
			ID:              uuid.New().String(),
			Name:            name,
			Status:          model.StepPending,
			DurationMinutes: durationMinutes,
			Memo:            memo,
		})
	})
	if err != nil {
		return model.Room{}, err
	}

	s.persistSteps(room)
	s.broadcastRoom(room)
	return room, nil
}

// RemoveStep deletes a step; only pending steps may go.
func (s *RoomService) RemoveStep(ctx context.Context, roomID, stepID string) (model.Room, error) {
	room, err := s.store.Patch(roomID, func(room *model.Room) {
		for i := range room.Steps {
			if room.Steps[i].ID == stepID && room.Steps[i].Deletable() {
				room.Steps = append(room.Steps[:i], room.Steps[i+1:]...)
				return
			}
		}
	})
	if err != nil {
		return model.Room{}, err
	}

	s.persistSteps(room)
	s.broadcastRoom(room)
	return room, nil
}

// ReorderStep moves a step to another step's position. Mid-drag
// previews pass committed=false: the reorder stays local and does not
// stamp the grace window, so a long drag cannot starve
// reconciliation. The drop passes committed=true.
func (s *RoomService) ReorderStep(ctx context.Context, roomID, stepID, targetID string, committed bool) (model.Room, error) {
	var opts []store.PatchOption
	if !committed {
		opts = append(opts, store.WithoutTouch())
	}

	room, err := s.store.Patch(roomID, func(room *model.Room) {
		room.Steps = store.ReorderStep(room.Steps, stepID, targetID)
	}, opts...)
	if err != nil {
		return model.Room{}, err
	}

	if committed {
		s.persistSteps(room)
	}
	s.broadcastRoom(room)
	return room, nil
}

// Catalogue lists the configured treatment types for "add step"
// menus, read through the cache when one is wired.
func (s *RoomService) Catalogue(ctx context.Context) ([]model.CatalogueEntry, error) {
	if s.catalogueCache != nil {
		if entries, err := s.catalogueCache.Get(ctx); err == nil && entries != nil {
			return entries, nil
		}
	}

	entries, err := s.treatmentRepo.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	if s.catalogueCache != nil {
		if err := s.catalogueCache.Set(ctx, entries); err != nil {
			s.logger.Debug("catalogue cache set failed", zap.Error(err))
		}
	}
	return entries, nil
}

// RefreshCatalogue drops the cached catalogue and re-reads it, for
// when the clinic edits its treatment configuration.
func (s *RoomService) RefreshCatalogue(ctx context.Context) ([]model.CatalogueEntry, error) {
	if s.catalogueCache != nil {
		if err := s.catalogueCache.Invalidate(ctx); err != nil {
			s.logger.Debug("catalogue cache invalidate failed", zap.Error(err))
		}
	}
	return s.Catalogue(ctx)
}

// patchStep applies a step transition inside a room patch. An illegal
// transition is a no-op by construction of the step methods; the room
// is returned unchanged and nothing is persisted or tracked.
func (s *RoomService) patchStep(roomID, stepID string, fn func(*model.TreatmentStep) bool) (model.Room, error) {
	changed := false
	room, err := s.store.Patch(roomID, func(room *model.Room) {
		if step := room.StepByID(stepID); step != nil {
			changed = fn(step)
		}
	})
	if err != nil {
		return model.Room{}, err
	}
	if !changed {
		return room, nil
	}

	if step := room.StepByID(stepID); step != nil {
		s.projector.Track(roomID, *step)
	}
	s.persistSteps(room)
	s.broadcastRoom(room)
	return room, nil
}

// persistRoom writes mutated room fields in the background. Failure
// is logged only; local optimistic state stands.
func (s *RoomService) persistRoom(roomID string, fields map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.roomRepo.UpdateFields(ctx, roomID, fields); err != nil {
			s.logger.Warn("room persist failed, optimistic state kept",
				zap.String("room", roomID), zap.Error(err))
			return
		}
		// ack stamp: anchors the grace window to the later event
		s.reconciler.Touch(roomID)
	}()
}

// persistSteps writes a session's full step list in the background.
func (s *RoomService) persistSteps(room model.Room) {
	steps := make([]model.TreatmentStep, len(room.Steps))
	for i := range room.Steps {
		steps[i] = room.Steps[i].Clone()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.roomRepo.ReplaceSteps(ctx, room.ID, room.SessionID, steps); err != nil {
			s.logger.Warn("steps persist failed, optimistic state kept",
				zap.String("room", room.ID), zap.Error(err))
			return
		}
		s.reconciler.Touch(room.ID)
	}()
}

// clearPersisted resets the persisted room to the given bay status
// and drops its step rows.
func (s *RoomService) clearPersisted(roomID string, status model.BayStatus) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.roomRepo.ClearSession(ctx, roomID, status); err != nil {
			s.logger.Warn("session clear failed, optimistic state kept",
				zap.String("room", roomID), zap.Error(err))
			return
		}
		s.reconciler.Touch(roomID)
	}()
}

func (s *RoomService) broadcastRoom(room model.Room) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast("room_updated", room)
	}
}

func (s *RoomService) broadcastSnapshot() {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast("rooms_snapshot", s.store.List())
	}
}
