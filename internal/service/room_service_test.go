package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clinicdesk/internal/engine"
	"clinicdesk/internal/model"
	"clinicdesk/internal/store"
)

type fakeRoomRepo struct {
	mu           sync.Mutex
	snapshot     []model.Room
	snapshotErr  error
	updateErr    error
	replaceErr   error
	clearErr     error
	updateCalls  int
	replaceCalls int
	clearCalls   int
	lastSteps    []model.TreatmentStep
}

func (r *fakeRoomRepo) Snapshot(ctx context.Context) ([]model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshotErr != nil {
		return nil, r.snapshotErr
	}
	out := make([]model.Room, len(r.snapshot))
	for i := range r.snapshot {
		out[i] = r.snapshot[i].Clone()
	}
	return out, nil
}

func (r *fakeRoomRepo) UpdateFields(ctx context.Context, roomID string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	return r.updateErr
}

func (r *fakeRoomRepo) ReplaceSteps(ctx context.Context, roomID, sessionID string, steps []model.TreatmentStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceCalls++
	r.lastSteps = steps
	return r.replaceErr
}

func (r *fakeRoomRepo) ClearSession(ctx context.Context, roomID string, status model.BayStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearCalls++
	return r.clearErr
}

func (r *fakeRoomRepo) counts() (updates, replaces, clears int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateCalls, r.replaceCalls, r.clearCalls
}

type fakeTreatmentRepo struct {
	mu             sync.Mutex
	defaults       map[string][]model.DefaultTreatment
	catalogue      []model.CatalogueEntry
	catalogueCalls int
}

func (r *fakeTreatmentRepo) Catalogue(ctx context.Context) ([]model.CatalogueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogueCalls++
	return r.catalogue, nil
}

func (r *fakeTreatmentRepo) DefaultsForPatient(ctx context.Context, patientID string) ([]model.DefaultTreatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaults[patientID], nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	patients []string
	err      error
}

func (n *fakeNotifier) SessionFinished(ctx context.Context, patientID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.patients = append(n.patients, patientID)
	return n.err
}

func (n *fakeNotifier) finished() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.patients...)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []string
}

func (b *fakeBroadcaster) Broadcast(msgType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgType)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type fakeCatalogueCache struct {
	mu      sync.Mutex
	entries []model.CatalogueEntry
}

func (c *fakeCatalogueCache) Get(ctx context.Context) ([]model.CatalogueEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries, nil
}

func (c *fakeCatalogueCache) Set(ctx context.Context, entries []model.CatalogueEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return nil
}

func (c *fakeCatalogueCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}

type testRig struct {
	svc         *RoomService
	store       *store.RoomStore
	reconciler  *engine.Reconciler
	roomRepo    *fakeRoomRepo
	treatRepo   *fakeTreatmentRepo
	notifier    *fakeNotifier
	broadcaster *fakeBroadcaster
	projector   *engine.Projector
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	st := store.NewRoomStore()
	st.ReplaceAll([]model.Room{
		{ID: "r1", Name: "Bay 1", BayStatus: model.BayAvailable},
		{ID: "r2", Name: "Bay 2", BayStatus: model.BayAvailable},
	})

	logger := zap.NewNop()
	rec := engine.NewReconciler(st, engine.DefaultGracePeriod, logger)
	st.SetTouchFunc(rec.Touch)
	proj := engine.NewProjector(time.Hour, func(string, string, engine.Projection) {})
	t.Cleanup(proj.Close)

	roomRepo := &fakeRoomRepo{}
	treatRepo := &fakeTreatmentRepo{
		catalogue: []model.CatalogueEntry{
			{Name: "acupuncture", DefaultDurationMinutes: 15},
			{Name: "heat pack", DefaultDurationMinutes: 10},
			{Name: "cupping", DefaultDurationMinutes: 10},
			{Name: "electro", DefaultDurationMinutes: 20},
		},
		defaults: map[string][]model.DefaultTreatment{},
	}

	svc := NewRoomService(st, rec, proj, roomRepo, treatRepo, logger)
	notifier := &fakeNotifier{}
	broadcaster := &fakeBroadcaster{}
	svc.SetNotifier(notifier)
	svc.SetBroadcaster(broadcaster)

	return &testRig{
		svc:         svc,
		store:       st,
		reconciler:  rec,
		roomRepo:    roomRepo,
		treatRepo:   treatRepo,
		notifier:    notifier,
		broadcaster: broadcaster,
		projector:   proj,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAssignPatientSeedsFromDefaults(t *testing.T) {
	rig := newTestRig(t)
	rig.treatRepo.defaults["p1"] = []model.DefaultTreatment{
		{Name: "acupuncture", DurationMinutes: 20, Memo: "lower back"},
		{Name: "cupping", DurationMinutes: 10},
	}

	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1", Name: "Kim"})
	require.NoError(t, err)

	require.Len(t, room.Steps, 2)
	assert.Equal(t, "acupuncture", room.Steps[0].Name)
	assert.Equal(t, 20, room.Steps[0].DurationMinutes)
	assert.Equal(t, "lower back", room.Steps[0].Memo)
	assert.Equal(t, model.StepPending, room.Steps[0].Status)
	assert.NotEmpty(t, room.Steps[0].ID)
	assert.NotEmpty(t, room.SessionID)
}

func TestAssignPatientFallsBackToCatalogue(t *testing.T) {
	rig := newTestRig(t)

	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p-new"})
	require.NoError(t, err)

	// no saved defaults: first catalogue entries seed the session
	require.Len(t, room.Steps, 3)
	assert.Equal(t, "acupuncture", room.Steps[0].Name)
	assert.Equal(t, "heat pack", room.Steps[1].Name)
	assert.Equal(t, "cupping", room.Steps[2].Name)
}

func TestAssignPatientOccupiedBay(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)

	_, err = rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p2"})
	assert.ErrorIs(t, err, store.ErrRoomNotAvailable)

	room, err := rig.store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "p1", room.Patient.ID)
}

func TestPersistFailureKeepsOptimisticState(t *testing.T) {
	rig := newTestRig(t)
	rig.roomRepo.mu.Lock()
	rig.roomRepo.updateErr = errors.New("mongo down")
	rig.roomRepo.replaceErr = errors.New("mongo down")
	rig.roomRepo.mu.Unlock()

	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, model.BayOccupied, room.BayStatus)

	waitFor(t, func() bool {
		updates, replaces, _ := rig.roomRepo.counts()
		return updates >= 1 && replaces >= 1
	}, "persistence attempted")

	// both writes failed; the local state stands untouched
	after, err := rig.store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayOccupied, after.BayStatus)
	assert.Equal(t, "p1", after.Patient.ID)
	assert.Len(t, after.Steps, 3)
}

func TestFinishSessionNotifiesBillingOnce(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)

	room, err := rig.svc.FinishSession(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayNeedsCleaning, room.BayStatus)
	assert.Equal(t, []string{"p1"}, rig.notifier.finished())

	// a repeat finish is an illegal transition and must not re-notify
	_, err = rig.svc.FinishSession(context.Background(), "r1")
	assert.ErrorIs(t, err, store.ErrIllegalTransition)
	assert.Equal(t, []string{"p1"}, rig.notifier.finished())
}

func TestFinishSessionNotifierFailureDoesNotBlock(t *testing.T) {
	rig := newTestRig(t)
	rig.notifier.err = errors.New("queue unreachable")

	_, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)

	room, err := rig.svc.FinishSession(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayNeedsCleaning, room.BayStatus)
}

func TestStepLifecycleTracksProjector(t *testing.T) {
	rig := newTestRig(t)
	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	stepID := room.Steps[0].ID

	_, err = rig.svc.StartStep(context.Background(), "r1", stepID)
	require.NoError(t, err)
	assert.Equal(t, 1, rig.projector.ActiveCount())

	_, err = rig.svc.PauseStep(context.Background(), "r1", stepID)
	require.NoError(t, err)
	assert.Equal(t, 0, rig.projector.ActiveCount())

	_, err = rig.svc.StartStep(context.Background(), "r1", stepID)
	require.NoError(t, err)
	_, err = rig.svc.CompleteStep(context.Background(), "r1", stepID)
	require.NoError(t, err)
	assert.Equal(t, 0, rig.projector.ActiveCount())
}

func TestIllegalStepTransitionPersistsNothing(t *testing.T) {
	rig := newTestRig(t)
	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	stepID := room.Steps[0].ID

	waitFor(t, func() bool {
		_, replaces, _ := rig.roomRepo.counts()
		return replaces == 1
	}, "assign seed persisted")
	broadcastsBefore := rig.broadcaster.count()

	// pausing a pending step is a no-op
	got, err := rig.svc.PauseStep(context.Background(), "r1", stepID)
	require.NoError(t, err)
	assert.Equal(t, model.StepPending, got.StepByID(stepID).Status)

	time.Sleep(50 * time.Millisecond)
	_, replaces, _ := rig.roomRepo.counts()
	assert.Equal(t, 1, replaces, "no-op must not persist")
	assert.Equal(t, broadcastsBefore, rig.broadcaster.count(), "no-op must not broadcast")
}

func TestReorderPreviewStaysLocal(t *testing.T) {
	rig := newTestRig(t)
	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	require.Len(t, room.Steps, 3)
	first, last := room.Steps[0].ID, room.Steps[2].ID

	waitFor(t, func() bool {
		_, replaces, _ := rig.roomRepo.counts()
		return replaces == 1
	}, "assign seed persisted")

	// mid-drag preview: applied locally, never persisted
	preview, err := rig.svc.ReorderStep(context.Background(), "r1", last, first, false)
	require.NoError(t, err)
	assert.Equal(t, last, preview.Steps[0].ID)

	time.Sleep(50 * time.Millisecond)
	_, replaces, _ := rig.roomRepo.counts()
	assert.Equal(t, 1, replaces)

	// the drop commits and persists
	_, err = rig.svc.ReorderStep(context.Background(), "r1", first, last, true)
	require.NoError(t, err)
	waitFor(t, func() bool {
		_, replaces, _ := rig.roomRepo.counts()
		return replaces == 2
	}, "committed reorder persisted")
}

func TestAddAndRemoveStep(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)

	room, err := rig.svc.AddStep(context.Background(), "r1", "electro", 20, "")
	require.NoError(t, err)
	require.Len(t, room.Steps, 4)
	added := room.Steps[3]
	assert.Equal(t, "electro", added.Name)
	assert.Equal(t, model.StepPending, added.Status)

	// a started step is not deletable
	_, err = rig.svc.StartStep(context.Background(), "r1", added.ID)
	require.NoError(t, err)
	room, err = rig.svc.RemoveStep(context.Background(), "r1", added.ID)
	require.NoError(t, err)
	assert.Len(t, room.Steps, 4)

	_, err = rig.svc.PauseStep(context.Background(), "r1", added.ID)
	require.NoError(t, err)
	room, err = rig.svc.RemoveStep(context.Background(), "r1", room.Steps[0].ID)
	require.NoError(t, err)
	assert.Len(t, room.Steps, 3)
}

func TestReturnToWaitingClearsSession(t *testing.T) {
	rig := newTestRig(t)
	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	_, err = rig.svc.StartStep(context.Background(), "r1", room.Steps[0].ID)
	require.NoError(t, err)

	got, err := rig.svc.ReturnToWaiting(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayAvailable, got.BayStatus)
	assert.Nil(t, got.Patient)
	assert.Empty(t, got.Steps)
	assert.Equal(t, 0, rig.projector.ActiveCount())
	assert.Empty(t, rig.notifier.finished(), "no billing handoff on return to waiting")

	waitFor(t, func() bool {
		_, _, clears := rig.roomRepo.counts()
		return clears == 1
	}, "persisted session cleared")
}

func TestCleaningCycle(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	_, err = rig.svc.FinishSession(context.Background(), "r1")
	require.NoError(t, err)

	room, err := rig.svc.StartCleaning(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayCleaning, room.BayStatus)
	assert.Nil(t, room.Patient)

	room, err = rig.svc.FinishCleaning(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayAvailable, room.BayStatus)
}

func TestCatalogueReadsThroughCache(t *testing.T) {
	rig := newTestRig(t)
	rig.svc.SetCatalogueCache(&fakeCatalogueCache{})

	first, err := rig.svc.Catalogue(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 4)

	second, err := rig.svc.Catalogue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rig.treatRepo.mu.Lock()
	calls := rig.treatRepo.catalogueCalls
	rig.treatRepo.mu.Unlock()
	assert.Equal(t, 1, calls, "second read served from cache")
}

func TestReloadKeepsStateOnFetchFailure(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)

	rig.roomRepo.mu.Lock()
	rig.roomRepo.snapshotErr = errors.New("mongo down")
	rig.roomRepo.mu.Unlock()

	rig.svc.Reload(context.Background())

	room, err := rig.store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayOccupied, room.BayStatus)
}

func TestReloadCancelsTickersForVanishedSteps(t *testing.T) {
	rig := newTestRig(t)
	// failed writes never ack-stamp the grace window
	rig.roomRepo.mu.Lock()
	rig.roomRepo.updateErr = errors.New("mongo down")
	rig.roomRepo.replaceErr = errors.New("mongo down")
	rig.roomRepo.mu.Unlock()

	room, err := rig.svc.AssignPatient(context.Background(), "r1", model.PatientRef{ID: "p1"})
	require.NoError(t, err)
	_, err = rig.svc.StartStep(context.Background(), "r1", room.Steps[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, rig.projector.ActiveCount())

	// another terminal vacated the bay; the grace window is long past
	rig.reconciler.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	rig.roomRepo.mu.Lock()
	rig.roomRepo.snapshot = []model.Room{
		{ID: "r1", Name: "Bay 1", BayStatus: model.BayAvailable},
		{ID: "r2", Name: "Bay 2", BayStatus: model.BayAvailable},
	}
	rig.roomRepo.mu.Unlock()

	rig.svc.Reload(context.Background())

	got, err := rig.store.Get("r1")
	require.NoError(t, err)
	assert.Empty(t, got.Steps, "snapshot adopted")
	assert.Equal(t, 0, rig.projector.ActiveCount(), "vanished step keeps no tick loop")
}

func TestRefreshCatalogueInvalidatesCache(t *testing.T) {
	rig := newTestRig(t)
	rig.svc.SetCatalogueCache(&fakeCatalogueCache{})

	first, err := rig.svc.Catalogue(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 4)

	rig.treatRepo.mu.Lock()
	rig.treatRepo.catalogue = append(rig.treatRepo.catalogue,
		model.CatalogueEntry{Name: "traction", DefaultDurationMinutes: 10})
	rig.treatRepo.mu.Unlock()

	// cached read does not see the edit yet
	stale, err := rig.svc.Catalogue(context.Background())
	require.NoError(t, err)
	assert.Len(t, stale, 4)

	fresh, err := rig.svc.RefreshCatalogue(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh, 5)
}

func TestReloadBroadcastsSnapshot(t *testing.T) {
	rig := newTestRig(t)
	rig.roomRepo.mu.Lock()
	rig.roomRepo.snapshot = []model.Room{
		{ID: "r1", Name: "Bay 1", BayStatus: model.BayOccupied, SessionID: "sess-9"},
		{ID: "r2", Name: "Bay 2", BayStatus: model.BayAvailable},
	}
	rig.roomRepo.mu.Unlock()

	rig.svc.Reload(context.Background())

	room, err := rig.store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, model.BayOccupied, room.BayStatus)
	assert.GreaterOrEqual(t, rig.broadcaster.count(), 1)
}
