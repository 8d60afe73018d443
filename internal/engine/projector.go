package engine

import (
	"sync"
	"time"

	"clinicdesk/internal/model"
)

// Projection is the display-ready view of a step's clock at one
// instant: seconds left, consumed ratio, and whether the planned
// duration has been exceeded while still running.
type Projection struct {
	RemainingSeconds int     `json:"remainingSeconds"`
	ProgressRatio    float64 `json:"progressRatio"`
	Overtime         bool    `json:"overtime"`
}

// Project computes the projection for a step at the given instant.
// Remaining is never negative and never exceeds the planned total; a
// step past its duration keeps reporting zero and sets Overtime so
// the operator can be invited to stop it. Nothing auto-completes.
func Project(step model.TreatmentStep, now time.Time) Projection {
	total := step.DurationMinutes * 60
	if total <= 0 {
		if step.Status == model.StepCompleted {
			return Projection{ProgressRatio: 1}
		}
		return Projection{}
	}

	var elapsed int
	switch step.Status {
	case model.StepCompleted:
		elapsed = total
	case model.StepRunning:
		elapsed = step.AccumulatedSeconds
		if step.StartedAt != nil {
			elapsed += int(now.Sub(*step.StartedAt).Seconds())
		}
	case model.StepPaused:
		elapsed = step.AccumulatedSeconds
	}

	overtime := step.Status == model.StepRunning && elapsed > total
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}

	return Projection{
		RemainingSeconds: total - elapsed,
		ProgressRatio:    float64(elapsed) / float64(total),
		Overtime:         overtime,
	}
}

// TickFunc receives a fresh projection for a running step.
type TickFunc func(roomID, stepID string, p Projection)

// Projector owns the per-step tick loops. A loop exists exactly while
// its step is running: Track starts it on entering running and Untrack
// cancels it the instant the step leaves running, so only bays with an
// active clock do any recurring work.
type Projector struct {
	interval time.Duration
	now      func() time.Time
	onTick   TickFunc

	mu     sync.Mutex
	active map[string]chan struct{} // stepID -> stop signal
	steps  map[string]trackedStep
}

type trackedStep struct {
	roomID string
	step   model.TreatmentStep
}

// NewProjector creates a projector ticking at the given interval
// (one second in production).
func NewProjector(interval time.Duration, onTick TickFunc) *Projector {
	return &Projector{
		interval: interval,
		now:      time.Now,
		onTick:   onTick,
		active:   make(map[string]chan struct{}),
		steps:    make(map[string]trackedStep),
	}
}

// SetClock replaces the wall clock, for tests.
func (p *Projector) SetClock(now func() time.Time) {
	p.now = now
}

// Track observes a step after any dependency change. It emits one
// immediate projection, then keeps a recurring tick armed only while
// the step is running.
func (p *Projector) Track(roomID string, step model.TreatmentStep) {
	p.onTick(roomID, step.ID, Project(step, p.now()))

	p.mu.Lock()
	defer p.mu.Unlock()

	if step.Status != model.StepRunning {
		p.stopLocked(step.ID)
		return
	}

	p.steps[step.ID] = trackedStep{roomID: roomID, step: step}
	if _, running := p.active[step.ID]; running {
		return
	}
	stop := make(chan struct{})
	p.active[step.ID] = stop
	go p.loop(step.ID, stop)
}

// Untrack cancels the tick loop for a step, if any.
func (p *Projector) Untrack(stepID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(stepID)
}

// UntrackRoom cancels every tick loop belonging to a room, used when
// the room is vacated or replaced by a snapshot without the step.
func (p *Projector) UntrackRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ts := range p.steps {
		if ts.roomID == roomID {
			p.stopLocked(id)
		}
	}
}

// ActiveCount reports how many tick loops are armed.
func (p *Projector) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// TrackedIDs lists the step ids that currently hold a tick loop, so
// callers can cancel loops for steps a snapshot removed outright.
func (p *Projector) TrackedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels all tick loops.
func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.active {
		p.stopLocked(id)
	}
}

func (p *Projector) stopLocked(stepID string) {
	if stop, ok := p.active[stepID]; ok {
		close(stop)
		delete(p.active, stepID)
	}
	delete(p.steps, stepID)
}

func (p *Projector) loop(stepID string, stop chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			ts, ok := p.steps[stepID]
			p.mu.Unlock()
			if !ok {
				return
			}
			p.onTick(ts.roomID, stepID, Project(ts.step, p.now()))
		}
	}
}
