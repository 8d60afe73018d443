package model

import (
	"math"
	"time"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepPaused    StepStatus = "paused"
	StepCompleted StepStatus = "completed"
)

// TreatmentStep is one unit of treatment inside a session. Elapsed
// time lives in two places: AccumulatedSeconds banks the time of
// finished run segments, StartedAt anchors the segment currently
// running. StartedAt is non-nil exactly while Status is running.
type TreatmentStep struct {
	ID                 string     `json:"id" bson:"id"`
	Name               string     `json:"name" bson:"name"`
	Status             StepStatus `json:"status" bson:"status"`
	DurationMinutes    int        `json:"durationMinutes" bson:"durationMinutes"`
	StartedAt          *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	AccumulatedSeconds int        `json:"accumulatedSeconds" bson:"accumulatedSeconds"`
	Memo               string     `json:"memo,omitempty" bson:"memo,omitempty"`
}

// Start begins or resumes the step at now. A fresh start from pending
// discards any stale banked seconds; resuming from paused keeps them.
// Returns false without mutating for any other status.
func (s *TreatmentStep) Start(now time.Time) bool {
	switch s.Status {
	case StepPending:
		s.AccumulatedSeconds = 0
	case StepPaused:
	default:
		return false
	}
	s.Status = StepRunning
	t := now
	s.StartedAt = &t
	return true
}

// Pause banks the elapsed seconds of the current run segment and
// clears the anchor. Only a running step can pause.
func (s *TreatmentStep) Pause(now time.Time) bool {
	if s.Status != StepRunning || s.StartedAt == nil {
		return false
	}
	elapsed := now.Sub(*s.StartedAt).Seconds()
	if elapsed > 0 {
		s.AccumulatedSeconds += int(math.Round(elapsed))
	}
	s.Status = StepPaused
	s.StartedAt = nil
	return true
}

// Complete finishes a running or paused step. Banked time is dropped:
// a completed step reads as its full duration, and a later reset
// starts from scratch.
func (s *TreatmentStep) Complete() bool {
	if s.Status != StepRunning && s.Status != StepPaused {
		return false
	}
	s.Status = StepCompleted
	s.StartedAt = nil
	s.AccumulatedSeconds = 0
	return true
}

// Reset returns a completed step to pending.
func (s *TreatmentStep) Reset() bool {
	if s.Status != StepCompleted {
		return false
	}
	s.Status = StepPending
	s.StartedAt = nil
	s.AccumulatedSeconds = 0
	return true
}

// AdjustDuration shifts the planned duration by delta minutes,
// clamped to a minimum of one. Refused while running or completed.
func (s *TreatmentStep) AdjustDuration(delta int) bool {
	if s.Status == StepRunning || s.Status == StepCompleted {
		return false
	}
	s.DurationMinutes += delta
	if s.DurationMinutes < 1 {
		s.DurationMinutes = 1
	}
	return true
}

// SetDuration replaces the planned duration outright, same rules as
// AdjustDuration.
func (s *TreatmentStep) SetDuration(minutes int) bool {
	if s.Status == StepRunning || s.Status == StepCompleted {
		return false
	}
	if minutes < 1 {
		minutes = 1
	}
	s.DurationMinutes = minutes
	return true
}

// Deletable reports whether the step may be removed from its session.
// Anything that has run carries record-keeping weight and stays.
func (s *TreatmentStep) Deletable() bool {
	return s.Status == StepPending
}

// Clone returns a deep copy of the step.
func (s *TreatmentStep) Clone() TreatmentStep {
	out := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	return out
}
