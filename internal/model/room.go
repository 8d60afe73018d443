package model

import "time"

type BayStatus string

const (
	BayAvailable     BayStatus = "available"
	BayOccupied      BayStatus = "occupied"
	BayNeedsCleaning BayStatus = "needs_cleaning"
	BayCleaning      BayStatus = "cleaning"
)

// PatientRef identifies the patient currently assigned to a bay.
type PatientRef struct {
	ID    string `json:"id" bson:"id"`
	Name  string `json:"name" bson:"name"`
	Chart string `json:"chart,omitempty" bson:"chart,omitempty"`
}

// Room is one physical treatment bay. SessionID and Patient are set
// only while the bay is occupied; Steps is non-empty only while
// occupied and is cleared on vacate.
type Room struct {
	ID         string          `json:"id" bson:"_id"`
	Name       string          `json:"name" bson:"name"`
	BayStatus  BayStatus       `json:"bayStatus" bson:"bayStatus"`
	SessionID  string          `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	Patient    *PatientRef     `json:"patient,omitempty" bson:"patient,omitempty"`
	Steps      []TreatmentStep `json:"steps" bson:"steps"`
	OccupiedAt *time.Time      `json:"occupiedAt,omitempty" bson:"occupiedAt,omitempty"`
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() Room {
	out := *r
	if r.Patient != nil {
		p := *r.Patient
		out.Patient = &p
	}
	if r.OccupiedAt != nil {
		t := *r.OccupiedAt
		out.OccupiedAt = &t
	}
	if r.Steps != nil {
		out.Steps = make([]TreatmentStep, len(r.Steps))
		for i := range r.Steps {
			out.Steps[i] = r.Steps[i].Clone()
		}
	}
	return out
}

// StepByID returns the step with the given id, or nil.
func (r *Room) StepByID(stepID string) *TreatmentStep {
	for i := range r.Steps {
		if r.Steps[i].ID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}
