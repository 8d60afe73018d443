package model

// CatalogueEntry is one configured treatment type offered by the
// clinic. Labels are configuration, not code.
type CatalogueEntry struct {
	Name                   string `json:"name" bson:"name"`
	DefaultDurationMinutes int    `json:"defaultDurationMinutes" bson:"defaultDurationMinutes"`
}

// DefaultTreatment is one entry of a patient's saved default
// treatment list, used to seed a new session.
type DefaultTreatment struct {
	Name            string `json:"name" bson:"name"`
	DurationMinutes int    `json:"durationMinutes" bson:"durationMinutes"`
	Memo            string `json:"memo,omitempty" bson:"memo,omitempty"`
}
