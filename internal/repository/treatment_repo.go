package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clinicdesk/internal/model"
)

// TreatmentRepo reads the configured treatment catalogue and a
// patient's saved default treatment list. Both are read-only here;
// editing them belongs to the clinic's configuration surfaces.
type TreatmentRepo interface {
	Catalogue(ctx context.Context) ([]model.CatalogueEntry, error)
	DefaultsForPatient(ctx context.Context, patientID string) ([]model.DefaultTreatment, error)
}

type treatmentRepo struct {
	catalogue *mongo.Collection
	patients  *mongo.Collection
}

func NewTreatmentRepo(db *mongo.Database) TreatmentRepo {
	return &treatmentRepo{
		catalogue: db.Collection("treatment_catalogue"),
		patients:  db.Collection("patients"),
	}
}

func (r *treatmentRepo) Catalogue(ctx context.Context) ([]model.CatalogueEntry, error) {
	cur, err := r.catalogue.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []model.CatalogueEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *treatmentRepo) DefaultsForPatient(ctx context.Context, patientID string) ([]model.DefaultTreatment, error) {
	var doc struct {
		DefaultTreatments []model.DefaultTreatment `bson:"defaultTreatments"`
	}
	err := r.patients.FindOne(ctx, bson.M{"_id": patientID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.DefaultTreatments, nil
}
