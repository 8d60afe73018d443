package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clinicdesk/internal/model"
)

// RoomRepo is the system-of-record boundary for bay and step state.
// Writes are best-effort from the engine's point of view: failures
// are logged by the caller and healed by the next reconciliation.
type RoomRepo interface {
	// Snapshot is the full authoritative read used by reconciliation.
	Snapshot(ctx context.Context) ([]model.Room, error)
	// UpdateFields patches a room's mutated fields.
	UpdateFields(ctx context.Context, roomID string, fields map[string]interface{}) error
	// ReplaceSteps bulk-upserts a session's full step list.
	ReplaceSteps(ctx context.Context, roomID, sessionID string, steps []model.TreatmentStep) error
	// ClearSession resets the persisted room to the given bay status
	// and drops its session fields and step rows on vacate.
	ClearSession(ctx context.Context, roomID string, status model.BayStatus) error
}

type roomRepo struct {
	rooms *mongo.Collection
}

func NewRoomRepo(db *mongo.Database) RoomRepo {
	return &roomRepo{
		rooms: db.Collection("treatment_rooms"),
	}
}

func (r *roomRepo) Snapshot(ctx context.Context) ([]model.Room, error) {
	cur, err := r.rooms.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rooms []model.Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepo) UpdateFields(ctx context.Context, roomID string, fields map[string]interface{}) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	set["updatedAt"] = time.Now()
	_, err := r.rooms.UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{"$set": set})
	return err
}

func (r *roomRepo) ReplaceSteps(ctx context.Context, roomID, sessionID string, steps []model.TreatmentStep) error {
	if steps == nil {
		steps = []model.TreatmentStep{}
	}
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID, "sessionId": sessionID},
		bson.M{"$set": bson.M{"steps": steps, "updatedAt": time.Now()}})
	return err
}

func (r *roomRepo) ClearSession(ctx context.Context, roomID string, status model.BayStatus) error {
	_, err := r.rooms.UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{
		"$set": bson.M{
			"bayStatus": status,
			"steps":     []model.TreatmentStep{},
			"updatedAt": time.Now(),
		},
		"$unset": bson.M{
			"sessionId":  "",
			"patient":    "",
			"occupiedAt": "",
		},
	})
	return err
}
