package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// BillingQueue hands finished sessions to the billing/queue module.
// The engine enqueues and forgets; the front-billing service consumes
// the list on its own schedule.
type BillingQueue interface {
	SessionFinished(ctx context.Context, patientID string) error
	Pending(ctx context.Context) (int64, error)
}

type billingQueue struct {
	client *redis.Client
	key    string
}

// NewBillingQueue creates a new billing queue
func NewBillingQueue(client *redis.Client) BillingQueue {
	return &billingQueue{
		client: client,
		key:    "billing:queue",
	}
}

type billingEntry struct {
	PatientID  string    `json:"patientId"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (q *billingQueue) SessionFinished(ctx context.Context, patientID string) error {
	data, err := json.Marshal(billingEntry{
		PatientID:  patientID,
		FinishedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *billingQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
