package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clinicdesk/internal/model"
)

// CatalogueCache keeps the configured treatment catalogue close to
// the "add step" and seeding paths. Entries change rarely, through
// clinic configuration, so a short TTL is enough.
type CatalogueCache interface {
	Get(ctx context.Context) ([]model.CatalogueEntry, error)
	Set(ctx context.Context, entries []model.CatalogueEntry) error
	Invalidate(ctx context.Context) error
}

type catalogueCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCatalogueCache creates a new catalogue cache
func NewCatalogueCache(client *redis.Client) CatalogueCache {
	return &catalogueCache{
		client: client,
		ttl:    10 * time.Minute,
	}
}

func (c *catalogueCache) key() string {
	return fmt.Sprintf("catalogue:%s", "treatments")
}

func (c *catalogueCache) Get(ctx context.Context) ([]model.CatalogueEntry, error) {
	data, err := c.client.Get(ctx, c.key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []model.CatalogueEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *catalogueCache) Set(ctx context.Context, entries []model.CatalogueEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(), data, c.ttl).Err()
}

func (c *catalogueCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key()).Err()
}
