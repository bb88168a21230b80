package trail

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisMirror pushes the latest driver position into Redis GEO so other
// processes (analytics, ops tooling) can read it. Writes are best-effort;
// the in-memory History stays authoritative.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Upsert(ctx context.Context, driverID string, loc models.Location, online bool) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: driverID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"online":  strconv.FormatBool(online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisMirror) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
