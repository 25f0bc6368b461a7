package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ProgressKey is the redis key a backfill procedure writes its percent
// complete to (0-100) for a given run.
func ProgressKey(runID string) string {
	return "migrate:backfill:" + runID
}

// ProgressReader reads the best-effort progress channel a backfill
// procedure publishes to. The monitor tolerates an absent or stale
// channel and falls back to its wall-clock timeout.
type ProgressReader interface {
	// Percent returns the reported progress and whether any value was
	// present at all.
	Percent(ctx context.Context, runID string) (float64, bool, error)
}

// RedisClient is the subset of go-redis client methods used by
// RedisProgress. Keeping it as an interface enables mocking in tests.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisProgress reads progress percent from redis, where the shell
// tooling this replaces conventionally stores it.
type RedisProgress struct {
	client RedisClient
}

// Compile-time check that RedisProgress implements ProgressReader.
var _ ProgressReader = (*RedisProgress)(nil)

// NewRedisProgress creates a progress reader over the given client.
func NewRedisProgress(client RedisClient) *RedisProgress {
	return &RedisProgress{client: client}
}

// Percent reads the progress key. A missing key is not an error; the
// backfill may not have published yet.
func (p *RedisProgress) Percent(ctx context.Context, runID string) (float64, bool, error) {
	val, err := p.client.Get(ctx, ProgressKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read backfill progress: %w", err)
	}

	pct, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed backfill progress %q: %w", val, err)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true, nil
}
