package budget

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisAccumulator is a cross-process sessionAccumulator backed by Redis, for
// deployments running more than one gateway replica. Grounded in
// Sergey-Bar-Alfred's redisclient/redis.go connection/pooling idiom and
// itsneelabh-gomind's Redis-backed session-state pattern (SPEC_FULL.md §11).
// It is additive: selecting it does not change the preflight/postCommit
// contract in spec.md §4.4, only where the running total lives.
type RedisAccumulator struct {
	client *redis.Client
	prefix string
}

// NewRedisAccumulator wraps an existing *redis.Client. Keys are namespaced
// "<prefix>session:<sessionId>:cost:total", matching the persistence layout
// key shape from spec.md §6.
func NewRedisAccumulator(client *redis.Client, prefix string) *RedisAccumulator {
	return &RedisAccumulator{client: client, prefix: prefix}
}

func (a *RedisAccumulator) key(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:cost:total", a.prefix, sessionID)
}

func (a *RedisAccumulator) Get(ctx context.Context, sessionID string) (float64, error) {
	v, err := a.client.Get(ctx, a.key(sessionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get session cost: %w", err)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse session cost: %w", err)
	}
	return f, nil
}

// Add applies an atomic INCRBYFLOAT, avoiding the read-modify-write race a
// plain Get+Set would have across replicas.
func (a *RedisAccumulator) Add(ctx context.Context, sessionID string, delta float64) (float64, error) {
	total, err := a.client.IncrByFloat(ctx, a.key(sessionID), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrbyfloat session cost: %w", err)
	}
	return total, nil
}

// Load scans every "<prefix>session:*:cost:total" key and returns the full
// set keyed by session id, for OQ2 boot-time reconciliation callers that
// want to compare against a re-aggregated ledger total.
func (a *RedisAccumulator) Load(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	keyPrefix := a.prefix + "session:"
	pattern := keyPrefix + "*:cost:total"
	iter := a.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := a.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), ":cost:total")] = f
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan session costs: %w", err)
	}
	return out, nil
}
