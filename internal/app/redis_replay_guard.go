/**
 * @description
 * Best-effort Redis guard that remembers recently settled correlation ids so
 * gateway redeliveries can be short-circuited before touching the database.
 * This is an optimization only: the compare-and-set transition on the
 * payments row remains the correctness guarantee, and any Redis failure
 * degrades to a plain database lookup.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayGuardTTL = 24 * time.Hour

// ReplayGuard remembers correlation ids whose processing already finished.
type ReplayGuard interface {
	// Seen reports whether the correlation id was recently settled, along
	// with the terminal status recorded for it.
	Seen(ctx context.Context, gateway, correlationID string) (string, bool)
	// Remember records a terminal status for a correlation id.
	Remember(ctx context.Context, gateway, correlationID, status string)
}

// RedisReplayGuard implements ReplayGuard on a shared Redis instance.
type RedisReplayGuard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisReplayGuard creates a guard with the given key prefix.
func NewRedisReplayGuard(client redis.UniversalClient, prefix string) *RedisReplayGuard {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "lipabooks:replay_guard"
	}
	return &RedisReplayGuard{client: client, prefix: strings.TrimSuffix(trimmed, ":")}
}

func (g *RedisReplayGuard) key(gateway, correlationID string) string {
	return fmt.Sprintf("%s:%s:%s", g.prefix, gateway, correlationID)
}

// Seen returns the remembered terminal status, if any. Errors are swallowed;
// a Redis outage must never affect reconciliation.
func (g *RedisReplayGuard) Seen(ctx context.Context, gateway, correlationID string) (string, bool) {
	if g == nil || g.client == nil {
		return "", false
	}
	status, err := g.client.Get(ctx, g.key(gateway, correlationID)).Result()
	if err != nil {
		return "", false
	}
	return status, status != ""
}

// Remember stores the terminal status with a bounded TTL.
func (g *RedisReplayGuard) Remember(ctx context.Context, gateway, correlationID, status string) {
	if g == nil || g.client == nil {
		return
	}
	// Best effort; the error is intentionally discarded.
	g.client.Set(ctx, g.key(gateway, correlationID), status, replayGuardTTL)
}
