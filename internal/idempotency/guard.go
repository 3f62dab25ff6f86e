// Package idempotency provides the cross-process guard consulted before
// any effectful order workflow. The guard is always checked first; when
// its backing store is unreachable the caller fails closed rather than
// risking a duplicate order.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ksred/ledger-api/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Acquire outcomes
type State string

const (
	StateAcquired   State = "acquired"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Result is the cached terminal outcome of a workflow keyed by an
// idempotency key.
type Result struct {
	Succeeded bool   `json:"succeeded"`
	OrderID   string `json:"order_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Acquisition is the answer to an Acquire call. Exactly one of the three
// states applies: the caller holds the key, another holder is executing,
// or a prior holder finished and Result carries its outcome.
type Acquisition struct {
	State  State
	Result *Result
}

// Guard is the idempotency contract the orchestrator depends on.
type Guard interface {
	// Acquire claims the key for the caller or reports why it cannot.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Acquisition, error)
	// Complete records the terminal result so future acquires replay it.
	Complete(ctx context.Context, key string, result Result, ttl time.Duration) error
	// ReleaseFailed clears an in-progress record so a retry does not have
	// to wait out the TTL.
	ReleaseFailed(ctx context.Context, key string) error
}

const inProgressMarker = "IN_PROGRESS"

// RedisGuard implements Guard on a shared redis, the only cross-process
// mutual-exclusion mechanism in the system.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) key(key string) string {
	return fmt.Sprintf("%s:%s", g.prefix, key)
}

// acquireScript claims the key atomically: set the marker when absent,
// otherwise return whatever is stored so the caller can classify it.
const acquireScript = `
local val = redis.call("get", KEYS[1])
if not val then
	redis.call("set", KEYS[1], ARGV[1], "EX", ARGV[2])
	return "OK"
end
return val
`

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (*Acquisition, error) {
	fullKey := g.key(key)

	res, err := g.client.Eval(ctx, acquireScript, []string{fullKey}, inProgressMarker, int(ttl.Seconds())).Result()
	if err != nil {
		log.Error().Err(err).Str("key", fullKey).Msg("idempotency store unreachable")
		return nil, &types.DependencyUnavailableError{Dependency: "idempotency store", Err: err}
	}

	raw, ok := res.(string)
	if !ok {
		return nil, &types.DependencyUnavailableError{
			Dependency: "idempotency store",
			Err:        fmt.Errorf("unexpected reply type %T", res),
		}
	}

	switch raw {
	case "OK":
		return &Acquisition{State: StateAcquired}, nil
	case inProgressMarker:
		log.Warn().Str("key", fullKey).Msg("duplicate request while in progress")
		return &Acquisition{State: StateInProgress}, nil
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &types.DependencyUnavailableError{
			Dependency: "idempotency store",
			Err:        fmt.Errorf("corrupt cached result: %w", err),
		}
	}
	return &Acquisition{State: StateCompleted, Result: &result}, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key string, result Result, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := g.client.Set(ctx, g.key(key), string(data), ttl).Err(); err != nil {
		return &types.DependencyUnavailableError{Dependency: "idempotency store", Err: err}
	}
	return nil
}

func (g *RedisGuard) ReleaseFailed(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.key(key)).Err(); err != nil {
		return &types.DependencyUnavailableError{Dependency: "idempotency store", Err: err}
	}
	return nil
}
