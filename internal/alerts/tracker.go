// Package alerts provides rejection trackers backing the repeated-rejection alert.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

const (
	// DefaultWindow is the counting window used when none is configured.
	DefaultWindow = 15 * time.Minute

	keyPrefix = "transfer-engine:rejections"
)

// recordSource increments the counter and gives it a TTL in the same server-side step.
// A counter found without a TTL gets one too, so every window eventually resets.
const recordSource = `
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

var recordScript = redis.NewScript(recordSource)

// RedisTracker counts rejections in Redis so that every engine instance shares the window.
// The window is fixed: it starts with the first rejection and expires with the key.
type RedisTracker struct {
	client *redis.Client
	window time.Duration
}

var _ domain.RejectionTracker = (*RedisTracker)(nil)

// NewRedisTracker creates a tracker over an existing client.
func NewRedisTracker(client *redis.Client, window time.Duration) *RedisTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisTracker{client: client, window: window}
}

// Record increments the counter for the account and reason.
func (t *RedisTracker) Record(ctx context.Context, accountID uuid.UUID, reason domain.Reason) (int64, error) {
	key := Key(accountID, reason)

	count, err := recordScript.Eval(ctx, t.client, []string{key}, t.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to record rejection in %s: %w", key, err)
	}
	return count, nil
}

// Ping checks that Redis is reachable.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Key returns the Redis key holding the counter for an account and reason.
func Key(accountID uuid.UUID, reason domain.Reason) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, reason, accountID)
}

// MemoryTracker is a process-local tracker used when Redis is not configured.
type MemoryTracker struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]*windowCount
}

type windowCount struct {
	count   int64
	expires time.Time
}

var _ domain.RejectionTracker = (*MemoryTracker)(nil)

// NewMemoryTracker creates an in-memory tracker. now may be nil.
func NewMemoryTracker(window time.Duration, now func() time.Time) *MemoryTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{
		window:  window,
		now:     now,
		entries: make(map[string]*windowCount),
	}
}

// Record increments the counter for the account and reason.
func (t *MemoryTracker) Record(_ context.Context, accountID uuid.UUID, reason domain.Reason) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := Key(accountID, reason)

	entry, ok := t.entries[key]
	if !ok || !now.Before(entry.expires) {
		entry = &windowCount{expires: now.Add(t.window)}
		t.entries[key] = entry
	}
	entry.count++

	// Drop expired windows so the map does not grow without bound
	for k, e := range t.entries {
		if !now.Before(e.expires) {
			delete(t.entries, k)
		}
	}

	return entry.count, nil
}
