package alerts

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"spendwise-hq/meter/pkg/config"
)

// ThresholdStore records which thresholds have fired for a scope in a
// period. MarkFired is an atomic check-and-set: among concurrent callers
// for the same key exactly one observes true.
type ThresholdStore interface {
	// MarkFired records threshold as fired for (scope, periodStart) and
	// reports whether this call recorded it. The record may be dropped
	// after expires.
	MarkFired(ctx context.Context, scope string, periodStart time.Time, threshold int, expires time.Time) (bool, error)

	// Release forgets one threshold of (scope, periodStart) so that it
	// can fire again.
	Release(ctx context.Context, scope string, periodStart time.Time, threshold int) error

	// Clear forgets every threshold of (scope, periodStart).
	Clear(ctx context.Context, scope string, periodStart time.Time) error
}

// BudgetScope returns the store scope of a budget's thresholds.
func BudgetScope(budgetID string) string {
	return "budget:" + budgetID
}

// LimitScope returns the store scope of an organization's spend-limit
// breaches, kept apart from every budget scope.
func LimitScope(orgID string) string {
	return "limit:" + orgID
}

// MemoryStore is a process-local ThresholdStore.
type MemoryStore struct {
	mu      sync.Mutex
	fired   map[string]map[int]struct{}
	expires map[string]time.Time
	now     func() time.Time
}

// StoreOption configures a ThresholdStore.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock sets the clock records are expired against. It should be the
// clock that computes the period bounds. Defaults to time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o := applyStoreOptions(opts)
	return &MemoryStore{
		fired:   make(map[string]map[int]struct{}),
		expires: make(map[string]time.Time),
		now:     o.now,
	}
}

func memoryKey(scope string, periodStart time.Time) string {
	return scope + "@" + strconv.FormatInt(periodStart.Unix(), 10)
}

// MarkFired implements ThresholdStore.
func (m *MemoryStore) MarkFired(ctx context.Context, scope string, periodStart time.Time, threshold int, expires time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	key := memoryKey(scope, periodStart)
	set, ok := m.fired[key]
	if !ok {
		set = make(map[int]struct{})
		m.fired[key] = set
	}
	if _, done := set[threshold]; done {
		return false, nil
	}
	set[threshold] = struct{}{}
	if expires.After(m.expires[key]) {
		m.expires[key] = expires
	}
	return true, nil
}

// Release implements ThresholdStore.
func (m *MemoryStore) Release(ctx context.Context, scope string, periodStart time.Time, threshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.fired[memoryKey(scope, periodStart)]; ok {
		delete(set, threshold)
	}
	return nil
}

// Clear implements ThresholdStore.
func (m *MemoryStore) Clear(ctx context.Context, scope string, periodStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(scope, periodStart)
	delete(m.fired, key)
	delete(m.expires, key)
	return nil
}

func (m *MemoryStore) pruneLocked() {
	now := m.now()
	for key, exp := range m.expires {
		if !exp.IsZero() && now.After(exp) {
			delete(m.fired, key)
			delete(m.expires, key)
		}
	}
}

// RedisStore is a ThresholdStore shared by every replica through Redis.
// Each (scope, period) is one hash keyed
// <prefix>:alert:<scope>:<periodStartUnix>; HSETNX on the threshold field
// provides the check-and-set and the hash expires after the period.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string, opts ...StoreOption) *RedisStore {
	if prefix == "" {
		prefix = config.DefaultRedisKeyPrefix
	}
	o := applyStoreOptions(opts)
	return &RedisStore{client: client, prefix: prefix, now: o.now}
}

// NewRedisClient creates a client from the alerts configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (r *RedisStore) key(scope string, periodStart time.Time) string {
	return fmt.Sprintf("%s:alert:%s:%d", r.prefix, scope, periodStart.Unix())
}

// MarkFired implements ThresholdStore.
func (r *RedisStore) MarkFired(ctx context.Context, scope string, periodStart time.Time, threshold int, expires time.Time) (bool, error) {
	key := r.key(scope, periodStart)

	var set *redis.BoolCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.HSetNX(ctx, key, strconv.Itoa(threshold), r.now().Unix())
		// EXPIREAT in the past deletes the key, which would let the
		// threshold fire again.
		if expires.After(r.now()) {
			pipe.ExpireAt(ctx, key, expires)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark threshold %d for %s: %w", threshold, scope, err)
	}
	return set.Val(), nil
}

// Release implements ThresholdStore.
func (r *RedisStore) Release(ctx context.Context, scope string, periodStart time.Time, threshold int) error {
	if err := r.client.HDel(ctx, r.key(scope, periodStart), strconv.Itoa(threshold)).Err(); err != nil {
		return fmt.Errorf("failed to release threshold %d for %s: %w", threshold, scope, err)
	}
	return nil
}

// Clear implements ThresholdStore.
func (r *RedisStore) Clear(ctx context.Context, scope string, periodStart time.Time) error {
	if err := r.client.Del(ctx, r.key(scope, periodStart)).Err(); err != nil {
		return fmt.Errorf("failed to clear thresholds for %s: %w", scope, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
