// Package cache implements C3, the Cache & Credential Store: a two-tier
// (in-memory + durable Redis-backed) cache for source payloads and
// credential state, plus the run:lock durable keyspace used by the Run
// Controller (§4.3).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/metrics"
)

// Key prefixes for the durable keyspace (§4.3).
const (
	prefixPayload = "payload"
	prefixWUKey   = "wu:key"
	prefixRunLock = "run:lock"
)

// Store is the two-tier cache: an in-memory layer checked first, backed by
// a durable Redis layer so payloads and credential state survive process
// restarts.
type Store struct {
	mem   *memoryTier
	redis *redis.Client
}

// New connects to redisURL and wires it behind the in-memory tier. An empty
// redisURL runs memory-only, which integration and unit tests rely on.
func New(redisURL string) (*Store, error) {
	s := &Store{mem: newMemoryTier()}
	if redisURL == "" {
		return s, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s.redis = client
	return s, nil
}

// NewWithClient wires a pre-constructed Redis client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{mem: newMemoryTier(), redis: client}
}

func (s *Store) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func payloadKey(source, regionCode string) string {
	return fmt.Sprintf("%s:%s:%s", prefixPayload, source, regionCode)
}

// GetPayload reads a cached raw payload for (source, regionCode), checking
// the in-memory tier before falling through to Redis. Returns ok=false on a
// clean miss in either tier.
func (s *Store) GetPayload(ctx context.Context, source, regionCode string, ttl time.Duration) (data []byte, ok bool) {
	key := payloadKey(source, regionCode)

	if data, ok := s.mem.get(key); ok {
		metrics.RecordCacheHit(source, true)
		return data, true
	}

	if s.redis == nil {
		metrics.RecordCacheHit(source, false)
		return nil, false
	}

	val, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("cache redis get failed", "key", key, "error", err)
		}
		metrics.RecordCacheHit(source, false)
		return nil, false
	}

	s.mem.set(key, val, ttl)
	metrics.RecordCacheHit(source, true)
	return val, true
}

// SetPayload stores a raw payload in both tiers with the given TTL.
func (s *Store) SetPayload(ctx context.Context, source, regionCode string, data []byte, ttl time.Duration) {
	key := payloadKey(source, regionCode)
	s.mem.set(key, data, ttl)

	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warn("cache redis set failed", "key", key, "error", err)
	}
}

// ClearPrefix invalidates both tiers for every key matching prefix* (§4.3).
// The in-memory tier is scanned directly; the durable tier uses Redis SCAN
// to avoid blocking on a KEYS call, the same idiom the teacher's rate
// limiter manager uses for ListEndpointUsage.
func (s *Store) ClearPrefix(ctx context.Context, prefix string) error {
	s.mem.deletePrefix(prefix)

	if s.redis == nil {
		return nil
	}

	pattern := prefix + "*"
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// WUKeyState is the credential state tracked for the Weather Underground
// key-discovery source (§4.1): the active key plus when it was discovered
// and whether it has been invalidated by an auth failure.
type WUKeyState struct {
	ActiveKey    string    `json:"active_key"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Invalidated  bool      `json:"invalidated"`
}

// GetWUKeyState reads the current WU credential state, if any.
func (s *Store) GetWUKeyState(ctx context.Context) (*WUKeyState, bool) {
	if s.redis == nil {
		if raw, ok := s.mem.get(prefixWUKey); ok {
			var st WUKeyState
			if json.Unmarshal(raw, &st) == nil {
				return &st, true
			}
		}
		return nil, false
	}

	raw, err := s.redis.Get(ctx, prefixWUKey).Bytes()
	if err != nil {
		return nil, false
	}
	var st WUKeyState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false
	}
	return &st, true
}

// SetWUKeyState persists the WU credential state, with the given refresh
// period as TTL so a stale, never-refreshed key naturally expires.
func (s *Store) SetWUKeyState(ctx context.Context, st WUKeyState, ttl time.Duration) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mem.set(prefixWUKey, raw, ttl)
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, prefixWUKey, raw, ttl).Err()
}

// InvalidateWUKey marks the current key invalidated so the source forces a
// key-discovery round on its next fetch (§4.1 auth_failed handling).
func (s *Store) InvalidateWUKey(ctx context.Context) error {
	st, ok := s.GetWUKeyState(ctx)
	if !ok {
		return nil
	}
	st.Invalidated = true
	return s.SetWUKeyState(ctx, *st, time.Until(st.DiscoveredAt.Add(24*time.Hour)))
}

// memoryTier is a simple TTL-expiring in-memory map, the first tier checked
// on every lookup.
type memoryTier struct {
	mu    sync.RWMutex
	items map[string]memEntry
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

func newMemoryTier() *memoryTier {
	return &memoryTier{items: make(map[string]memEntry)}
}

func (m *memoryTier) get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false
	}
	return entry.data, true
}

func (m *memoryTier) deletePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
}

func (m *memoryTier) set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	m.mu.Lock()
	m.items[key] = memEntry{data: data, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// setNX sets key only if absent or expired, returning whether it won.
func (m *memoryTier) setNX(key string, data []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = time.Minute
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.items[key]; ok && time.Now().Before(entry.expiresAt) {
		return false
	}
	m.items[key] = memEntry{data: data, expiresAt: time.Now().Add(ttl)}
	return true
}

func (m *memoryTier) del(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}
