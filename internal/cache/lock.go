package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/terrarisk/hazardengine/internal/models"
)

// LockState is the durable form of the fields RunState needs to enforce
// single-flight locking across process restarts (§3 RunState, §4.5).
type LockState struct {
	RequestID   string    `json:"request_id"`
	Mode        string    `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// AcquireLock attempts to atomically create run:lock. Returns ok=false if a
// lock is already held (caller must then inspect it via GetLock and decide
// whether to evict a stale holder).
func (s *Store) AcquireLock(ctx context.Context, state LockState, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return false, err
	}

	if s.redis == nil {
		return s.mem.setNX(prefixRunLock, raw, ttl), nil
	}

	ok, err := s.redis.SetNX(ctx, prefixRunLock, raw, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// GetLock reads the current lock holder, if any.
func (s *Store) GetLock(ctx context.Context) (*LockState, bool) {
	var raw []byte
	var ok bool
	if s.redis == nil {
		raw, ok = s.mem.get(prefixRunLock)
	} else {
		v, err := s.redis.Get(ctx, prefixRunLock).Bytes()
		if err == nil {
			raw, ok = v, true
		}
	}
	if !ok {
		return nil, false
	}
	var st LockState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false
	}
	return &st, true
}

// Heartbeat refreshes heartbeat_at on the held lock (§4.5: "the running
// task updates heartbeat_at on each batch boundary").
func (s *Store) Heartbeat(ctx context.Context, requestID string, ttl time.Duration) error {
	st, ok := s.GetLock(ctx)
	if !ok || st.RequestID != requestID {
		return nil
	}
	st.HeartbeatAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mem.set(prefixRunLock, raw, ttl)
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, prefixRunLock, raw, ttl).Err()
}

// ForceAcquireLock overwrites run:lock unconditionally, used to evict a
// holder whose heartbeat has gone stale past the configured timeout, or by
// the reset() control operation (§6).
func (s *Store) ForceAcquireLock(ctx context.Context, state LockState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mem.set(prefixRunLock, raw, ttl)
	if s.redis == nil {
		return nil
	}
	return s.redis.Set(ctx, prefixRunLock, raw, ttl).Err()
}

// ReleaseLock clears run:lock unconditionally (finalization, §4.5).
func (s *Store) ReleaseLock(ctx context.Context) error {
	s.mem.del(prefixRunLock)
	if s.redis == nil {
		return nil
	}
	err := s.redis.Del(ctx, prefixRunLock).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// IsStale reports whether a lock's heartbeat is older than timeout (§3
// invariant v, §4.5).
func (l LockState) IsStale(timeout time.Duration) bool {
	return time.Since(l.HeartbeatAt) > timeout
}

// HeartbeatLostErrorTag is the RunError tag for a holder whose heartbeat went
// stale (§4.5). Evicting such a holder (runcontrol.Trigger) logs the eviction
// but does not write this tag into any RunState.LastError.
const HeartbeatLostErrorTag = models.RunErrHeartbeatLost
