package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client)
}

func TestMemoryOnlyPayloadRoundTrip(t *testing.T) {
	s := &Store{mem: newMemoryTier()}
	ctx := context.Background()

	if _, ok := s.GetPayload(ctx, "cma", "R001", time.Minute); ok {
		t.Fatalf("expected miss before set")
	}

	s.SetPayload(ctx, "cma", "R001", []byte(`{"ok":true}`), time.Minute)

	data, ok := s.GetPayload(ctx, "cma", "R001", time.Minute)
	if !ok {
		t.Fatalf("expected hit after set")
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected payload: %s", data)
	}
}

func TestRedisBackedPayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetPayload(ctx, "amap", "R002", []byte("payload"), time.Minute)

	// Wipe the in-memory tier to force a Redis read.
	s.mem = newMemoryTier()

	data, ok := s.GetPayload(ctx, "amap", "R002", time.Minute)
	if !ok {
		t.Fatalf("expected hit from redis tier")
	}
	if string(data) != "payload" {
		t.Errorf("unexpected payload: %s", data)
	}
}

func TestWUKeyStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok := s.GetWUKeyState(ctx); ok {
		t.Fatalf("expected no key state initially")
	}

	st := WUKeyState{ActiveKey: "abc123", DiscoveredAt: time.Now()}
	if err := s.SetWUKeyState(ctx, st, time.Hour); err != nil {
		t.Fatalf("set key state: %v", err)
	}

	got, ok := s.GetWUKeyState(ctx)
	if !ok {
		t.Fatalf("expected key state after set")
	}
	if got.ActiveKey != "abc123" || got.Invalidated {
		t.Errorf("unexpected state: %+v", got)
	}

	if err := s.InvalidateWUKey(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, _ = s.GetWUKeyState(ctx)
	if !got.Invalidated {
		t.Errorf("expected invalidated state")
	}
}

func TestLockAcquireHeartbeatRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := LockState{RequestID: "req-1", Mode: "fast", StartedAt: time.Now(), HeartbeatAt: time.Now()}
	ok, err := s.AcquireLock(ctx, state, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = s.AcquireLock(ctx, LockState{RequestID: "req-2"}, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to be rejected while held")
	}

	if err := s.Heartbeat(ctx, "req-1", time.Minute); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got, ok := s.GetLock(ctx)
	if !ok || got.RequestID != "req-1" {
		t.Fatalf("expected lock held by req-1, got %+v ok=%v", got, ok)
	}

	if err := s.ReleaseLock(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := s.GetLock(ctx); ok {
		t.Fatalf("expected no lock after release")
	}
}

func TestLockIsStale(t *testing.T) {
	fresh := LockState{HeartbeatAt: time.Now()}
	if fresh.IsStale(90 * time.Second) {
		t.Errorf("expected fresh heartbeat to not be stale")
	}

	stale := LockState{HeartbeatAt: time.Now().Add(-2 * time.Minute)}
	if !stale.IsStale(90 * time.Second) {
		t.Errorf("expected old heartbeat to be stale")
	}
}

func TestClearPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetPayload(ctx, "weather_scraper", "R001", []byte("a"), time.Minute)
	s.SetPayload(ctx, "weather_scraper", "R002", []byte("b"), time.Minute)
	s.SetPayload(ctx, "weather_cma", "R001", []byte("c"), time.Minute)

	if err := s.ClearPrefix(ctx, "payload:weather_scraper"); err != nil {
		t.Fatalf("clear prefix: %v", err)
	}

	if _, ok := s.GetPayload(ctx, "weather_scraper", "R001", time.Minute); ok {
		t.Errorf("expected weather_scraper:R001 cleared")
	}
	if _, ok := s.GetPayload(ctx, "weather_scraper", "R002", time.Minute); ok {
		t.Errorf("expected weather_scraper:R002 cleared")
	}
	if _, ok := s.GetPayload(ctx, "weather_cma", "R001", time.Minute); !ok {
		t.Errorf("expected weather_cma:R001 to survive the scraper prefix clear")
	}
}

func TestForceAcquireLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := LockState{RequestID: "req-1", HeartbeatAt: time.Now().Add(-5 * time.Minute)}
	if _, err := s.AcquireLock(ctx, first, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	second := LockState{RequestID: "req-2", HeartbeatAt: time.Now()}
	if err := s.ForceAcquireLock(ctx, second, time.Minute); err != nil {
		t.Fatalf("force acquire: %v", err)
	}

	got, ok := s.GetLock(ctx)
	if !ok || got.RequestID != "req-2" {
		t.Fatalf("expected eviction to req-2, got %+v", got)
	}
}
