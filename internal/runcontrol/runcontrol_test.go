package runcontrol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/terrarisk/hazardengine/internal/cache"
	"github.com/terrarisk/hazardengine/internal/models"
	"github.com/terrarisk/hazardengine/internal/publisher"
)

type fakeLock struct {
	mu    sync.Mutex
	held  *cache.LockState
	acquireErr error
}

func (f *fakeLock) AcquireLock(ctx context.Context, state cache.LockState, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held != nil {
		return false, nil
	}
	s := state
	f.held = &s
	return true, nil
}

func (f *fakeLock) GetLock(ctx context.Context) (*cache.LockState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		return nil, false
	}
	s := *f.held
	return &s, true
}

func (f *fakeLock) Heartbeat(ctx context.Context, requestID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held != nil && f.held.RequestID == requestID {
		f.held.HeartbeatAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeLock) ForceAcquireLock(ctx context.Context, state cache.LockState, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := state
	f.held = &s
	return nil
}

func (f *fakeLock) ReleaseLock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = nil
	return nil
}

type fakeStore struct {
	regions   []models.Region
	committed [][]models.Decision
	commitErr error
	mu        sync.Mutex
}

func (f *fakeStore) ListRegions(ctx context.Context) ([]models.Region, error) {
	return f.regions, nil
}

func (f *fakeStore) CommitBatch(ctx context.Context, decisions []models.Decision, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, decisions)
	return nil
}

type fakeCollector struct{}

func (fakeCollector) Collect(ctx context.Context, regions []models.RegionInput) []*models.CollectionResult {
	results := make([]*models.CollectionResult, len(regions))
	for i, r := range regions {
		results[i] = &models.CollectionResult{RegionCode: r.Code, RegionName: r.Name}
	}
	return results
}

type fakeFuser struct{}

func (fakeFuser) Run(ctx context.Context, collections []*models.CollectionResult) []models.Decision {
	decisions := make([]models.Decision, len(collections))
	for i, c := range collections {
		decisions[i] = models.Decision{RegionCode: c.RegionCode, Level: models.LevelGreen}
	}
	return decisions
}

type fakePublisher struct {
	mu      sync.Mutex
	deltas  []publisher.Delta
}

func (p *fakePublisher) Publish(d publisher.Delta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, d)
}

func regionsN(n int) []models.Region {
	regions := make([]models.Region, n)
	for i := range regions {
		regions[i] = models.Region{Code: "R" + string(rune('A'+i%26)) + string(rune('0'+i/26))}
	}
	return regions
}

func waitForIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Status().Running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run to finish")
}

func TestController_TriggerRunsToCompletion(t *testing.T) {
	lock := &fakeLock{}
	store := &fakeStore{regions: regionsN(5)}
	pub := &fakePublisher{}
	c := New(lock, store, fakeCollector{}, fakeFuser{}, pub, Options{
		CollectorMaxConcurrency: 8,
		HighRiskHeadSize:        5,
		MaxRuntime:              time.Minute,
		HeartbeatTimeout:        90 * time.Second,
	})

	result := c.Trigger(context.Background(), models.ModeFull, "", 0)
	if !result.Accepted {
		t.Fatalf("expected trigger to be accepted, got %+v", result)
	}

	waitForIdle(t, c)

	status := c.Status()
	if status.LastError != "" {
		t.Errorf("expected no error, got %q", status.LastError)
	}
	if status.ProcessedRegions != 5 {
		t.Errorf("expected 5 processed regions, got %d", status.ProcessedRegions)
	}
	if len(store.committed) == 0 {
		t.Error("expected at least one committed batch")
	}
	if len(pub.deltas) == 0 {
		t.Error("expected at least one published delta")
	}
}

func TestController_TriggerRejectedWhenAlreadyRunning(t *testing.T) {
	lock := &fakeLock{held: &cache.LockState{RequestID: "other", HeartbeatAt: time.Now().UTC()}}
	store := &fakeStore{regions: regionsN(2)}
	c := New(lock, store, fakeCollector{}, fakeFuser{}, &fakePublisher{}, Options{
		CollectorMaxConcurrency: 8,
		HeartbeatTimeout:        90 * time.Second,
	})

	result := c.Trigger(context.Background(), models.ModeFull, "", 0)
	if result.Accepted {
		t.Fatalf("expected rejection, got %+v", result)
	}
	if result.Message != models.RunErrAlreadyRunning {
		t.Errorf("expected already_running message, got %q", result.Message)
	}
}

func TestController_TriggerEvictsStaleLock(t *testing.T) {
	lock := &fakeLock{held: &cache.LockState{RequestID: "stale", HeartbeatAt: time.Now().Add(-time.Hour)}}
	store := &fakeStore{regions: regionsN(2)}
	c := New(lock, store, fakeCollector{}, fakeFuser{}, &fakePublisher{}, Options{
		CollectorMaxConcurrency: 8,
		HeartbeatTimeout:        90 * time.Second,
		MaxRuntime:              time.Minute,
	})

	result := c.Trigger(context.Background(), models.ModeFull, "", 0)
	if !result.Accepted {
		t.Fatalf("expected stale lock eviction to allow trigger, got %+v", result)
	}
	waitForIdle(t, c)
}

func TestController_AbortStopsBeforeNextBatch(t *testing.T) {
	lock := &fakeLock{}
	store := &fakeStore{regions: regionsN(100)}
	c := New(lock, store, fakeCollector{}, fakeFuser{}, &fakePublisher{}, Options{
		CollectorMaxConcurrency: 8, // batch size = 16
		HighRiskHeadSize:        20,
		MaxRuntime:              time.Minute,
		HeartbeatTimeout:        90 * time.Second,
	})

	c.Trigger(context.Background(), models.ModeFull, "", 0)
	abortResult := c.Abort()
	if !abortResult.OK {
		t.Fatalf("expected abort to succeed, got %+v", abortResult)
	}

	waitForIdle(t, c)
	status := c.Status()
	if status.LastError != models.RunErrManualAbort && status.LastError != "" {
		t.Errorf("expected manual_abort or a run that finished before the flag was observed, got %q", status.LastError)
	}
}

func TestController_AbortOnIdleControllerReportsIdle(t *testing.T) {
	c := New(&fakeLock{}, &fakeStore{}, fakeCollector{}, fakeFuser{}, &fakePublisher{}, Options{})
	result := c.Abort()
	if result.Running {
		t.Errorf("expected idle abort result, got %+v", result)
	}
}

func TestController_CommitErrorRecordsInternalTag(t *testing.T) {
	lock := &fakeLock{}
	store := &fakeStore{regions: regionsN(3), commitErr: errors.New("db down")}
	c := New(lock, store, fakeCollector{}, fakeFuser{}, &fakePublisher{}, Options{
		CollectorMaxConcurrency: 8,
		HeartbeatTimeout:        90 * time.Second,
		MaxRuntime:              time.Minute,
	})

	c.Trigger(context.Background(), models.ModeFull, "", 0)
	waitForIdle(t, c)

	status := c.Status()
	if status.LastError == "" {
		t.Error("expected a last_error to be recorded")
	}
}

func TestController_ResetReleasesLockAndClearsRunningState(t *testing.T) {
	lock := &fakeLock{held: &cache.LockState{RequestID: "stuck"}}
	c := New(lock, &fakeStore{}, fakeCollector{}, fakeFuser{}, &fakePublisher{}, Options{})
	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found := lock.GetLock(context.Background()); found {
		t.Error("expected lock to be released")
	}
	if c.Status().Running {
		t.Error("expected running to be cleared")
	}
}
