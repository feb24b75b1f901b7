// Package runcontrol implements C5, the Run Controller: single-flight
// triggering of a collection+fusion run, cooperative abort, heartbeat-based
// cross-process locking, and batch-by-batch commit/broadcast (§4.5).
package runcontrol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terrarisk/hazardengine/internal/apperrors"
	"github.com/terrarisk/hazardengine/internal/cache"
	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/metrics"
	"github.com/terrarisk/hazardengine/internal/models"
	"github.com/terrarisk/hazardengine/internal/publisher"
	"github.com/terrarisk/hazardengine/internal/selector"
)

// LockStore is the subset of internal/cache.Store's run-lock API the
// controller needs for single-flight coordination (§4.5).
type LockStore interface {
	AcquireLock(ctx context.Context, state cache.LockState, ttl time.Duration) (bool, error)
	GetLock(ctx context.Context) (*cache.LockState, bool)
	Heartbeat(ctx context.Context, requestID string, ttl time.Duration) error
	ForceAcquireLock(ctx context.Context, state cache.LockState, ttl time.Duration) error
	ReleaseLock(ctx context.Context) error
}

// RegionStore is the subset of internal/store.Store the controller reads
// and writes through.
type RegionStore interface {
	ListRegions(ctx context.Context) ([]models.Region, error)
	CommitBatch(ctx context.Context, decisions []models.Decision, source string) error
}

// Collector runs C2 over one batch.
type Collector interface {
	Collect(ctx context.Context, regions []models.RegionInput) []*models.CollectionResult
}

// Fuser runs C4 over one batch's collection results.
type Fuser interface {
	Run(ctx context.Context, collections []*models.CollectionResult) []models.Decision
}

// DeltaPublisher is C6: a non-blocking broadcaster of committed batches.
type DeltaPublisher interface {
	Publish(d publisher.Delta)
}

// Options configures a Controller (§6 environment variables, §4.5).
type Options struct {
	CollectorMaxConcurrency int
	HighRiskHeadSize        int
	ManualRegionLimit       int
	MaxRuntime              time.Duration
	HeartbeatTimeout        time.Duration
}

// Controller owns the single in-process run loop and its durable lock.
type Controller struct {
	lock      LockStore
	store     RegionStore
	collector Collector
	fuser     Fuser
	publish   DeltaPublisher
	opts      Options

	mu                   sync.Mutex
	running              bool
	abortRequested       bool
	cancel               context.CancelFunc
	state                models.RunState
	debugLastCollection  []*models.CollectionResult
}

// New builds a Controller wired to its collaborators.
func New(lock LockStore, store RegionStore, collector Collector, fuser Fuser, pub DeltaPublisher, opts Options) *Controller {
	return &Controller{lock: lock, store: store, collector: collector, fuser: fuser, publish: pub, opts: opts}
}

// TriggerResult mirrors trigger_async's response shape (§6).
type TriggerResult struct {
	Accepted  bool
	Running   bool
	Message   string
	StartedAt *time.Time
	RequestID string
}

// Trigger starts a new run asynchronously if no run is currently held,
// evicting a holder whose heartbeat has gone stale (§4.5). It returns
// immediately; the run proceeds on its own goroutine.
func (c *Controller) Trigger(ctx context.Context, mode, requestID string, regionLimit int) TriggerResult {
	c.mu.Lock()
	if c.running {
		rid := c.state.RequestID
		c.mu.Unlock()
		return TriggerResult{Accepted: false, Running: true, Message: models.RunErrAlreadyRunning, RequestID: rid}
	}
	c.mu.Unlock()

	if requestID == "" {
		requestID = uuid.NewString()
	}
	now := time.Now().UTC()
	ttl := c.opts.HeartbeatTimeout * 4
	lockState := cache.LockState{RequestID: requestID, Mode: mode, StartedAt: now, HeartbeatAt: now}

	ok, err := c.lock.AcquireLock(ctx, lockState, ttl)
	if err != nil {
		return TriggerResult{Accepted: false, Message: fmt.Sprintf("lock acquisition failed: %v", err)}
	}
	if !ok {
		held, found := c.lock.GetLock(ctx)
		if !found || !held.IsStale(c.opts.HeartbeatTimeout) {
			rid := ""
			if found {
				rid = held.RequestID
			}
			return TriggerResult{Accepted: false, Running: true, Message: models.RunErrAlreadyRunning, RequestID: rid}
		}
		logger.Warn("evicting stale run lock", "stale_request_id", held.RequestID, "held_since", held.StartedAt)
		if err := c.lock.ForceAcquireLock(ctx, lockState, ttl); err != nil {
			return TriggerResult{Accepted: false, Message: fmt.Sprintf("force acquire failed: %v", err)}
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running = true
	c.abortRequested = false
	c.cancel = cancel
	c.state = models.RunState{
		RequestID: requestID,
		Mode:      mode,
		StartedAt: now,
		HeartbeatAt: now,
		Running:   true,
	}
	c.mu.Unlock()

	go c.run(runCtx, requestID, mode, regionLimit, now)

	started := now
	return TriggerResult{Accepted: true, Running: true, Message: "accepted", StartedAt: &started, RequestID: requestID}
}

func (c *Controller) run(ctx context.Context, requestID, mode string, regionLimit int, startedAt time.Time) {
	defer c.finalize(ctx, requestID)

	regions, err := c.store.ListRegions(ctx)
	if err != nil {
		c.setLastError(apperrors.InternalTag("list_regions"))
		logger.Error("run controller failed to list regions", "request_id", requestID, "error", err)
		return
	}

	limit := regionLimit
	if limit <= 0 {
		limit = c.opts.ManualRegionLimit
	}
	selected := selector.Select(regions, mode, limit, c.opts.HighRiskHeadSize, requestID)

	c.mu.Lock()
	c.state.TotalRegions = len(regions)
	c.state.SelectedRegions = regionCodes(selected)
	c.mu.Unlock()

	batches := chunkIntoBatches(selected, batchSize(c.opts.CollectorMaxConcurrency))

	for i, batch := range batches {
		if c.isAbortRequested() {
			c.setLastError(models.RunErrManualAbort)
			return
		}
		if c.opts.MaxRuntime > 0 && time.Since(startedAt) > c.opts.MaxRuntime {
			c.setLastError(fmt.Sprintf("workflow_partial_timeout_after_%d", int(time.Since(startedAt).Seconds())))
			return
		}

		collections := c.collector.Collect(ctx, toRegionInputs(batch))
		c.recordDebugCollection(collections)

		decisions := c.fuser.Run(ctx, collections)
		if err := c.store.CommitBatch(ctx, decisions, requestID); err != nil {
			c.setLastError(apperrors.InternalTag("commit_batch"))
			logger.Error("batch commit failed", "request_id", requestID, "batch", i, "error", err)
			return
		}

		c.publish.Publish(publisher.Delta{RequestID: requestID, BatchNum: i, Decisions: decisions})

		c.mu.Lock()
		c.state.ProcessedRegions += len(batch)
		c.state.HeartbeatAt = time.Now().UTC()
		c.mu.Unlock()

		if err := c.lock.Heartbeat(ctx, requestID, c.opts.HeartbeatTimeout*4); err != nil {
			logger.Warn("heartbeat update failed", "request_id", requestID, "error", err)
		}
	}
}

// lockReleaseTimeout bounds the fresh context finalize uses to release the
// durable run lock. It must not derive from the run's own ctx: on manual
// abort that context is already cancelled by the time finalize runs, and a
// cancelled context makes redis.Del fail before it reaches Redis, stranding
// run:lock until the heartbeat timeout evicts it (§4.5).
const lockReleaseTimeout = 5 * time.Second

func (c *Controller) finalize(ctx context.Context, requestID string) {
	c.mu.Lock()
	now := time.Now().UTC()
	c.state.Running = false
	c.state.LastFinishedAt = &now
	lastError := c.state.LastError
	mode := c.state.Mode
	processed := c.state.ProcessedRegions
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	metrics.RecordRunOutcome(mode, outcomeFor(lastError))

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer releaseCancel()
	if err := c.lock.ReleaseLock(releaseCtx); err != nil {
		logger.Warn("failed to release run lock", "request_id", requestID, "error", err)
	}
	logger.Info("run finished", "request_id", requestID, "mode", mode, "last_error", lastError, "processed_regions", processed)
}

func outcomeFor(lastError string) string {
	switch {
	case lastError == models.RunErrManualAbort:
		return "aborted"
	case strings.HasPrefix(lastError, "workflow_partial_timeout_after_"):
		return "timed_out"
	case lastError != "":
		return "error"
	default:
		return "committed"
	}
}

// AbortResult mirrors abort()'s response shape (§6).
type AbortResult struct {
	OK        bool
	Running   bool
	Message   string
	RequestID string
}

// Abort requests cooperative cancellation of the current run. The run
// exits at the next batch boundary; already-committed batches are never
// rolled back (§5 cancellation).
func (c *Controller) Abort() AbortResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return AbortResult{OK: true, Running: false, Message: "idle"}
	}
	c.abortRequested = true
	c.state.AbortRequested = true
	if c.cancel != nil {
		c.cancel()
	}
	return AbortResult{OK: true, Running: true, Message: "abort requested", RequestID: c.state.RequestID}
}

// Status returns a snapshot of the current RunState (§6 status()).
func (c *Controller) Status() models.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Reset idempotently force-releases the durable lock and clears local
// running state, for use when an operator needs to recover from a wedged
// process (§6 reset()).
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.abortRequested = false
	c.cancel = nil
	c.mu.Unlock()
	return c.lock.ReleaseLock(ctx)
}

// DebugLastCollection returns the most recent batch's CollectionResults for
// introspection (§6 debug_last_collection()).
func (c *Controller) DebugLastCollection() []*models.CollectionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debugLastCollection
}

func (c *Controller) isAbortRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortRequested
}

func (c *Controller) setLastError(tag string) {
	c.mu.Lock()
	c.state.LastError = tag
	c.mu.Unlock()
}

func (c *Controller) recordDebugCollection(results []*models.CollectionResult) {
	c.mu.Lock()
	c.debugLastCollection = results
	c.mu.Unlock()
}

func regionCodes(regions []models.Region) []string {
	codes := make([]string, len(regions))
	for i, r := range regions {
		codes[i] = r.Code
	}
	return codes
}

func toRegionInputs(regions []models.Region) []models.RegionInput {
	inputs := make([]models.RegionInput, len(regions))
	for i, r := range regions {
		inputs[i] = models.RegionInput{Code: r.Code, Name: r.Name, Lat: r.Lat, Lon: r.Lon}
	}
	return inputs
}
