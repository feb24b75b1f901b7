// Package collector implements C2, the Collection Orchestrator: bounded
// concurrent fan-out over the Source Registry for a batch of regions,
// consulting the Cache & Credential Store first and partitioning success and
// error into a per-region SourceStatus (§4.2).
package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/metrics"
	"github.com/terrarisk/hazardengine/internal/models"
	"github.com/terrarisk/hazardengine/internal/sources"
)

// CacheStore is the subset of internal/cache.Store the collector consults
// before every fetch, keyed by (source, region_code).
type CacheStore interface {
	GetPayload(ctx context.Context, source, regionCode string, ttl time.Duration) ([]byte, bool)
	SetPayload(ctx context.Context, source, regionCode string, data []byte, ttl time.Duration)
}

// HistoryReader supplies the two pieces of persisted state a region's
// CollectionResult is decorated with after fan-out completes (§4.2): the
// most recent WarningRecord (for change detection) and the count of
// qualifying warnings within the historical-pressure window.
type HistoryReader interface {
	PreviousWarning(ctx context.Context, regionCode string) (*models.WarningRecord, error)
	HistoricalPressureCount(ctx context.Context, regionCode string, since time.Time) (int, error)
}

// Orchestrator runs C2 over a batch of regions using a fixed Source Registry.
type Orchestrator struct {
	registry   *sources.Registry
	cache      CacheStore
	history    HistoryReader
	cacheTTL   time.Duration
	pressureWindow time.Duration

	sem *semaphore.Weighted
}

func New(registry *sources.Registry, cache CacheStore, history HistoryReader, maxConcurrency int, cacheTTL, pressureWindow time.Duration) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Orchestrator{
		registry:       registry,
		cache:          cache,
		history:        history,
		cacheTTL:       cacheTTL,
		pressureWindow: pressureWindow,
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// Collect fans out over every registered source for every region in the
// batch, bounded by the orchestrator's global concurrency semaphore, and
// returns one CollectionResult per region in the same order as regions.
func (o *Orchestrator) Collect(ctx context.Context, regions []models.RegionInput) []*models.CollectionResult {
	results := make([]*models.CollectionResult, len(regions))

	var wg sync.WaitGroup
	for i, region := range regions {
		i, region := i, region
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.collectRegion(ctx, region)
		}()
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) collectRegion(ctx context.Context, region models.RegionInput) *models.CollectionResult {
	result := &models.CollectionResult{
		RegionCode:   region.Code,
		RegionName:   region.Name,
		Lat:          region.Lat,
		Lon:          region.Lon,
		Observations: make(map[string]*models.NormalizedObservation),
		Status:       models.NewSourceStatus(),
	}

	all := o.registry.All()
	payloads := make([]models.RawPayload, len(all))

	var wg sync.WaitGroup
	for i, src := range all {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			payloads[i] = o.fetchOne(ctx, src, region)
		}()
	}
	wg.Wait()

	for i, src := range all {
		payload := payloads[i]
		if !payload.Success {
			result.Status.Errors[src.Name()] = payload.Error
			continue
		}
		result.Status.Success[src.Channel()] = append(result.Status.Success[src.Channel()], src.Name())
		obs := src.Normalize(payload)
		result.Observations[src.Name()] = &obs
	}

	if o.history != nil {
		if prev, err := o.history.PreviousWarning(ctx, region.Code); err != nil {
			logger.Warn("previous warning lookup failed", "region_code", region.Code, "error", err)
		} else {
			result.PreviousWarning = prev
		}

		since := time.Now().Add(-o.pressureWindow)
		if count, err := o.history.HistoricalPressureCount(ctx, region.Code, since); err != nil {
			logger.Warn("historical pressure lookup failed", "region_code", region.Code, "error", err)
		} else {
			result.HistoricalPressure = count
		}
	}

	return result
}

// fetchOne acquires the global concurrency slot, consults the cache, and
// falls through to the source's own Fetch on a miss. A cache hit is tagged
// via payload.CacheHit so downstream metrics can distinguish it.
func (o *Orchestrator) fetchOne(ctx context.Context, src sources.Source, region models.RegionInput) models.RawPayload {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return models.RawPayload{
			SourceName: src.Name(),
			RegionCode: region.Code,
			FetchedAt:  time.Now(),
			Success:    false,
			Error:      &models.SourceError{Kind: models.ErrTimeout, Message: err.Error()},
		}
	}
	defer o.sem.Release(1)

	payload := o.fetchWithCache(ctx, src, region)

	status := "success"
	if !payload.Success {
		status = "error"
		metrics.RecordSourceError(src.Name(), payload.Error.Kind)
	}
	metrics.RecordCollectionAttempt(src.Name(), string(src.Channel()), status)

	return payload
}

func (o *Orchestrator) fetchWithCache(ctx context.Context, src sources.Source, region models.RegionInput) models.RawPayload {
	if o.cache != nil {
		if data, ok := o.cache.GetPayload(ctx, src.Name(), region.Code, o.cacheTTL); ok {
			payload, err := decodeCachedPayload(data, src, region)
			if err == nil {
				payload.CacheHit = true
				metrics.RecordCacheHit(src.Name(), true)
				return payload
			}
			logger.Warn("discarding corrupt cached payload", "source", src.Name(), "region_code", region.Code, "error", err)
		}
		metrics.RecordCacheHit(src.Name(), false)
	}

	payload := src.Fetch(ctx, region)
	if o.cache != nil && payload.Success {
		if data, err := encodeCachedPayload(payload); err == nil {
			o.cache.SetPayload(ctx, src.Name(), region.Code, data, o.cacheTTL)
		}
	}
	return payload
}
