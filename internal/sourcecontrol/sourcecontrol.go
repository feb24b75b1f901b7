// Package sourcecontrol implements the engine's source-maintenance control
// operation, reset_scraper_runtime (§6, §9 supplemented features): reset
// per-domain cooldown state and the URL-collision bookkeeping independently
// of the payload cache, since the two have different TTLs and different
// blast radii when something goes wrong in production. The global rate
// limiter's token state is not reset.
package sourcecontrol

import (
	"context"

	"github.com/terrarisk/hazardengine/internal/cache"
	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/sources"
)

// Controller exposes source-maintenance operations over the shared scraper
// guard and cache store built at startup.
type Controller struct {
	guard *sources.ScraperGuard
	cache *cache.Store
}

func NewController(guard *sources.ScraperGuard, cacheStore *cache.Store) *Controller {
	return &Controller{guard: guard, cache: cacheStore}
}

// ResetScraperRuntime clears the scraper guard's URL-collision map and
// per-domain breakers, and optionally the durable payload cache prefix.
func (c *Controller) ResetScraperRuntime(ctx context.Context, clearCache bool) {
	c.guard.ResetRuntime()
	logger.Info("scraper runtime reset", "clear_cache", clearCache)

	if !clearCache {
		return
	}
	if err := c.cache.ClearPrefix(ctx, "payload:weather_scraper"); err != nil {
		logger.Warn("clear scraper payload cache failed", "error", err)
	}
	if err := c.cache.ClearPrefix(ctx, "payload:geology_scraper"); err != nil {
		logger.Warn("clear geology scraper payload cache failed", "error", err)
	}
}
