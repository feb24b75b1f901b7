package sources

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/models"
)

// ScraperGuard enforces the six guardrails shared by weather_scraper and
// geology_scraper before any network call is attempted (§4.1 items 1-6):
// domain allowlist, government-domain block, a global rate limiter, a
// per-domain concurrency cap, a per-domain cooldown breaker, and a
// process-lifetime URL-collision map. One ScraperGuard is shared by both
// scraper sources within a run.
type ScraperGuard struct {
	allowedDomains      map[string]bool
	limiter             *rate.Limiter
	maxParallelRequests int64

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	domainSem map[string]*semaphore.Weighted // domain -> scraper_max_parallel_requests cap
	collision map[string]string              // canonical URL -> owner region code
}

func NewScraperGuard(allowedDomains []string, requestInterval time.Duration, maxParallelRequests, maxPerWindow int) *ScraperGuard {
	allowed := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = true
	}

	var limit rate.Limit
	if requestInterval > 0 {
		limit = rate.Every(requestInterval)
	} else {
		limit = rate.Inf
	}

	if maxParallelRequests <= 0 {
		maxParallelRequests = 1
	}

	return &ScraperGuard{
		allowedDomains:      allowed,
		limiter:             rate.NewLimiter(limit, maxPerWindow),
		maxParallelRequests: int64(maxParallelRequests),
		breakers:            make(map[string]*gobreaker.CircuitBreaker),
		domainSem:           make(map[string]*semaphore.Weighted),
		collision:           make(map[string]string),
	}
}

// ResetRuntime clears the URL-collision map and recreates the per-domain
// breakers and concurrency semaphores, implementing the engine's
// reset_scraper_runtime control operation (§6, internal/sourcecontrol). The
// global rate limiter is not reset and keeps its current token state.
func (g *ScraperGuard) ResetRuntime() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breakers = make(map[string]*gobreaker.CircuitBreaker)
	g.domainSem = make(map[string]*semaphore.Weighted)
	g.collision = make(map[string]string)
}

// domainOf extracts the lowercase host from a URL.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// isGovDomain matches the *gov* guardrail pattern (§4.1 item 2).
func isGovDomain(domain string) bool {
	return strings.Contains(domain, "gov")
}

func (g *ScraperGuard) breakerFor(domain string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[domain]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        domain,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("scraper domain breaker state change", "domain", name, "from", from.String(), "to", to.String())
		},
	})
	g.breakers[domain] = b
	return b
}

// semaphoreFor returns the per-domain concurrency cap (§4.2
// scraper_max_parallel_requests, §5, §9), lazily creating one per domain the
// same way breakerFor does.
func (g *ScraperGuard) semaphoreFor(domain string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.domainSem[domain]; ok {
		return s
	}
	s := semaphore.NewWeighted(g.maxParallelRequests)
	g.domainSem[domain] = s
	return s
}

// CheckGuardrails runs guardrails 1, 2 and 6 against canonicalURL for
// regionCode without making a network call. Exported so callers (and the
// test suite) can probe allow-list/collision state directly.
func (g *ScraperGuard) CheckGuardrails(canonicalURL, regionCode string) *models.SourceError {
	_, err := g.checkGuardrails(canonicalURL, regionCode)
	return err
}

// checkGuardrails runs guardrails 1, 2 and 6; it does not call the network.
// It returns the domain's breaker so the caller can run the request through
// it (guardrail 4: cooldown after 403/429); fetchHTML applies the rate
// limiter and the per-domain concurrency cap.
func (g *ScraperGuard) checkGuardrails(canonicalURL, regionCode string) (*gobreaker.CircuitBreaker, *models.SourceError) {
	domain := domainOf(canonicalURL)

	if !g.allowedDomains[domain] {
		return nil, &models.SourceError{Kind: models.ErrDomainNotAllowed, URL: canonicalURL}
	}
	if isGovDomain(domain) {
		return nil, &models.SourceError{Kind: models.ErrDomainNotAllowed, URL: canonicalURL}
	}

	g.mu.Lock()
	if owner, exists := g.collision[canonicalURL]; exists && owner != regionCode {
		g.mu.Unlock()
		return nil, &models.SourceError{Kind: models.ErrURLCollision, URL: canonicalURL}
	}
	g.collision[canonicalURL] = regionCode
	g.mu.Unlock()

	return g.breakerFor(domain), nil
}

// fetchHTML applies the rate limiter and the per-domain concurrency cap,
// then runs the request through the domain's breaker so a 403/429 tripped
// breaker short-circuits subsequent attempts without contacting the domain
// (§4.1 item 4, §4.2 scraper_max_parallel_requests, §5).
func (g *ScraperGuard) fetchHTML(ctx context.Context, client *httpGetter, canonicalURL, regionCode string) ([]byte, *models.SourceError) {
	breaker, sourceErr := g.checkGuardrails(canonicalURL, regionCode)
	if sourceErr != nil {
		return nil, sourceErr
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &models.SourceError{Kind: models.ErrRateLimited, URL: canonicalURL}
	}

	domainSem := g.semaphoreFor(domainOf(canonicalURL))
	if err := domainSem.Acquire(ctx, 1); err != nil {
		return nil, &models.SourceError{Kind: models.ErrTimeout, URL: canonicalURL}
	}
	defer domainSem.Release(1)

	result, err := breaker.Execute(func() (any, error) {
		body, status, err := client.get(ctx, canonicalURL)
		if err != nil {
			return nil, err
		}
		if status == 403 || status == 429 {
			return nil, errBreakerTrip
		}
		if status != 200 {
			return nil, &models.SourceError{Kind: models.HTTPStatusKind(status), URL: canonicalURL, StatusCode: status}
		}
		return body, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == errBreakerTrip {
			return nil, &models.SourceError{Kind: models.ErrRateLimited, URL: canonicalURL, Message: "domain in cooldown"}
		}
		if se, ok := err.(*models.SourceError); ok {
			return nil, se
		}
		return nil, &models.SourceError{Kind: models.ErrConnectError, Message: err.Error(), URL: canonicalURL}
	}
	return result.([]byte), nil
}
