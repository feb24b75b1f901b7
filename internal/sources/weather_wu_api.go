package sources

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/terrarisk/hazardengine/internal/cache"
	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/models"
)

// KeyDiscoverer scrapes an embedded API token from a public page (§4.1
// weather_wu_api discovery flow). Split out so tests can substitute a fake
// without a real HTTP round trip.
type KeyDiscoverer interface {
	Discover(ctx context.Context) (string, error)
}

// htmlKeyDiscoverer extracts a token embedded in an HTML page via regexp,
// the same approach the scraper sources use for metric extraction.
type htmlKeyDiscoverer struct {
	url     string
	client  *http.Client
	pattern *regexp.Regexp
}

func newHTMLKeyDiscoverer(url string) *htmlKeyDiscoverer {
	return &htmlKeyDiscoverer{
		url:     url,
		client:  newHTTPClient(10 * time.Second),
		pattern: regexp.MustCompile(`apiKey["']?\s*[:=]\s*["']([a-zA-Z0-9]{16,})["']`),
	}
}

// NewHTMLKeyDiscoverer builds the default KeyDiscoverer, for callers that
// wire NewWUAPISource outside this package (cmd/hazardengine's startup
// wiring). Returns nil when discoveryURL is empty, matching the "disabled
// unless configured" convention the other sources use.
func NewHTMLKeyDiscoverer(discoveryURL string) KeyDiscoverer {
	if discoveryURL == "" {
		return nil
	}
	return newHTMLKeyDiscoverer(discoveryURL)
}

func (d *htmlKeyDiscoverer) Discover(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery page returned %d", resp.StatusCode)
	}
	body := make([]byte, 64*1024)
	n, _ := resp.Body.Read(body)
	match := d.pattern.FindSubmatch(body[:n])
	if match == nil {
		return "", fmt.Errorf("no embedded key found")
	}
	return string(match[1]), nil
}

// WUAPISource implements the key-discovery flow: static key, or scrape +
// durable cache of the active key with auth-failure invalidation and one
// retry (§4.1).
type WUAPISource struct {
	staticKey  string
	keyMode    models.KeyMode
	baseURL    string
	refreshTTL time.Duration
	discoverer KeyDiscoverer
	cache      *cache.Store
	client     *http.Client
}

type wuResponse struct {
	RainIn1h  *float64 `json:"rain_in_1h"`
	RainIn24h *float64 `json:"rain_in_24h"`
	Humidity  *float64 `json:"humidity"`
}

func NewWUAPISource(staticKey, baseURL string, refreshTTL time.Duration, discoverer KeyDiscoverer, cacheStore *cache.Store) *WUAPISource {
	mode := resolveKeyMode(staticKey)
	if staticKey == "" && discoverer != nil {
		mode = models.KeyModeLive // discovery flow can still produce a usable key
	}
	return &WUAPISource{
		staticKey:  staticKey,
		keyMode:    mode,
		baseURL:    baseURL,
		refreshTTL: refreshTTL,
		discoverer: discoverer,
		cache:      cacheStore,
		client:     newHTTPClient(10 * time.Second),
	}
}

func (s *WUAPISource) Name() string            { return "weather_wu_api" }
func (s *WUAPISource) Channel() models.Channel { return models.ChannelMeteorology }
func (s *WUAPISource) Reliability() float64    { return ReliabilityWUAPI }
func (s *WUAPISource) KeyMode() models.KeyMode { return s.keyMode }

// resolveKey implements the discovery flow: durable active_key if fresh and
// not invalidated, else re-run discovery and persist the new key as the
// cache's single WU key state with the refresh TTL (§4.1, §4.3). No pool of
// candidate keys is kept.
func (s *WUAPISource) resolveKey(ctx context.Context) (string, *models.SourceError) {
	if s.staticKey != "" {
		return s.staticKey, nil
	}
	if s.discoverer == nil {
		return "", &models.SourceError{Kind: models.ErrKeyDiscoveryFailed, Message: "no discoverer configured"}
	}

	if st, ok := s.cache.GetWUKeyState(ctx); ok && !st.Invalidated {
		return st.ActiveKey, nil
	}

	key, err := s.discoverer.Discover(ctx)
	if err != nil {
		logger.Warn("wu key discovery failed", "error", err)
		return "", &models.SourceError{Kind: models.ErrKeyDiscoveryFailed, Message: err.Error()}
	}

	st := cache.WUKeyState{ActiveKey: key, DiscoveredAt: time.Now().UTC()}
	if err := s.cache.SetWUKeyState(ctx, st, s.refreshTTL); err != nil {
		logger.Warn("wu key state persist failed", "error", err)
	}
	return key, nil
}

func (s *WUAPISource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	if s.keyMode == models.KeyModeDisabled {
		return disabledPayload(s.Name(), region.Code)
	}
	if s.keyMode == models.KeyModeSimulate {
		seed := stableSeed(region.Code, s.Name())
		return models.RawPayload{
			SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true,
			Data: map[string]any{"rain_1h": seed.float(0, 8), "rain_24h": seed.float(0, 60), "humidity": seed.float(0.2, 0.95), "simulated": true},
		}
	}

	key, sourceErr := s.resolveKey(ctx)
	if sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}

	payload := s.doFetch(ctx, region, key)
	if payload.Success || payload.Error == nil || payload.Error.Kind != models.ErrAuthFailed {
		return payload
	}

	// Auth failure: invalidate and retry discovery exactly once (§4.1).
	if err := s.cache.InvalidateWUKey(ctx); err != nil {
		logger.Warn("wu key invalidate failed", "error", err)
	}
	key, sourceErr = s.resolveKey(ctx)
	if sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: &models.SourceError{Kind: models.ErrKeyDiscoveryFailed}}
	}
	return s.doFetch(ctx, region, key)
}

func (s *WUAPISource) doFetch(ctx context.Context, region models.RegionInput, key string) models.RawPayload {
	url := fmt.Sprintf("%s/observations/current?region=%s&apiKey=%s", s.baseURL, region.Code, key)
	var resp wuResponse
	if sourceErr := fetchJSON(ctx, s.client, url, &resp); sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}
	return models.RawPayload{
		SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true,
		Data: map[string]any{"rain_1h": resp.RainIn1h, "rain_24h": resp.RainIn24h, "humidity": resp.Humidity},
	}
}

func (s *WUAPISource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelMeteorology}
	if !payload.Success {
		return obs
	}
	obs.Rain1h = extractFloat(payload.Data["rain_1h"])
	obs.Rain24h = extractFloat(payload.Data["rain_24h"])
	obs.Humidity = extractFloat(payload.Data["humidity"])
	return obs
}

// extractFloat accepts both a plain float64 (simulate mode) and *float64
// (live JSON decode, which may be nil for an absent field).
func extractFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return ptrFloat(t)
	case *float64:
		return t
	default:
		return nil
	}
}
