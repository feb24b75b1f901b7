package sources

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// GeologyScraperSource is the lowest-reliability geology fallback,
// sharing the same ScraperGuard instance as weather_scraper so the
// rate limiter, domain cooldowns and URL-collision map are enforced
// process-wide rather than per-source (§4.1).
type GeologyScraperSource struct {
	keyMode    models.KeyMode
	urlPattern string
	guard      *ScraperGuard
	resolver   *SlugResolver
	getter     *httpGetter

	slopePattern *regexp.Regexp
}

func NewGeologyScraperSource(urlPattern string, enabled bool, guard *ScraperGuard, resolver *SlugResolver) *GeologyScraperSource {
	mode := models.KeyModeDisabled
	if enabled {
		mode = models.KeyModeLive
	}
	return &GeologyScraperSource{
		keyMode:      mode,
		urlPattern:   urlPattern,
		guard:        guard,
		resolver:     resolver,
		getter:       newHTTPGetter(),
		slopePattern: regexp.MustCompile(`slope[^0-9]{0,10}([0-9]+(?:\.[0-9]+)?)\s*(?:deg|°)`),
	}
}

func (s *GeologyScraperSource) Name() string            { return "geology_scraper" }
func (s *GeologyScraperSource) Channel() models.Channel { return models.ChannelGeology }
func (s *GeologyScraperSource) Reliability() float64    { return ReliabilityGeologyScr }
func (s *GeologyScraperSource) KeyMode() models.KeyMode { return s.keyMode }

func (s *GeologyScraperSource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	if s.keyMode == models.KeyModeDisabled {
		return disabledPayload(s.Name(), region.Code)
	}

	slug, notFound := s.resolver.Resolve(ctx, region.Name)
	if notFound {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: &models.SourceError{Kind: models.ErrSlugNotFound}}
	}

	canonicalURL := fmt.Sprintf(s.urlPattern, slug)
	body, sourceErr := s.guard.fetchHTML(ctx, s.getter, canonicalURL, region.Code)
	if sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}

	match := s.slopePattern.FindSubmatch(body)
	if match == nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: &models.SourceError{Kind: models.ErrHTMLParseNoMetrics, URL: canonicalURL}}
	}

	data := map[string]any{}
	if v, err := strconv.ParseFloat(string(match[1]), 64); err == nil {
		data["slope"] = v
	}
	return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true, Data: data}
}

func (s *GeologyScraperSource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelGeology}
	if !payload.Success {
		return obs
	}
	obs.Slope = extractFloat(payload.Data["slope"])
	return obs
}
