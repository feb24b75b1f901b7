package sources

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// WeatherScraperSource is the templated-URL fallback meteorology source
// (§4.1): lowest reliability, guarded by ScraperGuard, with an HTML
// regexp extraction step in place of a JSON API.
type WeatherScraperSource struct {
	keyMode    models.KeyMode
	urlPattern string // e.g. "https://weather.example.com/%s"
	guard      *ScraperGuard
	resolver   *SlugResolver
	getter     *httpGetter

	rainPattern     *regexp.Regexp
	humidityPattern *regexp.Regexp
}

func NewWeatherScraperSource(urlPattern string, enabled bool, guard *ScraperGuard, resolver *SlugResolver) *WeatherScraperSource {
	mode := models.KeyModeDisabled
	if enabled {
		mode = models.KeyModeLive
	}
	return &WeatherScraperSource{
		keyMode:         mode,
		urlPattern:      urlPattern,
		guard:           guard,
		resolver:        resolver,
		getter:          newHTTPGetter(),
		rainPattern:     regexp.MustCompile(`rain(?:fall)?[^0-9]{0,10}([0-9]+(?:\.[0-9]+)?)\s*mm`),
		humidityPattern: regexp.MustCompile(`humidity[^0-9]{0,10}([0-9]+(?:\.[0-9]+)?)\s*%`),
	}
}

func (s *WeatherScraperSource) Name() string            { return "weather_scraper" }
func (s *WeatherScraperSource) Channel() models.Channel { return models.ChannelMeteorology }
func (s *WeatherScraperSource) Reliability() float64    { return ReliabilityWeatherScr }
func (s *WeatherScraperSource) KeyMode() models.KeyMode { return s.keyMode }

func (s *WeatherScraperSource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
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

	rainMatch := s.rainPattern.FindSubmatch(body)
	humidityMatch := s.humidityPattern.FindSubmatch(body)
	if rainMatch == nil && humidityMatch == nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: &models.SourceError{Kind: models.ErrHTMLParseNoMetrics, URL: canonicalURL}}
	}

	data := map[string]any{}
	if rainMatch != nil {
		if v, err := strconv.ParseFloat(string(rainMatch[1]), 64); err == nil {
			data["rain_24h"] = v
		}
	}
	if humidityMatch != nil {
		if v, err := strconv.ParseFloat(string(humidityMatch[1]), 64); err == nil {
			data["humidity"] = v / 100
		}
	}

	return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true, Data: data}
}

func (s *WeatherScraperSource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelMeteorology}
	if !payload.Success {
		return obs
	}
	obs.Rain24h = extractFloat(payload.Data["rain_24h"])
	obs.Humidity = extractFloat(payload.Data["humidity"])
	return obs
}
