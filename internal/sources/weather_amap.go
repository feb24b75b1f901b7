package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// AMapSource provides no millimetric precipitation in its realtime
// endpoint; Normalize writes only the *_est fields and tags the quality
// note so the fusion pipeline treats them as last-resort (§4.1).
type AMapSource struct {
	apiKey  string
	keyMode models.KeyMode
	baseURL string
	client  *http.Client
}

type amapResponse struct {
	Humidity     *float64 `json:"humidity"`
	WindSpeed    *float64 `json:"wind_speed"`
	RainEstimate *float64 `json:"rain_estimate_mm"`
}

func NewAMapSource(apiKey, baseURL string) *AMapSource {
	return &AMapSource{apiKey: apiKey, keyMode: resolveKeyMode(apiKey), baseURL: baseURL, client: newHTTPClient(10 * time.Second)}
}

func (s *AMapSource) Name() string            { return "weather_amap" }
func (s *AMapSource) Channel() models.Channel { return models.ChannelMeteorology }
func (s *AMapSource) Reliability() float64    { return ReliabilityAMap }
func (s *AMapSource) KeyMode() models.KeyMode { return s.keyMode }

func (s *AMapSource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	if s.keyMode == models.KeyModeDisabled {
		return disabledPayload(s.Name(), region.Code)
	}
	if s.keyMode == models.KeyModeSimulate {
		seed := stableSeed(region.Code, s.Name())
		return models.RawPayload{
			SourceName: s.Name(),
			RegionCode: region.Code,
			FetchedAt:  time.Now().UTC(),
			Success:    true,
			Data: map[string]any{
				"humidity":       seed.float(0.2, 0.95),
				"wind_speed":     seed.float(0, 15),
				"rain_estimate":  seed.float(0, 40),
				"simulated":      true,
			},
		}
	}

	url := fmt.Sprintf("%s/weather/now?region=%s&key=%s", s.baseURL, region.Code, s.apiKey)
	var resp amapResponse
	if sourceErr := fetchJSON(ctx, s.client, url, &resp); sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}
	return models.RawPayload{
		SourceName: s.Name(),
		RegionCode: region.Code,
		FetchedAt:  time.Now().UTC(),
		Success:    true,
		Data: map[string]any{
			"humidity":      resp.Humidity,
			"wind_speed":    resp.WindSpeed,
			"rain_estimate": resp.RainEstimate,
		},
	}
}

func (s *AMapSource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelMeteorology}
	if !payload.Success {
		return obs
	}
	obs.DataQualityNote = "precipitation_estimated"

	obs.Humidity = extractFloat(payload.Data["humidity"])
	obs.WindSpeed = extractFloat(payload.Data["wind_speed"])
	if rain := extractFloat(payload.Data["rain_estimate"]); rain != nil {
		obs.Rain24hEst = rain
		half := *rain / 24
		obs.Rain1hEst = &half
	}
	return obs
}
