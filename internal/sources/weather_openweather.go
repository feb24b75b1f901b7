package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// OpenWeatherSource is a standard credentialed meteorology adapter: live,
// simulate or disabled, no special-cased fetch flow beyond that (§4.1).
type OpenWeatherSource struct {
	apiKey  string
	keyMode models.KeyMode
	baseURL string
	client  *http.Client
}

type openWeatherResponse struct {
	Rain1h       *float64 `json:"rain_1h"`
	Rain3h       *float64 `json:"rain_3h"`
	Humidity     *float64 `json:"humidity"`
	WindSpeed    *float64 `json:"wind_speed"`
	SoilMoisture *float64 `json:"soil_moisture"`
}

func NewOpenWeatherSource(apiKey, baseURL string) *OpenWeatherSource {
	return &OpenWeatherSource{apiKey: apiKey, keyMode: resolveKeyMode(apiKey), baseURL: baseURL, client: newHTTPClient(10 * time.Second)}
}

func (s *OpenWeatherSource) Name() string            { return "weather_openweather" }
func (s *OpenWeatherSource) Channel() models.Channel { return models.ChannelMeteorology }
func (s *OpenWeatherSource) Reliability() float64    { return ReliabilityOpenWeather }
func (s *OpenWeatherSource) KeyMode() models.KeyMode { return s.keyMode }

func (s *OpenWeatherSource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	if s.keyMode == models.KeyModeDisabled {
		return disabledPayload(s.Name(), region.Code)
	}
	if s.keyMode == models.KeyModeSimulate {
		seed := stableSeed(region.Code, s.Name())
		return models.RawPayload{
			SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true,
			Data: map[string]any{
				"rain_1h": seed.float(0, 6), "humidity": seed.float(0.2, 0.95),
				"wind_speed": seed.float(0, 20), "soil_moisture": seed.float(0.1, 0.9), "simulated": true,
			},
		}
	}

	url := fmt.Sprintf("%s/data/weather?lat=%v&lon=%v&appid=%s", s.baseURL, region.Lat, region.Lon, s.apiKey)
	var resp openWeatherResponse
	if sourceErr := fetchJSON(ctx, s.client, url, &resp); sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}
	return models.RawPayload{
		SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true,
		Data: map[string]any{
			"rain_1h": resp.Rain1h, "humidity": resp.Humidity,
			"wind_speed": resp.WindSpeed, "soil_moisture": resp.SoilMoisture,
		},
	}
}

func (s *OpenWeatherSource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelMeteorology}
	if !payload.Success {
		return obs
	}
	obs.Rain1h = extractFloat(payload.Data["rain_1h"])
	obs.Humidity = extractFloat(payload.Data["humidity"])
	obs.WindSpeed = extractFloat(payload.Data["wind_speed"])
	obs.SoilMoisture = extractFloat(payload.Data["soil_moisture"])
	return obs
}
