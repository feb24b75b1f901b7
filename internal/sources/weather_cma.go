package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// CMASource is the station-based meteorology adapter (§4.1): it requires an
// offline-built region_code -> station_id mapping loaded at startup, and
// accumulates the native 3-hour precipitation samples over the most recent
// eight readings to derive rain_24h.
type CMASource struct {
	apiKey    string
	keyMode   models.KeyMode
	baseURL   string
	stations  map[string]string // region_code -> station_id
	client    *http.Client
}

// cmaSample is one 3-hour precipitation reading from the station feed.
type cmaSample struct {
	PrecipMM float64 `json:"precip_mm"`
}

type cmaResponse struct {
	Samples []cmaSample `json:"samples"`
}

func NewCMASource(apiKey, baseURL string, stations map[string]string) *CMASource {
	return &CMASource{
		apiKey:   apiKey,
		keyMode:  resolveKeyMode(apiKey),
		baseURL:  baseURL,
		stations: stations,
		client:   newHTTPClient(10 * time.Second),
	}
}

func (s *CMASource) Name() string             { return "weather_cma" }
func (s *CMASource) Channel() models.Channel  { return models.ChannelMeteorology }
func (s *CMASource) Reliability() float64     { return ReliabilityCMA }
func (s *CMASource) KeyMode() models.KeyMode  { return s.keyMode }

func (s *CMASource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	if s.keyMode == models.KeyModeDisabled {
		return disabledPayload(s.Name(), region.Code)
	}

	stationID, ok := s.stations[region.Code]
	if !ok {
		return models.RawPayload{
			SourceName: s.Name(),
			RegionCode: region.Code,
			FetchedAt:  time.Now().UTC(),
			Success:    false,
			Error:      &models.SourceError{Kind: models.ErrNoStationMapped},
		}
	}

	if s.keyMode == models.KeyModeSimulate {
		return s.simulate(region.Code, stationID)
	}

	url := fmt.Sprintf("%s/stations/%s/precip?key=%s", s.baseURL, stationID, s.apiKey)
	var resp cmaResponse
	if sourceErr := fetchJSON(ctx, s.client, url, &resp); sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}

	return models.RawPayload{
		SourceName: s.Name(),
		RegionCode: region.Code,
		FetchedAt:  time.Now().UTC(),
		Success:    true,
		Data:       map[string]any{"station_id": stationID, "samples": resp.Samples},
	}
}

func (s *CMASource) simulate(regionCode, stationID string) models.RawPayload {
	samples := make([]cmaSample, 8)
	seed := stableSeed(regionCode, s.Name())
	for i := range samples {
		samples[i] = cmaSample{PrecipMM: seed.float(0, 12)}
	}
	return models.RawPayload{
		SourceName: s.Name(),
		RegionCode: regionCode,
		FetchedAt:  time.Now().UTC(),
		Success:    true,
		Data:       map[string]any{"station_id": stationID, "samples": samples, "simulated": true},
	}
}

// Normalize accumulates the eight most recent 3-hour samples into rain_24h
// (§4.1). rain_1h is left absent: the CMA feed does not provide it directly.
func (s *CMASource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelMeteorology}
	if !payload.Success {
		return obs
	}

	raw, ok := payload.Data["samples"]
	if !ok {
		return obs
	}
	samples, ok := raw.([]cmaSample)
	if !ok {
		return obs
	}

	total := 0.0
	n := len(samples)
	if n > 8 {
		samples = samples[n-8:]
	}
	for _, sample := range samples {
		total += sample.PrecipMM
	}
	obs.Rain24h = ptrFloat(total)
	return obs
}
