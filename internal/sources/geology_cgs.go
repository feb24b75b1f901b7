package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// CGSSource is the authoritative geology adapter (§4.1): slope, fault
// distance, lithology risk and historical event count from a geological
// survey API.
type CGSSource struct {
	apiKey  string
	keyMode models.KeyMode
	baseURL string
	client  *http.Client
}

type cgsResponse struct {
	SlopeDegrees      *float64 `json:"slope_degrees"`
	FaultDistanceKM   *float64 `json:"fault_distance_km"`
	LithologyRisk     *float64 `json:"lithology_risk"`
	HistoricalEvents  *int     `json:"historical_events"`
}

func NewCGSSource(apiKey, baseURL string) *CGSSource {
	return &CGSSource{apiKey: apiKey, keyMode: resolveKeyMode(apiKey), baseURL: baseURL, client: newHTTPClient(10 * time.Second)}
}

func (s *CGSSource) Name() string            { return "geology_cgs" }
func (s *CGSSource) Channel() models.Channel { return models.ChannelGeology }
func (s *CGSSource) Reliability() float64    { return ReliabilityCGS }
func (s *CGSSource) KeyMode() models.KeyMode { return s.keyMode }

func (s *CGSSource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	if s.keyMode == models.KeyModeDisabled {
		return disabledPayload(s.Name(), region.Code)
	}
	if s.keyMode == models.KeyModeSimulate {
		seed := stableSeed(region.Code, s.Name())
		return models.RawPayload{
			SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true,
			Data: map[string]any{
				"slope": seed.float(0, 45), "fault_distance": seed.float(0.5, 50),
				"lithology_risk": seed.float(0, 1), "historical_events": seed.int(0, 5), "simulated": true,
			},
		}
	}

	url := fmt.Sprintf("%s/geology?lat=%v&lon=%v&key=%s", s.baseURL, region.Lat, region.Lon, s.apiKey)
	var resp cgsResponse
	if sourceErr := fetchJSON(ctx, s.client, url, &resp); sourceErr != nil {
		return models.RawPayload{SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: false, Error: sourceErr}
	}
	return models.RawPayload{
		SourceName: s.Name(), RegionCode: region.Code, FetchedAt: time.Now().UTC(), Success: true,
		Data: map[string]any{
			"slope": resp.SlopeDegrees, "fault_distance": resp.FaultDistanceKM,
			"lithology_risk": resp.LithologyRisk, "historical_events": resp.HistoricalEvents,
		},
	}
}

func (s *CGSSource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: s.Name(), Channel: models.ChannelGeology}
	if !payload.Success {
		return obs
	}
	obs.Slope = extractFloat(payload.Data["slope"])
	obs.FaultDistance = extractFloat(payload.Data["fault_distance"])
	obs.LithologyRisk = extractFloat(payload.Data["lithology_risk"])
	obs.HistoricalEvents = extractInt(payload.Data["historical_events"])
	return obs
}

func extractInt(v any) *int {
	switch t := v.(type) {
	case int:
		return ptrInt(t)
	case *int:
		return t
	default:
		return nil
	}
}
