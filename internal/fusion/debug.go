package fusion

import (
	"fmt"

	"github.com/terrarisk/hazardengine/internal/models"
)

// DebugRandomize implements the debug_randomize() control operation (§6):
// it synthesizes plausible Decisions for a list of regions without
// consulting any source or the LLM, sharing the same Decision type real
// runs produce so the Delta Publisher code path is identical for both.
// rngFloat is injected so tests can drive it deterministically; the control
// API passes an unseeded math/rand generator. Each Decision's confidence and
// its breakdown's final_confidence are the same drawn value.
func DebugRandomize(regions []models.RegionInput, rngFloat func(min, max float64) float64) []models.Decision {
	decisions := make([]models.Decision, 0, len(regions))
	for _, region := range regions {
		score := rngFloat(0, 1)
		level := levelForScore(score)

		rain := rngFloat(0, 120)
		slope := rngFloat(0, 40)
		confidence := rngFloat(0.4, 0.95)
		merged := &models.NormalizedObservation{
			Rain24h: &rain,
			Slope:   &slope,
		}
		candidates := hazardCandidates(merged)

		decisions = append(decisions, models.Decision{
			RegionCode: region.Code,
			Level:      level,
			Reason:     fmt.Sprintf("synthetic debug decision for %s", region.Code),
			Confidence: confidence,
			Meteorology: models.Meteorology{
				MergedObservation: merged,
				SourceStatus:      models.NewSourceStatus(),
				HazardCandidates:  candidates,
				ConfidenceBreakdown: models.ConfidenceBreakdown{
					Formula:         "debug_randomize: uniform random, not derived from any source",
					FinalConfidence: confidence,
					Components:      map[string]float64{"synthetic": 1},
				},
			},
		})
	}
	return decisions
}
