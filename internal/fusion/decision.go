package fusion

import (
	"fmt"
	"strings"

	"github.com/terrarisk/hazardengine/internal/models"
)

// Threshold boundaries for the four risk levels (§4.4 stage 6):
// green<0.3≤yellow<0.55≤orange<0.8≤red.
const (
	thresholdYellow = 0.3
	thresholdOrange = 0.55
	thresholdRed    = 0.8

	// hysteresisUpMargin/hysteresisDownMargin are the minimum amounts a
	// score must clear a threshold by before the level is allowed to move,
	// preventing level flapping around a boundary (§8 hysteresis property).
	hysteresisUpMargin   = 0.02
	hysteresisDownMargin = 0.04
)

// levelForScore maps a raw score to a level with no hysteresis applied; it
// yields the pre-hysteresis candidate (levelThreshold sizes the margins).
func levelForScore(score float64) string {
	switch {
	case score >= thresholdRed:
		return models.LevelRed
	case score >= thresholdOrange:
		return models.LevelOrange
	case score >= thresholdYellow:
		return models.LevelYellow
	default:
		return models.LevelGreen
	}
}

// applyHysteresis implements §4.4 stage 6's hysteresis rule: moving to a
// higher level requires exceeding its threshold by hysteresisUpMargin;
// moving to a lower level requires being below the current level's own
// threshold by hysteresisDownMargin, and only by one step at a time.
func applyHysteresis(score float64, previousLevel string) string {
	candidate := levelForScore(score)
	if previousLevel == "" {
		return candidate
	}

	prevRank := models.LevelRank(previousLevel)
	candRank := models.LevelRank(candidate)

	if candRank > prevRank {
		if clearsUpwardMargin(score, candRank) {
			return candidate
		}
		return previousLevel
	}
	if candRank < prevRank {
		if prevRank-candRank > 1 {
			candRank = prevRank - 1
			candidate = rankToLevel(candRank)
		}
		if clearsDownwardMargin(score, prevRank) {
			return candidate
		}
		return previousLevel
	}
	return candidate
}

func levelThreshold(rank int) float64 {
	switch rank {
	case 1:
		return thresholdYellow
	case 2:
		return thresholdOrange
	case 3:
		return thresholdRed
	default:
		return 0
	}
}

func clearsUpwardMargin(score float64, candidateRank int) bool {
	return score >= levelThreshold(candidateRank)+hysteresisUpMargin
}

func clearsDownwardMargin(score float64, previousRank int) bool {
	return score < levelThreshold(previousRank)-hysteresisDownMargin
}

// hazardRule is one ordered entry in the hazard_candidates ruleset (§4.4
// stage 6); rules are evaluated in order and matching rules are appended in
// match order, duplicate-suppressed.
type hazardRule struct {
	name  string
	match func(obs *models.NormalizedObservation) bool
}

var hazardRules = []hazardRule{
	{
		name: "landslide",
		match: func(o *models.NormalizedObservation) bool {
			return gte(o.Rain24h, 60) && gte(o.Slope, 20)
		},
	},
	{
		name: "debris_flow",
		match: func(o *models.NormalizedObservation) bool {
			return gte(o.Rain1h, 20) && lte(o.FaultDistance, 5) && gte(o.LithologyRisk, 0.4)
		},
	},
	{
		name: "flood",
		match: func(o *models.NormalizedObservation) bool {
			return gte(o.Rain24h, 80) && lte(o.Slope, 10)
		},
	},
	{
		name: "soil_liquefaction",
		match: func(o *models.NormalizedObservation) bool {
			return gte(o.SoilMoisture, 0.6) && lte(o.FaultDistance, 10)
		},
	},
}

func gte(v *float64, threshold float64) bool { return v != nil && *v >= threshold }
func lte(v *float64, threshold float64) bool { return v != nil && *v <= threshold }

// hazardCandidates evaluates hazardRules in order (§4.4 stage 6).
func hazardCandidates(merged *models.NormalizedObservation) []string {
	var out []string
	for _, rule := range hazardRules {
		if rule.match(merged) {
			out = append(out, rule.name)
		}
	}
	return out
}

// composeReason writes a human-readable explanation, suppressing a hazard
// phrase that would otherwise be said twice between the automatic summary
// and an LLM reason_append.
func composeReason(level string, candidates []string, reasonAppend string) string {
	var b strings.Builder
	if len(candidates) == 0 {
		fmt.Fprintf(&b, "Risk level %s: no specific hazard pattern matched, score driven by general conditions.", level)
	} else {
		fmt.Fprintf(&b, "Risk level %s: conditions consistent with %s.", level, strings.Join(candidates, ", "))
	}
	if reasonAppend != "" && !strings.Contains(b.String(), reasonAppend) {
		b.WriteString(" ")
		b.WriteString(reasonAppend)
	}
	return b.String()
}

// buildConfidenceBreakdown assembles the §6 meteorology JSON contract's
// confidence_breakdown: one component per contributing factor. final_confidence
// averages coverage and agreement, adds llm_delta and clamps to [0,1];
// neighbor_agreement and threshold_margin are recorded but do not enter it.
func buildConfidenceBreakdown(base, neighborAgreement, llmDelta, thresholdMargin float64, agreement float64) models.ConfidenceBreakdown {
	components := map[string]float64{
		"coverage":            base,
		"agreement":           agreement,
		"neighbor_agreement":  neighborAgreement,
		"llm_delta":           llmDelta,
		"threshold_margin":    thresholdMargin,
	}
	final := base*0.5 + agreement*0.5 + llmDelta
	if final < 0 {
		final = 0
	}
	if final > 1 {
		final = 1
	}
	return models.ConfidenceBreakdown{
		Formula:         "coverage*0.5 + agreement*0.5 + llm_delta, clamped to [0,1]",
		FinalConfidence: final,
		Components:      components,
	}
}

// sourceAgreement measures how tightly sources within a channel agree on
// rain_24h (the most commonly multi-sourced field), as a [0,1] score where
// 1 means perfect agreement. Returns 1 when fewer than two sources reported
// the field, since there is nothing to disagree on.
func sourceAgreement(observations map[string]*models.NormalizedObservation) float64 {
	var values []float64
	for _, obs := range observations {
		if obs.Rain24h != nil {
			values = append(values, *obs.Rain24h)
		}
	}
	if len(values) < 2 {
		return 1
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 1
	}
	spread := (max - min) / max
	agreement := 1 - spread
	if agreement < 0 {
		agreement = 0
	}
	return agreement
}
