// Package fusion implements C4, the Fusion & Scoring Pipeline: six ordered
// stages that turn a batch of CollectionResults into Decisions (§4.4).
package fusion

import (
	"context"
	"encoding/json"

	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/models"
)

// adjustedScoreComponent is the confidence_breakdown key used to persist a
// Decision's adjusted_score so the next run can recover it as
// previous_score for stage 5's change-threshold criterion, without adding a
// column to the warnings table.
const adjustedScoreComponent = "adjusted_score"

// Options configures the pipeline stages that are not pure functions of the
// data (§4.4's weights, thresholds, and LLM gating).
type Options struct {
	NeighborInfluenceWeight float64
	NeighborK               int

	LLMEnabled             bool
	LLMRefineMaxRegions    int
	LLMConfidenceThreshold float64
	LLMChangeThreshold     float64
	ForceLLM               bool

	Reliability reliabilityLookup
}

// Pipeline runs stages 1-6 over one batch.
type Pipeline struct {
	opts    Options
	refiner Refiner
}

func New(opts Options, refiner Refiner) *Pipeline {
	if opts.NeighborK <= 0 {
		opts.NeighborK = 5
	}
	if opts.LLMChangeThreshold <= 0 {
		opts.LLMChangeThreshold = 0.15
	}
	if opts.Reliability == nil {
		opts.Reliability = func(string) float64 { return 0.5 }
	}
	return &Pipeline{opts: opts, refiner: refiner}
}

// regionState carries one region's progress through the pipeline stages.
type regionState struct {
	result *models.CollectionResult

	merged        *models.NormalizedObservation
	dataQuality   float64
	localScore    float64
	presentWeight float64

	previousLevel string
	previousScore float64

	adjustedScore     float64
	neighborAgreement float64
	neighborCount     int

	llmDelta  float64
	reasonAdd string
}

// Run executes all six stages over the batch and returns one Decision per
// CollectionResult, in the same order as collections.
func (p *Pipeline) Run(ctx context.Context, collections []*models.CollectionResult) []models.Decision {
	states := make([]*regionState, len(collections))
	for i, c := range collections {
		states[i] = p.prepare(c)
	}

	nodes := make([]regionNode, len(states))
	for i, s := range states {
		nodes[i] = regionNode{code: s.result.RegionCode, localScore: s.localScore, lat: s.result.Lat, lon: s.result.Lon}
	}

	for i, s := range states {
		mean, count := neighborMean(nodes[i], nodes, p.opts.NeighborK)
		s.neighborCount = count
		if count < 2 {
			s.adjustedScore = s.localScore
			continue
		}
		w := p.opts.NeighborInfluenceWeight
		s.adjustedScore = (1-w)*s.localScore + w*mean
		s.neighborAgreement = 1 - absFloat(s.localScore-mean)
	}

	if p.opts.LLMEnabled && p.refiner != nil {
		p.refineSelected(ctx, states)
	}

	decisions := make([]models.Decision, len(states))
	for i, s := range states {
		decisions[i] = p.decide(s)
	}
	return decisions
}

// prepare runs stages 1-3 (validate, merge, local score) for one region and
// recovers the previous level/adjusted_score from its prior WarningRecord.
func (p *Pipeline) prepare(c *models.CollectionResult) *regionState {
	for _, obs := range c.Observations {
		validateObservation(obs)
	}

	merged := mergeObservations(c.Observations, p.opts.Reliability)
	quality := dataQualityScore(c.Observations, p.opts.Reliability)
	score, presentWeight := localRiskScore(merged, c.HistoricalPressure, defaultFeatureWeights)

	prevLevel, prevScore := previousState(c.PreviousWarning)

	return &regionState{
		result:        c,
		merged:        merged,
		dataQuality:   quality,
		localScore:    score,
		presentWeight: presentWeight,
		previousLevel: prevLevel,
		previousScore: prevScore,
	}
}

// previousState extracts the previous level and adjusted_score (persisted
// as a confidence_breakdown component) from a prior WarningRecord, so the
// pipeline can compute hysteresis and the LLM change-threshold without a
// dedicated schema column.
func previousState(prev *models.WarningRecord) (level string, adjustedScore float64) {
	if prev == nil {
		return "", 0
	}
	level = prev.Level
	if prev.Meteorology == "" {
		return level, 0
	}
	var met models.Meteorology
	if err := json.Unmarshal([]byte(prev.Meteorology), &met); err != nil {
		logger.Warn("failed to parse previous meteorology blob", "error", err)
		return level, 0
	}
	return level, met.ConfidenceBreakdown.Components[adjustedScoreComponent]
}

// refineSelected implements §4.4 stage 5: select at most LLMRefineMaxRegions
// regions by the OR-combined criteria and apply the refiner's response,
// clamped to a one-step level move and a bounded confidence delta.
func (p *Pipeline) refineSelected(ctx context.Context, states []*regionState) {
	baseConf := make([]float64, len(states))
	candidates := make([]string, len(states))
	for i, s := range states {
		baseConf[i] = baseConfidence(s.dataQuality, s.presentWeight, totalWeight(defaultFeatureWeights))
		candidates[i] = applyHysteresis(s.adjustedScore, s.previousLevel)
	}

	selected := 0
	for i, s := range states {
		if selected >= p.opts.LLMRefineMaxRegions {
			break
		}
		if !shouldRefine(s.adjustedScore, s.previousScore, baseConf[i], p.opts.LLMChangeThreshold, p.opts.LLMConfidenceThreshold, p.opts.ForceLLM) {
			continue
		}

		resp, err := p.refiner.Refine(ctx, RefinementRequest{
			RegionCode:         s.result.RegionCode,
			Merged:             s.merged,
			PreviousLevel:      s.previousLevel,
			CandidateLevel:     candidates[i],
			HistoricalPressure: s.result.HistoricalPressure,
		})
		selected++
		if err != nil {
			logger.Warn("llm refinement failed", "region_code", s.result.RegionCode, "error", err)
			continue
		}

		if resp.LevelOverride != "" {
			clamped := clampLevelOverride(candidates[i], resp.LevelOverride)
			s.adjustedScore = levelMidpoint(clamped)
		}
		s.llmDelta = resp.ConfidenceDelta
		s.reasonAdd = resp.ReasonAppend
	}
}

// levelMidpoint re-anchors adjustedScore after an LLM level override so
// stage 6's threshold mapping reproduces the overridden level.
func levelMidpoint(level string) float64 {
	switch level {
	case models.LevelRed:
		return thresholdRed + 0.05
	case models.LevelOrange:
		return (thresholdOrange + thresholdRed) / 2
	case models.LevelYellow:
		return (thresholdYellow + thresholdOrange) / 2
	default:
		return thresholdYellow / 2
	}
}

// decide runs stage 6 and assembles the final Decision.
func (p *Pipeline) decide(s *regionState) models.Decision {
	if allSourcesFailed(s.result.Status) && s.result.PreviousWarning != nil {
		return retainedDecision(s.result)
	}

	level := applyHysteresis(s.adjustedScore, s.previousLevel)
	candidates := hazardCandidates(s.merged)
	reason := composeReason(level, candidates, s.reasonAdd)

	base := baseConfidence(s.dataQuality, s.presentWeight, totalWeight(defaultFeatureWeights))
	agreement := sourceAgreement(s.result.Observations)
	margin := thresholdMarginFor(s.adjustedScore, level)
	breakdown := buildConfidenceBreakdown(base, s.neighborAgreement, s.llmDelta, margin, agreement)
	breakdown.Components[adjustedScoreComponent] = s.adjustedScore

	return models.Decision{
		RegionCode: s.result.RegionCode,
		Level:      level,
		Reason:     reason,
		Confidence: breakdown.FinalConfidence,
		Meteorology: models.Meteorology{
			MergedObservation:   s.merged,
			SourceStatus:        s.result.Status,
			HazardCandidates:    candidates,
			ConfidenceBreakdown: breakdown,
		},
	}
}

func allSourcesFailed(status *models.SourceStatus) bool {
	if status == nil {
		return true
	}
	for _, names := range status.Success {
		if len(names) > 0 {
			return false
		}
	}
	return true
}

// retainedDecision implements the §7 "all sources failed" edge case: the
// region keeps its previous WarningRecord's level/reason rather than being
// overwritten with a fabricated green.
func retainedDecision(c *models.CollectionResult) models.Decision {
	prev := c.PreviousWarning
	var met models.Meteorology
	if prev.Meteorology != "" {
		_ = json.Unmarshal([]byte(prev.Meteorology), &met)
	}
	met.SourceStatus = c.Status
	return models.Decision{
		RegionCode:  c.RegionCode,
		Level:       prev.Level,
		Reason:      prev.Reason,
		Confidence:  prev.Confidence,
		Meteorology: met,
		Retained:    true,
	}
}

func thresholdMarginFor(score float64, level string) float64 {
	rank := models.LevelRank(level)
	return score - levelThreshold(rank)
}
