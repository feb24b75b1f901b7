package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/models"
)

// maxConfidenceDelta bounds confidence_delta from the LLM response (§4.4
// stage 5).
const maxConfidenceDelta = 0.2

// RefinementRequest is the compact payload sent to the LLM for one
// selected region (§4.4 stage 5): the merged observation, the previous
// snapshot, and the candidate level the deterministic stages arrived at.
type RefinementRequest struct {
	RegionCode         string
	Merged             *models.NormalizedObservation
	PreviousLevel      string
	CandidateLevel     string
	HistoricalPressure int
}

// RefinementResponse is the parsed LLM reply.
type RefinementResponse struct {
	LevelOverride   string
	ReasonAppend    string
	ConfidenceDelta float64
}

// Refiner is the C4 stage 5 collaborator; AnthropicRefiner is the production
// implementation, tests supply a fake.
type Refiner interface {
	Refine(ctx context.Context, req RefinementRequest) (*RefinementResponse, error)
}

// AnthropicRefiner calls the Anthropic Messages API to refine a candidate
// decision, per the grounding in the domain-stack wiring for C4 stage 5.
type AnthropicRefiner struct {
	client anthropic.Client
	model  string
}

func NewAnthropicRefiner(apiKey, model string) *AnthropicRefiner {
	return &AnthropicRefiner{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (r *AnthropicRefiner) Refine(ctx context.Context, req RefinementRequest) (*RefinementResponse, error) {
	prompt := buildRefinementPrompt(req)

	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseRefinementResponse(req.RegionCode, text.String())
}

func buildRefinementPrompt(req RefinementRequest) string {
	observation, _ := json.Marshal(req.Merged)
	return fmt.Sprintf(
		"Region %s currently scores as %q (previous level %q, historical_pressure=%d). "+
			"Merged observation: %s. "+
			"Reply with JSON only: {\"level_override\": string|null, \"reason_append\": string, \"confidence_delta\": number}. "+
			"reason_append must be written in Chinese.",
		req.RegionCode, req.CandidateLevel, req.PreviousLevel, req.HistoricalPressure, observation,
	)
}

type rawRefinementResponse struct {
	LevelOverride   *string `json:"level_override"`
	ReasonAppend    string  `json:"reason_append"`
	ConfidenceDelta float64 `json:"confidence_delta"`
}

// parseRefinementResponse implements the §4.4 stage 5 parse contract:
// reason_append is only honored when it contains at least one CJK
// character (guards against an English fallback reply being appended
// verbatim); confidence_delta is clipped to ±0.2 regardless of what the
// model returned.
func parseRefinementResponse(regionCode, text string) (*RefinementResponse, error) {
	text = extractJSONObject(text)
	var raw rawRefinementResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("llm_parse_failed: %w", err)
	}

	resp := &RefinementResponse{ConfidenceDelta: clipConfidenceDelta(raw.ConfidenceDelta)}
	if raw.LevelOverride != nil {
		resp.LevelOverride = *raw.LevelOverride
	}
	if containsCJK(raw.ReasonAppend) {
		resp.ReasonAppend = raw.ReasonAppend
	} else if raw.ReasonAppend != "" {
		logger.Warn("llm reason_append rejected: no CJK content", "region_code", regionCode)
	}
	return resp, nil
}

func clipConfidenceDelta(v float64) float64 {
	if v > maxConfidenceDelta {
		return maxConfidenceDelta
	}
	if v < -maxConfidenceDelta {
		return -maxConfidenceDelta
	}
	return v
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// extractJSONObject trims any prose the model wrapped the JSON object in,
// taking the substring between the first '{' and the last '}'.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

// clampLevelOverride enforces the one-step clamp resolving §9 Open
// Question (b): level_override may only move the candidate level by one
// rank in either direction.
func clampLevelOverride(candidate, override string) string {
	candidateRank := models.LevelRank(candidate)
	overrideRank := models.LevelRank(override)
	if overrideRank < 0 {
		return candidate
	}
	switch {
	case overrideRank > candidateRank+1:
		return rankToLevel(candidateRank + 1)
	case overrideRank < candidateRank-1:
		return rankToLevel(candidateRank - 1)
	default:
		return override
	}
}

func rankToLevel(rank int) string {
	switch rank {
	case 0:
		return models.LevelGreen
	case 1:
		return models.LevelYellow
	case 2:
		return models.LevelOrange
	case 3:
		return models.LevelRed
	default:
		return models.LevelGreen
	}
}

// shouldRefine implements the OR-combined stage 5 selection criteria.
func shouldRefine(adjustedScore, previousScore, baseConfidence, changeThreshold, confidenceThreshold float64, forceLLM bool) bool {
	if forceLLM {
		return true
	}
	if absFloat(adjustedScore-previousScore) > changeThreshold {
		return true
	}
	return baseConfidence < confidenceThreshold
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
