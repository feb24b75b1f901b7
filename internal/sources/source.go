// Package sources implements C1, the Source Registry & Adapters: the seven
// meteorology/geology data sources the Collection Orchestrator fans out
// over, plus the shared scraping guardrails they depend on.
package sources

import (
	"context"

	"github.com/terrarisk/hazardengine/internal/models"
)

// Source is the pluggable per-source adapter contract (§4.1). Fetch must
// never return a Go error for a source-level failure — every failure is
// encoded in RawPayload.Error so the orchestrator can keep going on a
// region's other sources.
type Source interface {
	Name() string
	Channel() models.Channel
	Reliability() float64
	KeyMode() models.KeyMode
	Fetch(ctx context.Context, region models.RegionInput) models.RawPayload
	Normalize(payload models.RawPayload) models.NormalizedObservation
}

// Reliability defaults (§4.1).
const (
	ReliabilityCMA         = 0.92
	ReliabilityAMap        = 0.70
	ReliabilityWUAPI       = 0.62
	ReliabilityOpenWeather = 0.65
	ReliabilityWeatherScr  = 0.45
	ReliabilityCGS         = 0.88
	ReliabilityGeologyScr  = 0.40
)

// Registry holds the configured set of sources, partitioned by channel.
type Registry struct {
	bySource map[string]Source
	byChannel map[models.Channel][]Source
}

// NewRegistry builds a registry from an explicit source list, so tests can
// construct a registry from fakes without touching real network adapters.
func NewRegistry(list []Source) *Registry {
	r := &Registry{
		bySource:  make(map[string]Source, len(list)),
		byChannel: make(map[models.Channel][]Source),
	}
	for _, s := range list {
		r.bySource[s.Name()] = s
		r.byChannel[s.Channel()] = append(r.byChannel[s.Channel()], s)
	}
	return r
}

// All returns every registered source, enabled or not; callers filter on
// KeyMode() == disabled themselves so the orchestrator can still record a
// `disabled` status entry for visibility.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.bySource))
	for _, s := range r.bySource {
		out = append(out, s)
	}
	return out
}

// ByChannel returns the sources registered under a channel.
func (r *Registry) ByChannel(ch models.Channel) []Source {
	return r.byChannel[ch]
}

// Get looks up a source by name.
func (r *Registry) Get(name string) (Source, bool) {
	s, ok := r.bySource[name]
	return s, ok
}

// resolveKeyMode implements the construction-time mode decision shared by
// every credentialed source (§4.1): empty → disabled, the "simulate"
// sentinel → simulate, anything else → live. Placeholder values are not
// recognized; a non-empty placeholder resolves to live.
func resolveKeyMode(credential string) models.KeyMode {
	switch credential {
	case "":
		return models.KeyModeDisabled
	case models.SimulateSentinel:
		return models.KeyModeSimulate
	default:
		return models.KeyModeLive
	}
}

func disabledPayload(sourceName, regionCode string) models.RawPayload {
	return models.RawPayload{
		SourceName: sourceName,
		RegionCode: regionCode,
		Success:    false,
		Error:      &models.SourceError{Kind: models.ErrDisabled},
	}
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
