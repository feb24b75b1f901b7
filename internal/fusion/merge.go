package fusion

import "github.com/terrarisk/hazardengine/internal/models"

// reliabilityLookup resolves a source name to its registered reliability
// weight, used by validate and mergeChannel.
type reliabilityLookup func(sourceName string) float64

// validateObservation applies stage 1 (§4.4): rain_1h outliers against
// rain_24h are zeroed rather than dropped, negative values are treated as
// absent so a sensor glitch never silently reads as zero risk.
func validateObservation(obs *models.NormalizedObservation) {
	if obs.Rain1h != nil && obs.Rain24h != nil && *obs.Rain1h > *obs.Rain24h {
		zero := 0.0
		obs.Rain1h = &zero
	}

	clampNegative(&obs.Rain24h)
	clampNegative(&obs.Rain1h)
	clampNegative(&obs.Humidity)
	clampNegative(&obs.WindSpeed)
	clampNegative(&obs.SoilMoisture)
	clampNegative(&obs.Rain24hEst)
	clampNegative(&obs.Rain1hEst)
	clampNegative(&obs.Slope)
	clampNegative(&obs.FaultDistance)
	clampNegative(&obs.LithologyRisk)
}

func clampNegative(v **float64) {
	if *v != nil && **v < 0 {
		*v = nil
	}
}

// essentialFields lists the fields a region's data_quality_score is
// measured against (§4.4 stage 1). historical_pressure is excluded since it
// is not contributed by any single source.
var essentialFields = []string{"rain_24h", "rain_1h", "soil_moisture", "slope", "fault_distance", "lithology_risk", "wind_speed"}

func fieldValue(obs *models.NormalizedObservation, field string) (float64, bool) {
	switch field {
	case "rain_24h":
		return derefOrEst(obs.Rain24h, obs.Rain24hEst)
	case "rain_1h":
		return derefOrEst(obs.Rain1h, obs.Rain1hEst)
	case "soil_moisture":
		return deref(obs.SoilMoisture)
	case "slope":
		return deref(obs.Slope)
	case "fault_distance":
		return deref(obs.FaultDistance)
	case "lithology_risk":
		return deref(obs.LithologyRisk)
	case "wind_speed":
		return deref(obs.WindSpeed)
	default:
		return 0, false
	}
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// derefOrEst prefers the non-estimated field, falling to the `_est` variant
// only when the real field is entirely absent (§4.4 stage 3).
func derefOrEst(real, est *float64) (float64, bool) {
	if real != nil {
		return *real, true
	}
	if est != nil {
		return *est, true
	}
	return 0, false
}

// dataQualityScore is the reliability-weighted coverage of essentialFields
// across every source that reported for the region (§4.4 stage 1).
func dataQualityScore(observations map[string]*models.NormalizedObservation, reliability reliabilityLookup) float64 {
	if len(observations) == 0 {
		return 0
	}
	var weightedCoverage, weightSum float64
	for name, obs := range observations {
		r := reliability(name)
		present := 0
		for _, f := range essentialFields {
			if _, ok := fieldValue(obs, f); ok {
				present++
			}
		}
		coverage := float64(present) / float64(len(essentialFields))
		weightedCoverage += r * coverage
		weightSum += r
	}
	if weightSum == 0 {
		return 0
	}
	return weightedCoverage / weightSum
}

// mergeChannel implements stage 3 (§4.4): numeric fields become the
// reliability-weighted mean over sources that reported them; the
// data-quality note is taken from the highest-reliability source that set
// one.
func mergeChannel(observations map[string]*models.NormalizedObservation, channel models.Channel, reliability reliabilityLookup) *models.NormalizedObservation {
	merged := &models.NormalizedObservation{Channel: channel, Notes: map[string]string{}}

	names := []string{"rain_24h", "rain_1h", "humidity", "wind_speed", "soil_moisture", "slope", "fault_distance", "lithology_risk"}
	for _, field := range names {
		// An _est field is only admitted into the mean once the real field
		// is entirely absent across every source for this channel (§4.4
		// stage 3); otherwise a source's estimate would drag down a mean
		// that another source already reported for real.
		useEst := isEstEligible(field) && !anyRealChannelField(observations, channel, field)

		weighted, total := 0.0, 0.0
		for name, obs := range observations {
			if obs.Channel != channel {
				continue
			}
			v, ok := resolvedChannelFieldValue(obs, field, useEst)
			if !ok {
				continue
			}
			r := reliability(name)
			weighted += r * v
			total += r
		}
		if total > 0 {
			setChannelField(merged, field, weighted/total)
		}
	}

	// historical_events is a count; take the max reported, since any single
	// geology source's record count is authoritative on its own.
	var maxEvents *int
	var bestQualityNote string
	var bestQualityReliability float64 = -1
	for name, obs := range observations {
		if obs.Channel != channel {
			continue
		}
		if obs.HistoricalEvents != nil && (maxEvents == nil || *obs.HistoricalEvents > *maxEvents) {
			v := *obs.HistoricalEvents
			maxEvents = &v
		}
		if obs.DataQualityNote != "" {
			if r := reliability(name); r > bestQualityReliability {
				bestQualityReliability = r
				bestQualityNote = obs.DataQualityNote
			}
		}
	}
	merged.HistoricalEvents = maxEvents
	merged.DataQualityNote = bestQualityNote

	return merged
}

// channelFieldValue reads a merge-eligible field by name, preferring the
// real value and falling back to its `_est` variant only when absent.
func channelFieldValue(obs *models.NormalizedObservation, field string) (float64, bool) {
	switch field {
	case "rain_24h":
		return derefOrEst(obs.Rain24h, obs.Rain24hEst)
	case "rain_1h":
		return derefOrEst(obs.Rain1h, obs.Rain1hEst)
	case "humidity":
		return deref(obs.Humidity)
	case "wind_speed":
		return deref(obs.WindSpeed)
	case "soil_moisture":
		return deref(obs.SoilMoisture)
	case "slope":
		return deref(obs.Slope)
	case "fault_distance":
		return deref(obs.FaultDistance)
	case "lithology_risk":
		return deref(obs.LithologyRisk)
	default:
		return 0, false
	}
}

// isEstEligible reports whether field carries a `_est` companion that
// mergeChannel may fall back to.
func isEstEligible(field string) bool {
	return field == "rain_24h" || field == "rain_1h"
}

// realChannelField returns the non-estimated pointer for an est-eligible
// field, or nil for fields without an estimate companion.
func realChannelField(obs *models.NormalizedObservation, field string) *float64 {
	switch field {
	case "rain_24h":
		return obs.Rain24h
	case "rain_1h":
		return obs.Rain1h
	default:
		return nil
	}
}

// estChannelField returns the `_est` pointer for an est-eligible field.
func estChannelField(obs *models.NormalizedObservation, field string) *float64 {
	switch field {
	case "rain_24h":
		return obs.Rain24hEst
	case "rain_1h":
		return obs.Rain1hEst
	default:
		return nil
	}
}

// anyRealChannelField reports whether any source in channel reported the
// real (non-estimated) value of field, across all sources for the region.
func anyRealChannelField(observations map[string]*models.NormalizedObservation, channel models.Channel, field string) bool {
	for _, obs := range observations {
		if obs.Channel != channel {
			continue
		}
		if realChannelField(obs, field) != nil {
			return true
		}
	}
	return false
}

// resolvedChannelFieldValue reads field from obs under the channel-wide
// est-vs-real decision useEst already made for this field (§4.4 stage 3):
// non-est-eligible fields behave exactly like channelFieldValue, but
// est-eligible fields read only the real pointer or only the `_est` pointer,
// never mixing the two within a single mean.
func resolvedChannelFieldValue(obs *models.NormalizedObservation, field string, useEst bool) (float64, bool) {
	if !isEstEligible(field) {
		return channelFieldValue(obs, field)
	}
	if useEst {
		return deref(estChannelField(obs, field))
	}
	return deref(realChannelField(obs, field))
}

func setChannelField(merged *models.NormalizedObservation, field string, v float64) {
	val := v
	switch field {
	case "rain_24h":
		merged.Rain24h = &val
	case "rain_1h":
		merged.Rain1h = &val
	case "humidity":
		merged.Humidity = &val
	case "wind_speed":
		merged.WindSpeed = &val
	case "soil_moisture":
		merged.SoilMoisture = &val
	case "slope":
		merged.Slope = &val
	case "fault_distance":
		merged.FaultDistance = &val
	case "lithology_risk":
		merged.LithologyRisk = &val
	}
}

// mergeObservations merges both channels and folds the result into a single
// NormalizedObservation carrying every field the scoring function reads,
// taking meteorology's DataQualityNote and falling back to geology's only
// when meteorology has none.
func mergeObservations(observations map[string]*models.NormalizedObservation, reliability reliabilityLookup) *models.NormalizedObservation {
	met := mergeChannel(observations, models.ChannelMeteorology, reliability)
	geo := mergeChannel(observations, models.ChannelGeology, reliability)

	merged := &models.NormalizedObservation{Notes: map[string]string{}}
	merged.Rain24h, merged.Rain1h = met.Rain24h, met.Rain1h
	merged.Humidity, merged.WindSpeed, merged.SoilMoisture = met.Humidity, met.WindSpeed, met.SoilMoisture
	merged.DataQualityNote = met.DataQualityNote

	merged.Slope, merged.FaultDistance = geo.Slope, geo.FaultDistance
	merged.LithologyRisk, merged.HistoricalEvents = geo.LithologyRisk, geo.HistoricalEvents
	if merged.DataQualityNote == "" {
		merged.DataQualityNote = geo.DataQualityNote
	}

	return merged
}
