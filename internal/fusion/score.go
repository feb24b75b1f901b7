package fusion

import "github.com/terrarisk/hazardengine/internal/models"

// featureWeight is the default weight for one local-risk feature (§4.4
// "Local-risk weighting"). Weights need not sum to 1; absent-feature weight
// is redistributed proportionally among the features that are present.
type featureWeight struct {
	name      string
	weight    float64
	saturation float64
	invert    bool // true for fault_distance: closer is riskier
}

// defaultFeatureWeights mirrors the feature list named in §4.4. Saturation
// values are the point past which the feature is considered maximally
// hazardous for its piecewise-linear transform.
var defaultFeatureWeights = []featureWeight{
	{name: "rain_24h", weight: 0.22, saturation: 100},
	{name: "rain_1h", weight: 0.14, saturation: 40},
	{name: "soil_moisture", weight: 0.14, saturation: 1.0},
	{name: "slope", weight: 0.16, saturation: 30},
	{name: "fault_distance", weight: 0.12, saturation: 10, invert: true},
	{name: "lithology_risk", weight: 0.12, saturation: 1.0},
	{name: "historical_pressure", weight: 0.06, saturation: 5},
	{name: "wind_speed", weight: 0.04, saturation: 30},
}

// featureValue extracts one scoring feature from the merged observation,
// plus historical_pressure which lives outside NormalizedObservation.
func featureValue(merged *models.NormalizedObservation, historicalPressure int, name string) (float64, bool) {
	switch name {
	case "historical_pressure":
		return float64(historicalPressure), true
	default:
		return channelFieldValue(merged, name)
	}
}

// transform is the piecewise-linear saturating function f_i(x): 0 below
// zero, linear up to saturation, clamped at 1 beyond it. invert flips the
// ramp for features where a smaller value is riskier (fault_distance).
func transform(x, saturation float64, invert bool) float64 {
	if saturation <= 0 {
		return 0
	}
	v := x / saturation
	if invert {
		v = 1 - v
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

// localRiskScore implements §4.4 stage 2: Score = clamp(Σ w_i·f_i(x), 0, 1),
// redistributing an absent feature's weight proportionally among the
// features that are present rather than treating it as zero.
func localRiskScore(merged *models.NormalizedObservation, historicalPressure int, weights []featureWeight) (score float64, presentWeight float64) {
	var totalPresentWeight float64
	type contribution struct {
		weight float64
		value  float64
	}
	var contributions []contribution

	for _, fw := range weights {
		v, ok := featureValue(merged, historicalPressure, fw.name)
		if !ok {
			continue
		}
		totalPresentWeight += fw.weight
		contributions = append(contributions, contribution{weight: fw.weight, value: transform(v, fw.saturation, fw.invert)})
	}

	if totalPresentWeight == 0 {
		return 0, 0
	}

	var sum float64
	for _, c := range contributions {
		redistributed := c.weight / totalPresentWeight
		sum += redistributed * c.value
	}
	if sum < 0 {
		sum = 0
	}
	if sum > 1 {
		sum = 1
	}
	return sum, totalPresentWeight
}

// baseConfidence combines data quality and feature coverage into the
// pre-neighbor, pre-LLM confidence carried through to the decision stage.
func baseConfidence(dataQuality, presentWeight, totalWeight float64) float64 {
	if totalWeight == 0 {
		return 0
	}
	coverage := presentWeight / totalWeight
	conf := 0.5*dataQuality + 0.5*coverage
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func totalWeight(weights []featureWeight) float64 {
	var sum float64
	for _, w := range weights {
		sum += w.weight
	}
	return sum
}
