package models

// ConfidenceBreakdown enumerates the components that fed the final
// confidence score (§6 meteorology JSON shape, step 6 of the fusion
// pipeline).
type ConfidenceBreakdown struct {
	Formula         string             `json:"formula"`
	FinalConfidence float64            `json:"final_confidence"`
	Components      map[string]float64 `json:"components"`
}

// Meteorology is the JSON-string blob persisted on a WarningRecord and
// mirrored in delta broadcasts (§6 meteorology JSON shape).
type Meteorology struct {
	MergedObservation  *NormalizedObservation `json:"merged_observation"`
	SourceStatus       *SourceStatus           `json:"source_status"`
	HazardCandidates   []string                `json:"hazard_candidates"`
	ConfidenceBreakdown ConfidenceBreakdown    `json:"confidence_breakdown"`
}

// Decision is the per-region output of the fusion pipeline (§3).
type Decision struct {
	RegionCode  string
	Level       string  // green|yellow|orange|red
	Reason      string
	Confidence  float64 // [0,1]
	Meteorology Meteorology

	// Retained is true when all sources failed and the previous
	// WarningRecord was kept as-is rather than overwritten (§7).
	Retained bool
}
