package models

// SourceStatus partitions which sources succeeded/failed for a region,
// grouped by channel, plus per-source error detail (§3, §6 wire shape).
type SourceStatus struct {
	Success map[Channel][]string          `json:"success"`
	Errors  map[string]*SourceError        `json:"errors"`
}

func NewSourceStatus() *SourceStatus {
	return &SourceStatus{
		Success: map[Channel][]string{},
		Errors:  map[string]*SourceError{},
	}
}

// CollectionResult is the per-region aggregate the Collection Orchestrator
// (C2) hands to the Fusion Pipeline (C4).
type CollectionResult struct {
	RegionCode string
	RegionName string
	Lat        *float64 // carried through from RegionInput for neighbor influence (§4.4 stage 4)
	Lon        *float64

	Observations map[string]*NormalizedObservation // source name -> observation
	Status       *SourceStatus

	HistoricalPressure int // count of qualifying past warnings, §4.2
	PreviousWarning    *WarningRecord
}
