package models

import (
	"strconv"
	"time"
)

// Channel categorizes a data source.
type Channel string

const (
	ChannelMeteorology Channel = "meteorology"
	ChannelGeology     Channel = "geology"
)

// KeyMode describes how a source's credentials were resolved at construction.
type KeyMode string

const (
	KeyModeLive     KeyMode = "live"
	KeyModeSimulate KeyMode = "simulate"
	KeyModeDisabled KeyMode = "disabled"
)

// SimulateSentinel is the credential value that puts a source into KeyModeSimulate.
const SimulateSentinel = "simulate"

// RegionInput is what the Collection Orchestrator (C2) receives per region
// from the Run Controller's selected batch.
type RegionInput struct {
	Code string
	Name string
	Lat  *float64
	Lon  *float64
}

// SourceError is the non-fatal error taxonomy a fetch can return (§4.1, §7).
type SourceError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message,omitempty"`
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *SourceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Kind + ": " + e.Message
	}
	return e.Kind
}

// Known source error kinds (§4.1, §7).
const (
	ErrDisabled           = "disabled"
	ErrDomainNotAllowed   = "domain_not_allowed"
	ErrSlugNotFound       = "slug_not_found"
	ErrHTMLParseNoMetrics = "html_parse_no_metrics"
	ErrURLCollision       = "url_collision"
	ErrRateLimited        = "rate_limited"
	ErrConnectError       = "connect_error"
	ErrTimeout            = "timeout"
	ErrAuthFailed         = "auth_failed"
	ErrKeyDiscoveryFailed = "key_discovery_failed"
	ErrNoStationMapped    = "no_station_mapped"
)

// HTTPStatusKind formats the http_status_<code> error kind (§4.1).
func HTTPStatusKind(code int) string {
	return "http_status_" + strconv.Itoa(code)
}

// RawPayload is produced by Source.Fetch. Opaque bag plus metadata; every
// failure is encoded here rather than returned as a Go error (§4.1, §9).
type RawPayload struct {
	SourceName string
	RegionCode string
	FetchedAt  time.Time
	Success    bool
	Error      *SourceError
	Data       map[string]any
	CacheHit   bool
}

// NormalizedObservation is produced by Source.Normalize. All fields are
// pointers/optional: missing means unknown, never a silent zero (§3 invariant ii).
type NormalizedObservation struct {
	Source  string  `json:"source"`
	Channel Channel `json:"channel"`

	// Meteorology fields.
	Rain24h        *float64 `json:"rain_24h,omitempty"`
	Rain1h         *float64 `json:"rain_1h,omitempty"`
	Humidity       *float64 `json:"humidity,omitempty"`
	WindSpeed      *float64 `json:"wind_speed,omitempty"`
	SoilMoisture   *float64 `json:"soil_moisture,omitempty"`
	Rain24hEst     *float64 `json:"rain_24h_est,omitempty"`
	Rain1hEst      *float64 `json:"rain_1h_est,omitempty"`
	DataQualityNote string  `json:"data_quality_note,omitempty"`

	// Geology fields.
	Slope             *float64 `json:"slope,omitempty"`
	FaultDistance     *float64 `json:"fault_distance,omitempty"`
	LithologyRisk     *float64 `json:"lithology_risk,omitempty"`
	HistoricalEvents  *int     `json:"historical_events,omitempty"`

	Notes map[string]string `json:"notes,omitempty"`
}
