package collector

import (
	"encoding/json"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
	"github.com/terrarisk/hazardengine/internal/sources"
)

// cachedPayload is the serialized form of a successful RawPayload stored in
// the cache, re-hydrated with the current region/source identity on a hit
// rather than trusting a possibly stale embedded copy.
type cachedPayload struct {
	FetchedAt int64          `json:"fetched_at"`
	Data      map[string]any `json:"data"`
}

func encodeCachedPayload(payload models.RawPayload) ([]byte, error) {
	return json.Marshal(cachedPayload{
		FetchedAt: payload.FetchedAt.Unix(),
		Data:      payload.Data,
	})
}

func decodeCachedPayload(data []byte, src sources.Source, region models.RegionInput) (models.RawPayload, error) {
	var cp cachedPayload
	if err := json.Unmarshal(data, &cp); err != nil {
		return models.RawPayload{}, err
	}
	return models.RawPayload{
		SourceName: src.Name(),
		RegionCode: region.Code,
		FetchedAt:  time.Unix(cp.FetchedAt, 0),
		Success:    true,
		Data:       cp.Data,
	}, nil
}
