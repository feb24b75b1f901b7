package collector

import (
	"context"
	"testing"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
	"github.com/terrarisk/hazardengine/internal/sources"
)

type fakeSource struct {
	name      string
	channel   models.Channel
	fail      bool
	rain24h   float64
	callCount int
}

func (f *fakeSource) Name() string             { return f.name }
func (f *fakeSource) Channel() models.Channel  { return f.channel }
func (f *fakeSource) Reliability() float64     { return 0.8 }
func (f *fakeSource) KeyMode() models.KeyMode  { return models.KeyModeSimulate }

func (f *fakeSource) Fetch(ctx context.Context, region models.RegionInput) models.RawPayload {
	f.callCount++
	if f.fail {
		return models.RawPayload{
			SourceName: f.name,
			RegionCode: region.Code,
			Success:    false,
			Error:      &models.SourceError{Kind: models.ErrConnectError},
		}
	}
	return models.RawPayload{
		SourceName: f.name,
		RegionCode: region.Code,
		FetchedAt:  time.Now(),
		Success:    true,
		Data:       map[string]any{"rain_24h": f.rain24h},
	}
}

func (f *fakeSource) Normalize(payload models.RawPayload) models.NormalizedObservation {
	obs := models.NormalizedObservation{Source: f.name, Channel: f.channel}
	if v, ok := payload.Data["rain_24h"].(float64); ok {
		obs.Rain24h = &v
	}
	return obs
}

type fakeCache struct {
	store map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string][]byte{}} }

func (c *fakeCache) key(source, regionCode string) string { return source + ":" + regionCode }

func (c *fakeCache) GetPayload(ctx context.Context, source, regionCode string, ttl time.Duration) ([]byte, bool) {
	data, ok := c.store[c.key(source, regionCode)]
	return data, ok
}

func (c *fakeCache) SetPayload(ctx context.Context, source, regionCode string, data []byte, ttl time.Duration) {
	c.store[c.key(source, regionCode)] = data
}

type fakeHistory struct {
	warning  *models.WarningRecord
	pressure int
}

func (h *fakeHistory) PreviousWarning(ctx context.Context, regionCode string) (*models.WarningRecord, error) {
	return h.warning, nil
}

func (h *fakeHistory) HistoricalPressureCount(ctx context.Context, regionCode string, since time.Time) (int, error) {
	return h.pressure, nil
}

func TestCollectPartitionsSuccessAndError(t *testing.T) {
	ok := &fakeSource{name: "weather_cma", channel: models.ChannelMeteorology, rain24h: 12.5}
	bad := &fakeSource{name: "geology_cgs", channel: models.ChannelGeology, fail: true}
	registry := sources.NewRegistry([]sources.Source{ok, bad})

	orch := New(registry, newFakeCache(), &fakeHistory{pressure: 2}, 4, time.Minute, 10*24*365*time.Hour)
	results := orch.Collect(context.Background(), []models.RegionInput{{Code: "R001", Name: "Region One"}})

	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	res := results[0]

	if len(res.Status.Errors) != 1 || res.Status.Errors["geology_cgs"] == nil {
		t.Fatalf("expected geology_cgs to be partitioned as error, got %+v", res.Status.Errors)
	}
	if len(res.Status.Success[models.ChannelMeteorology]) != 1 {
		t.Fatalf("expected weather_cma success, got %+v", res.Status.Success)
	}
	obs, ok2 := res.Observations["weather_cma"]
	if !ok2 || obs.Rain24h == nil || *obs.Rain24h != 12.5 {
		t.Fatalf("expected normalized rain_24h=12.5, got %+v", obs)
	}
	if res.HistoricalPressure != 2 {
		t.Errorf("expected historical pressure from history reader, got %d", res.HistoricalPressure)
	}
}

func TestCollectUsesCacheOnSecondCall(t *testing.T) {
	src := &fakeSource{name: "weather_cma", channel: models.ChannelMeteorology, rain24h: 5}
	registry := sources.NewRegistry([]sources.Source{src})
	cache := newFakeCache()

	orch := New(registry, cache, nil, 2, time.Minute, time.Hour)
	region := models.RegionInput{Code: "R001", Name: "Region One"}

	orch.Collect(context.Background(), []models.RegionInput{region})
	orch.Collect(context.Background(), []models.RegionInput{region})

	if src.callCount != 1 {
		t.Errorf("expected source Fetch to be called once with cache hit on second run, got %d calls", src.callCount)
	}
}

func TestCollectMultipleRegionsConcurrently(t *testing.T) {
	src := &fakeSource{name: "weather_cma", channel: models.ChannelMeteorology, rain24h: 1}
	registry := sources.NewRegistry([]sources.Source{src})

	orch := New(registry, nil, nil, 4, time.Minute, time.Hour)
	regions := []models.RegionInput{
		{Code: "R001", Name: "One"},
		{Code: "R002", Name: "Two"},
		{Code: "R003", Name: "Three"},
	}

	results := orch.Collect(context.Background(), regions)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.RegionCode != regions[i].Code {
			t.Errorf("expected result order to match input order, got %q at index %d", r.RegionCode, i)
		}
	}
}
