package sources

import (
	"context"
	"testing"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

func TestResolveKeyMode(t *testing.T) {
	cases := map[string]models.KeyMode{
		"":             models.KeyModeDisabled,
		"simulate":     models.KeyModeSimulate,
		"sk-live-abcd": models.KeyModeLive,
	}
	for in, want := range cases {
		if got := resolveKeyMode(in); got != want {
			t.Errorf("resolveKeyMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRegistryByChannel(t *testing.T) {
	cma := NewCMASource("simulate", "https://cma.example.com", map[string]string{"R001": "STA1"})
	cgs := NewCGSSource("simulate", "https://cgs.example.com")
	reg := NewRegistry([]Source{cma, cgs})

	met := reg.ByChannel(models.ChannelMeteorology)
	if len(met) != 1 || met[0].Name() != "weather_cma" {
		t.Fatalf("expected weather_cma under meteorology, got %v", met)
	}

	geo := reg.ByChannel(models.ChannelGeology)
	if len(geo) != 1 || geo[0].Name() != "geology_cgs" {
		t.Fatalf("expected geology_cgs under geology, got %v", geo)
	}

	if _, ok := reg.Get("weather_cma"); !ok {
		t.Error("expected Get to find weather_cma")
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Error("expected Get to miss unregistered source")
	}
}

func TestCMASourceNoStationMapped(t *testing.T) {
	cma := NewCMASource("simulate", "https://cma.example.com", map[string]string{})
	payload := cma.Fetch(context.Background(), models.RegionInput{Code: "R999", Name: "Unmapped"})
	if payload.Success {
		t.Fatalf("expected failure for unmapped station")
	}
	if payload.Error.Kind != models.ErrNoStationMapped {
		t.Errorf("expected no_station_mapped, got %s", payload.Error.Kind)
	}
}

func TestCMASourceSimulateAccumulatesRain24h(t *testing.T) {
	cma := NewCMASource("simulate", "https://cma.example.com", map[string]string{"R001": "STA1"})
	payload := cma.Fetch(context.Background(), models.RegionInput{Code: "R001", Name: "Region One"})
	if !payload.Success {
		t.Fatalf("expected success, got error %v", payload.Error)
	}
	obs := cma.Normalize(payload)
	if obs.Rain24h == nil {
		t.Fatalf("expected rain_24h to be populated")
	}
	if obs.Rain1h != nil {
		t.Errorf("expected rain_1h to remain absent for CMA, got %v", *obs.Rain1h)
	}
}

func TestCMASourceDisabled(t *testing.T) {
	cma := NewCMASource("", "https://cma.example.com", nil)
	payload := cma.Fetch(context.Background(), models.RegionInput{Code: "R001"})
	if payload.Success || payload.Error.Kind != models.ErrDisabled {
		t.Fatalf("expected disabled error, got %+v", payload)
	}
}

func TestAMapSourceEstimatedOnly(t *testing.T) {
	amap := NewAMapSource("simulate", "https://amap.example.com")
	payload := amap.Fetch(context.Background(), models.RegionInput{Code: "R001", Name: "Region One"})
	obs := amap.Normalize(payload)
	if obs.Rain24h != nil {
		t.Errorf("expected rain_24h to remain absent for amap, got %v", *obs.Rain24h)
	}
	if obs.Rain24hEst == nil {
		t.Fatalf("expected rain_24h_est to be populated")
	}
	if obs.DataQualityNote != "precipitation_estimated" {
		t.Errorf("expected precipitation_estimated note, got %q", obs.DataQualityNote)
	}
}

func TestSlugResolverOverrideTakesPriority(t *testing.T) {
	r := NewSlugResolver(map[string]string{"springfield county": "springfield-co"}, false, nil)
	slug, notFound := r.Resolve(context.Background(), "Springfield County")
	if notFound || slug != "springfield-co" {
		t.Fatalf("expected override match, got slug=%q notFound=%v", slug, notFound)
	}
}

func TestSlugResolverDistrictSuffixStrip(t *testing.T) {
	r := NewSlugResolver(map[string]string{"springfield": "springfield-city"}, false, nil)
	slug, notFound := r.Resolve(context.Background(), "Springfield District")
	if notFound || slug != "springfield-city" {
		t.Fatalf("expected suffix-stripped override match, got slug=%q notFound=%v", slug, notFound)
	}
}

func TestSlugResolverCityLevelOnlySkipsDistricts(t *testing.T) {
	r := NewSlugResolver(nil, true, nil)
	_, notFound := r.Resolve(context.Background(), "Unknown County")
	if !notFound {
		t.Fatalf("expected city_level_only to refuse heuristic guessing for a district name")
	}
}

func TestSlugResolverFallsBackToVariant(t *testing.T) {
	r := NewSlugResolver(nil, false, nil)
	slug, notFound := r.Resolve(context.Background(), "New River Valley")
	if notFound {
		t.Fatalf("expected a conservative variant to be produced")
	}
	if slug != "new-river-valley" {
		t.Errorf("expected new-river-valley, got %q", slug)
	}
}

func TestScraperGuardDomainAllowlist(t *testing.T) {
	guard := NewScraperGuard([]string{"weather.example.com"}, time.Millisecond, 4, 100)

	err := guard.CheckGuardrails("https://not-allowed.example.com/x", "R001")
	if err == nil || err.Kind != models.ErrDomainNotAllowed {
		t.Fatalf("expected domain_not_allowed, got %+v", err)
	}

	err = guard.CheckGuardrails("https://weather.example.com/x", "R001")
	if err != nil {
		t.Fatalf("expected allowed domain to pass, got %+v", err)
	}
}

func TestScraperGuardGovDomainBlocked(t *testing.T) {
	guard := NewScraperGuard([]string{"weather.gov.example.com"}, time.Millisecond, 4, 100)
	err := guard.CheckGuardrails("https://weather.gov.example.com/x", "R001")
	if err == nil || err.Kind != models.ErrDomainNotAllowed {
		t.Fatalf("expected gov domain to be blocked even when allow-listed, got %+v", err)
	}
}

func TestScraperGuardURLCollision(t *testing.T) {
	guard := NewScraperGuard([]string{"weather.example.com"}, time.Millisecond, 4, 100)
	url := "https://weather.example.com/shared-page"

	if err := guard.CheckGuardrails(url, "R001"); err != nil {
		t.Fatalf("expected first claim to succeed, got %+v", err)
	}
	err := guard.CheckGuardrails(url, "R002")
	if err == nil || err.Kind != models.ErrURLCollision {
		t.Fatalf("expected url_collision for a second region, got %+v", err)
	}

	// Same region re-fetching the same URL is not a collision.
	if err := guard.CheckGuardrails(url, "R001"); err != nil {
		t.Fatalf("expected same region to re-claim its own URL, got %+v", err)
	}
}

func TestScraperGuardResetRuntimeClearsCollisions(t *testing.T) {
	guard := NewScraperGuard([]string{"weather.example.com"}, time.Millisecond, 4, 100)
	url := "https://weather.example.com/shared-page"

	if err := guard.CheckGuardrails(url, "R001"); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	guard.ResetRuntime()

	if err := guard.CheckGuardrails(url, "R002"); err != nil {
		t.Fatalf("expected reset to clear collision map, got %+v", err)
	}
}
