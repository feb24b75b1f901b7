package main

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/terrarisk/hazardengine/config"
	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/sources"
)

// getFreePort returns an available TCP port.
func getFreePort(t *testing.T) int {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartMetricsServer_Smoke(t *testing.T) {
	logger.Init("error", "text")
	port := getFreePort(t)
	go startMetricsServer(port, "/metrics")
	url := fmt.Sprintf("http://localhost:%d/metrics", port)

	deadline := time.Now().Add(3 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMovedPermanently {
				return
			}
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("metrics server not reachable: %v", lastErr)
}

func TestBuildSourceRegistry_RegistersAllSevenAdapters(t *testing.T) {
	cfg := &config.Config{}
	cfg.WU.Enabled = false

	registry, _ := buildSourceRegistry(cfg, nil)

	want := []string{
		"weather_cma", "weather_amap", "weather_openweather", "weather_wu_api",
		"weather_scraper", "geology_cgs", "geology_scraper",
	}
	for _, name := range want {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("expected registry to contain source %q", name)
		}
	}
}

func TestBuildFusionPipeline_SkipsRefinerWhenLLMDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Enabled = false

	registry := sources.NewRegistry(nil)
	pipeline := buildFusionPipeline(cfg, registry)
	if pipeline == nil {
		t.Fatal("expected a non-nil pipeline")
	}
}
