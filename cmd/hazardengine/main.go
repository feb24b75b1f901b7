package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/terrarisk/hazardengine/config"
	"github.com/terrarisk/hazardengine/internal/cache"
	"github.com/terrarisk/hazardengine/internal/collector"
	"github.com/terrarisk/hazardengine/internal/controlapi"
	"github.com/terrarisk/hazardengine/internal/database"
	"github.com/terrarisk/hazardengine/internal/fusion"
	"github.com/terrarisk/hazardengine/internal/logger"
	"github.com/terrarisk/hazardengine/internal/metrics"
	middlewares "github.com/terrarisk/hazardengine/internal/middleware"
	"github.com/terrarisk/hazardengine/internal/publisher"
	"github.com/terrarisk/hazardengine/internal/runcontrol"
	"github.com/terrarisk/hazardengine/internal/sourcecontrol"
	"github.com/terrarisk/hazardengine/internal/sources"
	"github.com/terrarisk/hazardengine/internal/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting hazard warning workflow engine",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close(ctx)

	regionStore := store.New(db)
	if pgStore, ok := regionStore.(*store.PostgresStore); ok {
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure schema", "error", err)
		}
	}

	cacheStore, err := cache.New(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to initialize cache", "error", err)
	}

	registry, guard := buildSourceRegistry(cfg, cacheStore)

	orchestrator := collector.New(registry, cacheStore, regionStore, cfg.Collector.MaxConcurrency,
		cfg.Scraper.CacheTTL, cfg.Workflow.HistoricalPressureWindow)

	fuser := buildFusionPipeline(cfg, registry)

	pub := publisher.New()

	runController := runcontrol.New(cacheStore, regionStore, orchestrator, fuser, pub, runcontrol.Options{
		CollectorMaxConcurrency: cfg.Collector.MaxConcurrency,
		HighRiskHeadSize:        cfg.Workflow.HighRiskHeadSize,
		ManualRegionLimit:       cfg.Workflow.ManualRegionLimit,
		MaxRuntime:              cfg.Workflow.MaxRuntime,
		HeartbeatTimeout:        cfg.Workflow.HeartbeatTimeout,
	})

	sourceCtrl := sourcecontrol.NewController(guard, cacheStore)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))
	r.Use(middlewares.Security)

	controlHandler := controlapi.NewHandler(runController, regionStore, sourceCtrl, pub, cfg.Admin.AdminSecret, Version)
	controlHandler.RegisterRoutes(r)

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

// buildSourceRegistry wires C1's seven adapters plus the shared scraper
// guardrails and slug resolver (§4.1). The returned guard is the same
// instance wired into the scraper sources, so the caller's admin controls
// (reset_scraper_runtime) act on the guard actually enforcing guardrails.
func buildSourceRegistry(cfg *config.Config, cacheStore *cache.Store) (*sources.Registry, *sources.ScraperGuard) {
	guard := sources.NewScraperGuard(cfg.Scraper.AllowedDomains, cfg.Scraper.RequestInterval, cfg.Scraper.MaxParallelRequests, cfg.Scraper.MaxRequestsPerWindow)
	resolver := sources.NewSlugResolver(cfg.Sources.SlugOverrides, cfg.Sources.SlugCityLevelOnly, nil)

	// WU has no static key in this deployment; it always relies on the
	// discovery flow when enabled (§4.1 weather_wu_api).
	var discoverer sources.KeyDiscoverer
	if cfg.WU.Enabled {
		discoverer = sources.NewHTMLKeyDiscoverer(cfg.WU.KeyDiscoveryURL)
	}

	list := []sources.Source{
		sources.NewCMASource(cfg.Sources.CMAAPIKey, cfg.Sources.CMABaseURL, cfg.Sources.CMAStations),
		sources.NewAMapSource(cfg.Sources.AMapAPIKey, cfg.Sources.AMapBaseURL),
		sources.NewOpenWeatherSource(cfg.Sources.OpenWeatherAPIKey, cfg.Sources.OpenWeatherBaseURL),
		sources.NewWUAPISource("", cfg.WU.KeyDiscoveryURL, cfg.WU.KeyRefreshPeriod, discoverer, cacheStore),
		sources.NewWeatherScraperSource(cfg.Sources.WeatherScraperURLPattern, cfg.Sources.WeatherScraperEnabled, guard, resolver),
		sources.NewCGSSource(cfg.Sources.CGSAPIKey, cfg.Sources.CGSBaseURL),
		sources.NewGeologyScraperSource(cfg.Sources.GeologyScraperURLPattern, cfg.Sources.GeologyScraperEnabled, guard, resolver),
	}
	return sources.NewRegistry(list), guard
}

// buildFusionPipeline wires C4 with its source-reliability lookup and,
// when enabled, the LLM refiner for stage 5 (§4.4).
func buildFusionPipeline(cfg *config.Config, registry *sources.Registry) *fusion.Pipeline {
	reliability := func(sourceName string) float64 {
		if src, ok := registry.Get(sourceName); ok {
			return src.Reliability()
		}
		return 0.5
	}

	var refiner fusion.Refiner
	if cfg.LLM.Enabled {
		refiner = fusion.NewAnthropicRefiner(cfg.LLM.APIKey, cfg.LLM.Model)
	}

	return fusion.New(fusion.Options{
		NeighborInfluenceWeight: cfg.Fusion.NeighborInfluenceWeight,
		LLMEnabled:              cfg.LLM.Enabled,
		LLMRefineMaxRegions:     cfg.LLM.RefineMaxRegions,
		LLMConfidenceThreshold:  cfg.LLM.ConfidenceThreshold,
		Reliability:             reliability,
	}, refiner)
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
