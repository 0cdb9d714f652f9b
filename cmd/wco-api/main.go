package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/api"
	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/backend/flyio"
	"github.com/perigee-io/wco/internal/backend/local"
	"github.com/perigee-io/wco/internal/backend/railway"
	"github.com/perigee-io/wco/internal/credentials"
	"github.com/perigee-io/wco/internal/httpretry"
	"github.com/perigee-io/wco/internal/observability"
	"github.com/perigee-io/wco/internal/orchestrator"
	"github.com/perigee-io/wco/internal/plan"
	"github.com/perigee-io/wco/internal/progress"
	"github.com/perigee-io/wco/internal/scaler"
	"github.com/perigee-io/wco/internal/snapshot"
	"github.com/perigee-io/wco/internal/store"
	"github.com/perigee-io/wco/internal/updater"
)

type providerConfig struct {
	LocalEnabled         bool   `envconfig:"WCO_LOCAL_ENABLED" default:"false"`
	DefaultPlan          string `envconfig:"WCO_DEFAULT_PLAN" default:"pro"`
	GitInstallationToken string `envconfig:"WCO_GIT_INSTALLATION_TOKEN"`
}

func main() {
	var cfg api.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var orchCfg orchestrator.Config
	if err := envconfig.Process("", &orchCfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var provCfg providerConfig
	if err := envconfig.Process("", &provCfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	// Replace global logger
	zap.ReplaceGlobals(log)

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		log.Fatal("db migrate failed", zap.Error(err))
	}

	retry := httpretry.New(log)
	registry := buildRegistry(provCfg, retry, log)
	if len(registry.Providers()) == 0 {
		log.Fatal("no compute backends configured")
	}
	log.Info("compute backends registered", zap.Strings("providers", registry.Providers()))

	defaultPlan, err := plan.ByName(provCfg.DefaultPlan)
	if err != nil {
		log.Fatal("bad plan config", zap.Error(err))
	}
	plans := plan.Static{Plan: defaultPlan}

	var installTokens credentials.InstallationTokenSource
	if provCfg.GitInstallationToken != "" {
		installTokens = credentials.StaticInstallationTokenSource{Token: provCfg.GitInstallationToken}
	}

	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Store:              st,
		Registry:           registry,
		Tracker:            progress.NewTracker(),
		Vault:              credentials.EnvVault{},
		InstallationTokens: installTokens,
		Scaler:             scaler.New(st, registry, plans, log),
		Snapshots:          snapshot.New(registry, log),
		Updater:            updater.New(st, registry, log),
		Log:                log,
	})

	// Main API server
	apiHandler := api.NewAPI(orch, pool, log)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down API server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info("API server stopped")
}

// buildRegistry registers every backend the environment carries credentials
// for. Fly.io and Railway need API tokens; the local Docker backend is
// opt-in since most deployments have no daemon socket.
func buildRegistry(prov providerConfig, retry *httpretry.Client, log *zap.Logger) *backend.Registry {
	registry := backend.NewRegistry()

	var flyCfg flyio.Config
	if err := envconfig.Process("", &flyCfg); err != nil {
		log.Fatal("flyio config", zap.Error(err))
	}
	if flyCfg.Token != "" {
		registry.Register(flyio.New(flyCfg, retry, log.Named("flyio")))
	}

	var rwCfg railway.Config
	if err := envconfig.Process("", &rwCfg); err != nil {
		log.Fatal("railway config", zap.Error(err))
	}
	if rwCfg.Token != "" {
		registry.Register(railway.New(rwCfg, retry, log.Named("railway")))
	}

	if prov.LocalEnabled {
		var localCfg local.Config
		if err := envconfig.Process("", &localCfg); err != nil {
			log.Fatal("local config", zap.Error(err))
		}
		b, err := local.NewFromEnv(localCfg, retry, log.Named("local"))
		if err != nil {
			log.Fatal("docker backend", zap.Error(err))
		}
		registry.Register(b)
	}

	return registry
}
