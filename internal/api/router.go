package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/api/middleware"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/orchestrator"
	"github.com/perigee-io/wco/internal/progress"
	"github.com/perigee-io/wco/internal/updater"
)

// Service is the orchestrator surface the handlers call. It exists so
// handler tests run against a fake instead of a full dependency graph.
type Service interface {
	Provision(ctx context.Context, req orchestrator.ProvisionRequest) (*core.Workspace, error)
	Get(ctx context.Context, id string) (*core.Workspace, error)
	ListByUser(ctx context.Context, userID string) ([]*core.Workspace, error)
	Deprovision(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (core.WorkspaceStatus, error)
	Restart(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Resize(ctx context.Context, id, tierName string) error
	UpdateAgentLimit(ctx context.Context, id string, maxAgents int) error
	CurrentTier(ctx context.Context, id string) (string, error)
	AutoScale(ctx context.Context, id string, agentCount int) (*core.ScalingDecision, error)
	CreateSnapshot(ctx context.Context, id string) (string, error)
	ListSnapshots(ctx context.Context, id string) ([]core.Snapshot, error)
	ProvisioningStage(id string) (progress.Progress, bool)
	UpdateImage(ctx context.Context, id, image string, opts updater.Options) (core.UpdateResult, error)
	UpdateFleet(ctx context.Context, target updater.Target, image string, opts updater.Options) (*core.FleetUpdateSummary, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

type API struct {
	service Service
	pool    *pgxpool.Pool
	log     *zap.Logger
}

// NewAPI builds the HTTP layer. pool may be nil in tests; readiness then
// reports ready unconditionally.
func NewAPI(service Service, pool *pgxpool.Pool, log *zap.Logger) *API {
	return &API{service: service, pool: pool, log: log}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/tiers", a.ListTiers)

		r.Post("/workspaces", a.ProvisionWorkspace)
		r.Get("/workspaces", a.ListWorkspaces)
		r.Route("/workspaces/{id}", func(r chi.Router) {
			r.Get("/", a.GetWorkspace)
			r.Delete("/", a.DeprovisionWorkspace)
			r.Get("/status", a.GetWorkspaceStatus)
			r.Get("/stage", a.GetProvisioningStage)
			r.Post("/restart", a.RestartWorkspace)
			r.Post("/stop", a.StopWorkspace)

			r.Get("/tier", a.GetCurrentTier)
			r.Post("/resize", a.ResizeWorkspace)
			r.Post("/autoscale", a.AutoScaleWorkspace)
			r.Post("/agent-limit", a.UpdateAgentLimit)

			r.Get("/snapshots", a.ListSnapshots)
			r.Post("/snapshots", a.CreateSnapshot)

			r.Post("/update", a.UpdateWorkspaceImage)
		})

		r.Post("/fleet/update", a.UpdateFleetImage)
	})

	return r
}
