// Package orchestrator is the facade over workspace compute: it owns the
// async provisioning model and delegates everything else to the provider
// backends and their collaborators. One instance is constructed at startup
// and holds all its dependencies; there is no package-level state.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/credentials"
	"github.com/perigee-io/wco/internal/observability"
	"github.com/perigee-io/wco/internal/progress"
	"github.com/perigee-io/wco/internal/scaler"
	"github.com/perigee-io/wco/internal/snapshot"
	"github.com/perigee-io/wco/internal/updater"
)

// Store is the workspace persistence contract the orchestrator consumes.
// Implementations return a not-found AppError for missing workspaces.
type Store interface {
	Create(ctx context.Context, ws *core.Workspace) error
	FindByID(ctx context.Context, id string) (*core.Workspace, error)
	FindByUserID(ctx context.Context, userID string) ([]*core.Workspace, error)
	FindAll(ctx context.Context) ([]*core.Workspace, error)
	UpdateStatus(ctx context.Context, id string, status core.WorkspaceStatus, upd core.StatusUpdate) error
	UpdateConfig(ctx context.Context, id string, cfg core.WorkspaceConfig) error
	Delete(ctx context.Context, id string) error
}

type Config struct {
	SessionSecret   string        `envconfig:"WCO_SESSION_SECRET" required:"true"`
	DefaultProvider string        `envconfig:"WCO_DEFAULT_PROVIDER" default:"flyio"`
	StageClearDelay time.Duration `envconfig:"WCO_STAGE_CLEAR_DELAY" default:"30s"`
}

// Deps are the orchestrator's collaborators. InstallationTokens may be nil
// when no source-control app is configured.
type Deps struct {
	Store              Store
	Registry           *backend.Registry
	Tracker            *progress.Tracker
	Vault              credentials.Vault
	InstallationTokens credentials.InstallationTokenSource
	Scaler             *scaler.Scaler
	Snapshots          *snapshot.Manager
	Updater            *updater.Updater
	Log                *zap.Logger
}

type Orchestrator struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps}
}

// ProvisionRequest is the caller-supplied shape of a new workspace.
type ProvisionRequest struct {
	UserID   string               `json:"user_id"`
	Provider string               `json:"provider,omitempty"`
	Config   core.WorkspaceConfig `json:"config"`
}

// Provision creates the workspace record and returns it immediately with
// status provisioning. The actual compute work happens in a detached task;
// callers observe it through GetStatus and ProvisioningStage.
func (o *Orchestrator) Provision(ctx context.Context, req ProvisionRequest) (*core.Workspace, error) {
	if req.UserID == "" {
		return nil, core.NewAppError(core.ErrBadRequest, "user_id is required")
	}
	provider := req.Provider
	if provider == "" {
		provider = o.cfg.DefaultProvider
	}
	if !o.deps.Registry.Has(provider) {
		return nil, core.NewAppError(core.ErrBadRequest,
			fmt.Sprintf("unknown compute provider %q", provider))
	}
	if req.Config.ResourceTier != "" {
		if _, ok := core.TierByName(req.Config.ResourceTier); !ok {
			return nil, core.NewAppError(core.ErrBadRequest,
				fmt.Sprintf("unknown resource tier %q", req.Config.ResourceTier))
		}
	}

	ws := &core.Workspace{
		ID:              core.NewID(),
		UserID:          req.UserID,
		ComputeProvider: provider,
		Status:          core.StatusProvisioning,
		Config:          req.Config,
	}
	if err := o.deps.Store.Create(ctx, ws); err != nil {
		return nil, err
	}

	// The task outlives the request; it must not inherit its cancellation.
	go o.runProvision(context.WithoutCancel(ctx), ws)
	return ws, nil
}

// runProvision drives one workspace through the backend state machine.
// It never returns an error: every outcome, panics included, becomes a
// persisted terminal status observed by polling.
func (o *Orchestrator) runProvision(ctx context.Context, ws *core.Workspace) {
	log := observability.WorkspaceLogger(o.deps.Log, ws.ID, ws.ComputeProvider)
	start := time.Now()
	observability.ActiveProvisions.Inc()
	defer observability.ActiveProvisions.Dec()
	defer func() {
		observability.ProvisionDuration.WithLabelValues(ws.ComputeProvider).Observe(time.Since(start).Seconds())
	}()

	fail := func(msg string) {
		observability.ProvisionTotal.WithLabelValues(ws.ComputeProvider, "error").Inc()
		if err := o.deps.Store.UpdateStatus(ctx, ws.ID, core.StatusError,
			core.StatusUpdate{ErrorMessage: msg}); err != nil {
			log.Error("persist error status failed", zap.Error(err))
		}
		o.deps.Tracker.Clear(ws.ID)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("provisioning task panicked", zap.Any("panic", r))
			fail(fmt.Sprintf("internal provisioning failure: %v", r))
		}
	}()

	b, err := o.deps.Registry.Get(ws.ComputeProvider)
	if err != nil {
		fail(err.Error())
		return
	}

	creds := o.resolveCredentials(ctx, ws, log)
	creds["WORKSPACE_TOKEN"] = core.WorkspaceToken(o.cfg.SessionSecret, ws.ID)

	res, err := b.Provision(ctx, ws, creds, func(stage core.Stage) {
		o.deps.Tracker.Advance(ws.ID, stage)
	})
	if err != nil {
		log.Error("provisioning failed", zap.Error(err))
		fail(err.Error())
		return
	}

	if err := o.deps.Store.UpdateStatus(ctx, ws.ID, core.StatusRunning, core.StatusUpdate{
		ComputeID: res.ComputeID,
		PublicURL: res.PublicURL,
	}); err != nil {
		log.Error("persist running status failed", zap.Error(err))
		fail(fmt.Sprintf("provisioned but could not persist state: %v", err))
		return
	}
	observability.ProvisionTotal.WithLabelValues(ws.ComputeProvider, "ok").Inc()
	o.deps.Tracker.ScheduleClear(ws.ID, o.cfg.StageClearDelay)
	log.Info("workspace provisioned",
		zap.String("compute_id", res.ComputeID),
		zap.Duration("took", time.Since(start)))
}

// resolveCredentials gathers whatever tokens are available. A provider
// without a token is skipped with a warning; the workspace is still useful
// without every integration connected.
func (o *Orchestrator) resolveCredentials(ctx context.Context, ws *core.Workspace, log *zap.Logger) map[string]string {
	creds := make(map[string]string)
	for _, provider := range ws.Config.Providers {
		tok, err := o.deps.Vault.LoadToken(ctx, ws.UserID, provider)
		if err != nil {
			log.Warn("token resolution failed, skipping provider",
				zap.String("credential_provider", provider), zap.Error(err))
			continue
		}
		if tok == "" {
			log.Warn("no token for provider, skipping",
				zap.String("credential_provider", provider))
			continue
		}
		creds[credentials.SecretName(provider)] = tok
	}

	if len(ws.Config.Repositories) > 0 && o.deps.InstallationTokens != nil {
		tok, err := o.deps.InstallationTokens.InstallationToken(ctx, ws.UserID)
		switch {
		case err != nil:
			// Clone may fail downstream; that does not abort provisioning.
			log.Warn("installation token resolution failed", zap.Error(err))
		case tok == "":
			log.Warn("no source-control installation connected")
		default:
			creds["GIT_INSTALLATION_TOKEN"] = tok
		}
	}
	return creds
}

func (o *Orchestrator) find(ctx context.Context, id string) (*core.Workspace, backend.Backend, error) {
	ws, err := o.deps.Store.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	b, err := o.deps.Registry.Get(ws.ComputeProvider)
	if err != nil {
		return nil, nil, err
	}
	return ws, b, nil
}

// Get returns the stored workspace record.
func (o *Orchestrator) Get(ctx context.Context, id string) (*core.Workspace, error) {
	return o.deps.Store.FindByID(ctx, id)
}

// ListByUser returns the workspaces a user owns.
func (o *Orchestrator) ListByUser(ctx context.Context, userID string) ([]*core.Workspace, error) {
	return o.deps.Store.FindByUserID(ctx, userID)
}

// Deprovision tears down the instance and deletes the record.
func (o *Orchestrator) Deprovision(ctx context.Context, id string) error {
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return err
	}
	if ws.ComputeID != "" {
		if err := b.Deprovision(ctx, ws); err != nil {
			return err
		}
	}
	if err := o.deps.Store.Delete(ctx, id); err != nil {
		return err
	}
	o.deps.Tracker.Clear(id)
	return nil
}

// GetStatus returns the live workspace status. While provisioning has not
// yet assigned a compute id there is nothing to query, so the persisted
// status is returned as-is. A backend-reported status that differs from the
// stored one is persisted before returning.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (core.WorkspaceStatus, error) {
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return "", err
	}
	if ws.ComputeID == "" {
		return ws.Status, nil
	}
	status, err := b.Status(ctx, ws)
	if err != nil {
		return "", err
	}
	if status != ws.Status {
		if err := o.deps.Store.UpdateStatus(ctx, ws.ID, status, core.StatusUpdate{}); err != nil {
			o.deps.Log.Warn("status sync failed",
				zap.String("workspace_id", ws.ID), zap.Error(err))
		}
	}
	return status, nil
}

func (o *Orchestrator) Restart(ctx context.Context, id string) error {
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return err
	}
	return b.Restart(ctx, ws)
}

func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return err
	}
	return b.Stop(ctx, ws)
}

// Resize moves the workspace to an explicit tier and persists the choice.
func (o *Orchestrator) Resize(ctx context.Context, id, tierName string) error {
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return err
	}
	tier, ok := core.TierByName(tierName)
	if !ok {
		return core.NewAppError(core.ErrBadRequest,
			fmt.Sprintf("unknown resource tier %q", tierName))
	}
	resizer, ok := b.(backend.Resizer)
	if !ok {
		return core.NewAppError(core.ErrNotSupported,
			fmt.Sprintf("provider %s does not support resizing", ws.ComputeProvider))
	}
	if err := resizer.Resize(ctx, ws, tier); err != nil {
		return err
	}
	cfg := ws.Config
	cfg.ResourceTier = tier.Name
	return o.deps.Store.UpdateConfig(ctx, ws.ID, cfg)
}

// UpdateAgentLimit changes the daemon's concurrency cap and persists it.
func (o *Orchestrator) UpdateAgentLimit(ctx context.Context, id string, maxAgents int) error {
	if maxAgents < 1 {
		return core.NewAppError(core.ErrBadRequest, "max agents must be at least 1")
	}
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return err
	}
	limiter, ok := b.(backend.AgentLimiter)
	if !ok {
		return core.NewAppError(core.ErrNotSupported,
			fmt.Sprintf("provider %s does not support agent limits", ws.ComputeProvider))
	}
	if err := limiter.UpdateAgentLimit(ctx, ws, maxAgents); err != nil {
		return err
	}
	cfg := ws.Config
	cfg.MaxAgents = maxAgents
	return o.deps.Store.UpdateConfig(ctx, ws.ID, cfg)
}

// CurrentTier reports the backend's live sizing.
func (o *Orchestrator) CurrentTier(ctx context.Context, id string) (string, error) {
	ws, b, err := o.find(ctx, id)
	if err != nil {
		return "", err
	}
	resizer, ok := b.(backend.Resizer)
	if !ok {
		return "", core.NewAppError(core.ErrNotSupported,
			fmt.Sprintf("provider %s does not report sizing", ws.ComputeProvider))
	}
	return resizer.CurrentTier(ctx, ws)
}

func (o *Orchestrator) AutoScale(ctx context.Context, id string, agentCount int) (*core.ScalingDecision, error) {
	return o.deps.Scaler.AutoScale(ctx, id, agentCount)
}

func (o *Orchestrator) CreateSnapshot(ctx context.Context, id string) (string, error) {
	ws, err := o.deps.Store.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	return o.deps.Snapshots.Create(ctx, ws)
}

func (o *Orchestrator) ListSnapshots(ctx context.Context, id string) ([]core.Snapshot, error) {
	ws, err := o.deps.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.deps.Snapshots.List(ctx, ws)
}

// ProvisioningStage returns live provisioning progress, if any.
func (o *Orchestrator) ProvisioningStage(id string) (progress.Progress, bool) {
	return o.deps.Tracker.Get(id)
}

func (o *Orchestrator) UpdateImage(ctx context.Context, id, image string, opts updater.Options) (core.UpdateResult, error) {
	ws, err := o.deps.Store.FindByID(ctx, id)
	if err != nil {
		return core.UpdateResult{}, err
	}
	return o.deps.Updater.UpdateImage(ctx, ws, image, opts), nil
}

func (o *Orchestrator) UpdateFleet(ctx context.Context, target updater.Target, image string, opts updater.Options) (*core.FleetUpdateSummary, error) {
	return o.deps.Updater.UpdateFleet(ctx, target, image, opts)
}

// VerifyWorkspaceToken checks a daemon callback token.
func (o *Orchestrator) VerifyWorkspaceToken(workspaceID, token string) bool {
	return core.VerifyWorkspaceToken(o.cfg.SessionSecret, workspaceID, token)
}
