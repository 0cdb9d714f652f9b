// Package scaler evaluates and applies tier changes for running workspaces.
// Scaling is strictly upward: the scaler never shrinks a workspace, so a
// burst of agents can't thrash resources down again mid-run.
package scaler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/observability"
	"github.com/perigee-io/wco/internal/plan"
)

// Store is the slice of workspace persistence the scaler needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*core.Workspace, error)
	UpdateConfig(ctx context.Context, id string, cfg core.WorkspaceConfig) error
}

type Scaler struct {
	store    Store
	registry *backend.Registry
	plans    plan.Source
	log      *zap.Logger
}

func New(store Store, registry *backend.Registry, plans plan.Source, log *zap.Logger) *Scaler {
	return &Scaler{store: store, registry: registry, plans: plans, log: log}
}

func decision(scaled bool, reason, current, target string) *core.ScalingDecision {
	result := "declined"
	if scaled {
		result = "scaled"
	}
	observability.ScaleDecisionsTotal.WithLabelValues(result).Inc()
	return &core.ScalingDecision{
		Scaled:      scaled,
		Reason:      reason,
		CurrentTier: current,
		TargetTier:  target,
	}
}

// AutoScale recommends a tier for the requested agent concurrency and
// applies it when the plan allows. The plan gate runs before any backend
// call so unentitled users cost nothing against provider rate limits.
func (s *Scaler) AutoScale(ctx context.Context, workspaceID string, agentCount int) (*core.ScalingDecision, error) {
	ws, err := s.store.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	currentName := ws.Config.ResourceTier
	if currentName == "" {
		currentName = core.DefaultTier
	}

	userPlan, err := s.plans.PlanForUser(ctx, ws.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan for user %s: %w", ws.UserID, err)
	}
	if !userPlan.CanAutoScale {
		return decision(false,
			fmt.Sprintf("auto-scaling is not available on the %s plan", userPlan.Name),
			currentName, ""), nil
	}

	b, err := s.registry.Get(ws.ComputeProvider)
	if err != nil {
		return nil, err
	}
	resizer, ok := b.(backend.Resizer)
	if !ok {
		return decision(false,
			fmt.Sprintf("provider %s does not support resizing", ws.ComputeProvider),
			currentName, ""), nil
	}

	current, ok := core.TierByName(currentName)
	if !ok {
		return nil, fmt.Errorf("workspace %s has unknown tier %q", ws.ID, currentName)
	}

	target := core.RecommendTier(agentCount)
	clamped := false
	if !userPlan.CanScaleToTier(target) {
		target = userPlan.MaxTierFor()
		clamped = true
	}

	declined := func(current core.ResourceTier) *core.ScalingDecision {
		if clamped {
			return decision(false,
				fmt.Sprintf("plan limit reached, %s plan caps at %s", userPlan.Name, target.Name),
				current.Name, target.Name)
		}
		return decision(false, "already at or above recommended tier",
			current.Name, target.Name)
	}

	// Decide against stored config first: a no-op decision must cost no
	// backend call.
	if !target.LargerThan(current) {
		return declined(current), nil
	}

	// A scale would apply; verify against the backend's live sizing, which
	// can drift from stored config if an operator resized out of band.
	if liveName, err := resizer.CurrentTier(ctx, ws); err != nil {
		s.log.Warn("live tier lookup failed, using stored tier",
			zap.String("workspace_id", ws.ID), zap.Error(err))
	} else if live, ok := core.TierByName(liveName); !ok {
		return nil, fmt.Errorf("workspace %s has unknown tier %q", ws.ID, liveName)
	} else {
		current = live
	}
	if !target.LargerThan(current) {
		return declined(current), nil
	}

	reason := fmt.Sprintf("scaled for %d agents", agentCount)
	if clamped {
		reason = fmt.Sprintf("plan limit reached, clamped to %s", target.Name)
	}

	if err := resizer.Resize(ctx, ws, target); err != nil {
		return nil, fmt.Errorf("resize workspace %s: %w", ws.ID, err)
	}

	cfg := ws.Config
	cfg.ResourceTier = target.Name
	if err := s.store.UpdateConfig(ctx, ws.ID, cfg); err != nil {
		return nil, fmt.Errorf("persist tier for workspace %s: %w", ws.ID, err)
	}

	s.log.Info("workspace scaled up",
		zap.String("workspace_id", ws.ID),
		zap.String("from", current.Name),
		zap.String("to", target.Name),
		zap.Int("agent_count", agentCount))
	return decision(true, reason, current.Name, target.Name), nil
}
