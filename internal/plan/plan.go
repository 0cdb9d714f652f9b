// Package plan defines the subscription catalog and the entitlement checks
// the scaler consults before changing a workspace's resources.
package plan

import (
	"context"
	"fmt"

	"github.com/perigee-io/wco/internal/core"
)

type Plan struct {
	Name          string
	CanAutoScale  bool
	MaxTier       string
	MaxWorkspaces int
}

var Plans = []Plan{
	{Name: "free", CanAutoScale: false, MaxTier: "small", MaxWorkspaces: 1},
	{Name: "pro", CanAutoScale: true, MaxTier: "large", MaxWorkspaces: 5},
	{Name: "scale", CanAutoScale: true, MaxTier: "xlarge", MaxWorkspaces: 25},
}

const DefaultPlan = "free"

func ByName(name string) (Plan, error) {
	for _, p := range Plans {
		if p.Name == name {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("unknown plan %q", name)
}

// MaxTierFor resolves the plan's tier ceiling from the catalog.
func (p Plan) MaxTierFor() core.ResourceTier {
	tier, ok := core.TierByName(p.MaxTier)
	if !ok {
		// Catalog entries are static; a bad MaxTier is a programming error.
		panic("plan " + p.Name + " names unknown tier " + p.MaxTier)
	}
	return tier
}

// CanScaleToTier reports whether the plan permits the given tier.
func (p Plan) CanScaleToTier(tier core.ResourceTier) bool {
	return !tier.LargerThan(p.MaxTierFor())
}

// Source resolves the subscription plan for a user. The production
// implementation queries the billing system; tests and single-node installs
// use Static.
type Source interface {
	PlanForUser(ctx context.Context, userID string) (Plan, error)
}

// Static returns the same plan for every user.
type Static struct {
	Plan Plan
}

func (s Static) PlanForUser(ctx context.Context, userID string) (Plan, error) {
	return s.Plan, nil
}

var _ Source = Static{}
