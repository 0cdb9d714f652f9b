// Package backend defines the compute-lifecycle contract each provider
// implements and the registry that dispatches on a workspace's provider tag.
package backend

import (
	"context"
	"errors"

	"github.com/perigee-io/wco/internal/core"
)

// ErrNotSupported is returned by the registry helpers when a backend lacks
// an optional capability. Backends must never silently no-op an operation
// they cannot perform.
var ErrNotSupported = errors.New("operation not supported by backend")

// StageFunc reports a provisioning stage transition. Backends call it at
// each stage boundary of Provision.
type StageFunc func(stage core.Stage)

// ProvisionResult is the externally-addressable identity of a provisioned
// instance.
type ProvisionResult struct {
	ComputeID string
	PublicURL string
}

// Backend is the required compute-lifecycle contract. Provision drives the
// full state machine (creating through complete) and must abort the machine
// on any fatal stage failure; credentials arrive as secret-name to value.
type Backend interface {
	Name() string
	Provision(ctx context.Context, ws *core.Workspace, credentials map[string]string, advance StageFunc) (*ProvisionResult, error)
	Deprovision(ctx context.Context, ws *core.Workspace) error
	Status(ctx context.Context, ws *core.Workspace) (core.WorkspaceStatus, error)
	Restart(ctx context.Context, ws *core.Workspace) error
	Stop(ctx context.Context, ws *core.Workspace) error
}

// Optional capabilities. A backend advertises one by implementing the
// interface; callers type-assert and treat absence as not-supported.

type Resizer interface {
	Resize(ctx context.Context, ws *core.Workspace, tier core.ResourceTier) error
	CurrentTier(ctx context.Context, ws *core.Workspace) (string, error)
}

type AgentLimiter interface {
	UpdateAgentLimit(ctx context.Context, ws *core.Workspace, maxAgents int) error
}

type ImageUpdater interface {
	UpdateMachineImage(ctx context.Context, ws *core.Workspace, image string) error
}

type AgentInspector interface {
	CheckActiveAgents(ctx context.Context, ws *core.Workspace) (*core.AgentActivity, error)
}

type MachineStateReader interface {
	MachineState(ctx context.Context, ws *core.Workspace) (core.MachineState, error)
}

type Snapshotter interface {
	CreateSnapshot(ctx context.Context, ws *core.Workspace) (string, error)
	ListSnapshots(ctx context.Context, ws *core.Workspace) ([]core.Snapshot, error)
}
