package core

import "time"

type WorkspaceStatus string

const (
	StatusProvisioning WorkspaceStatus = "provisioning"
	StatusRunning      WorkspaceStatus = "running"
	StatusStopped      WorkspaceStatus = "stopped"
	StatusError        WorkspaceStatus = "error"
)

// Provider names recognized by the backend registry.
const (
	ProviderFlyio   = "flyio"
	ProviderRailway = "railway"
	ProviderDocker  = "docker"
)

// WorkspaceConfig is the owner-controlled part of a workspace.
type WorkspaceConfig struct {
	Repositories      []string `json:"repositories"`
	Providers         []string `json:"providers"`
	SupervisorEnabled bool     `json:"supervisor_enabled"`
	MaxAgents         int      `json:"max_agents"`
	ResourceTier      string   `json:"resource_tier"`
}

// Workspace is one tenant's isolated compute instance running the
// agent-execution daemon. ComputeID and PublicURL are set together, exactly
// once, by a successful provisioning attempt; while Status is provisioning
// and ComputeID is empty the instance is not addressable yet and live status
// must not be queried from the backend.
type Workspace struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	ComputeProvider string          `json:"compute_provider"`
	ComputeID       string          `json:"compute_id,omitempty"`
	PublicURL       string          `json:"public_url,omitempty"`
	Status          WorkspaceStatus `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Config          WorkspaceConfig `json:"config"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StatusUpdate carries the optional fields of a status transition. Empty
// strings leave the stored value untouched, except ErrorMessage which is
// cleared on every non-error transition.
type StatusUpdate struct {
	ComputeID    string
	PublicURL    string
	ErrorMessage string
}

type MachineState string

const (
	MachineStarted   MachineState = "started"
	MachineStopped   MachineState = "stopped"
	MachineSuspended MachineState = "suspended"
	MachineUnknown   MachineState = "unknown"
)

// Snapshot is one point-in-time copy of a workspace's persistent volume.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// AgentActivity reports live agent work on a workspace's daemon.
type AgentActivity struct {
	HasActiveAgents bool     `json:"has_active_agents"`
	AgentCount      int      `json:"agent_count"`
	Agents          []string `json:"agents,omitempty"`
}
