// Package local runs workspaces as containers on the host's Docker daemon.
// It exists for single-node and development installs; there is no remote
// control plane, so the container id doubles as the compute id and the
// public URL points at a published loopback port.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/httpretry"
	"github.com/perigee-io/wco/internal/observability"
)

const workspacePort = "8080/tcp"

type Config struct {
	Image          string        `envconfig:"WCO_WORKSPACE_IMAGE" default:"ghcr.io/perigee-io/wco-workspace:latest"`
	HostIP         string        `envconfig:"WCO_LOCAL_HOST_IP" default:"127.0.0.1"`
	StartDeadline  time.Duration `envconfig:"WCO_LOCAL_START_DEADLINE" default:"120s"`
	StartInterval  time.Duration `envconfig:"WCO_LOCAL_START_INTERVAL" default:"500ms"`
	HealthDeadline time.Duration `envconfig:"WCO_LOCAL_HEALTH_DEADLINE" default:"90s"`
	HealthTimeout  time.Duration `envconfig:"WCO_LOCAL_HEALTH_TIMEOUT" default:"5s"`
	HealthInterval time.Duration `envconfig:"WCO_LOCAL_HEALTH_INTERVAL" default:"3s"`
}

// dockerAPI is the slice of the Docker SDK client this backend uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerUpdate(ctx context.Context, containerID string, updateConfig container.UpdateConfig) (container.UpdateResponse, error)
}

type Backend struct {
	cfg    Config
	docker dockerAPI
	client *httpretry.Client
	log    *zap.Logger
}

func New(cfg Config, docker dockerAPI, client *httpretry.Client, log *zap.Logger) *Backend {
	return &Backend{cfg: cfg, docker: docker, client: client, log: log}
}

// NewFromEnv builds the backend against the daemon the environment points at.
func NewFromEnv(cfg Config, retry *httpretry.Client, log *zap.Logger) (*Backend, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return New(cfg, docker, retry, log), nil
}

func (b *Backend) Name() string { return core.ProviderDocker }

func containerName(ws *core.Workspace) string { return "wco-ws-" + ws.ID }
func volumeName(ws *core.Workspace) string    { return "wco-ws-" + ws.ID + "-data" }

func tierResources(tier core.ResourceTier) container.Resources {
	return container.Resources{
		NanoCPUs: int64(tier.CPUCores) * 1e9,
		Memory:   int64(tier.MemoryMB) << 20,
	}
}

func (b *Backend) Provision(ctx context.Context, ws *core.Workspace, credentials map[string]string, advance backend.StageFunc) (*backend.ProvisionResult, error) {
	log := observability.WorkspaceLogger(b.log, ws.ID, b.Name())

	tierName := ws.Config.ResourceTier
	if tierName == "" {
		tierName = core.DefaultTier
	}
	tier, ok := core.TierByName(tierName)
	if !ok {
		return nil, fmt.Errorf("unknown resource tier %q", tierName)
	}

	var containerID string
	fail := func(stage core.Stage, err error) (*backend.ProvisionResult, error) {
		cleanup := context.WithoutCancel(ctx)
		if containerID != "" {
			if rerr := b.docker.ContainerRemove(cleanup, containerID, container.RemoveOptions{Force: true}); rerr != nil {
				log.Error("abort cleanup failed", zap.Error(rerr))
			}
		}
		if verr := b.docker.VolumeRemove(cleanup, volumeName(ws), true); verr != nil {
			log.Error("abort volume cleanup failed", zap.Error(verr))
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	advance(core.StageCreating)
	// A pull failure is tolerated so air-gapped hosts can run on a locally
	// built image; create fails below if the image truly is absent.
	if rc, perr := b.docker.ImagePull(ctx, b.cfg.Image, image.PullOptions{}); perr != nil {
		log.Warn("image pull failed, using local image if present", zap.Error(perr))
	} else {
		io.Copy(io.Discard, rc)
		rc.Close()
	}
	if _, err := b.docker.VolumeCreate(ctx, volume.CreateOptions{Name: volumeName(ws)}); err != nil {
		return fail(core.StageCreating, err)
	}

	advance(core.StageNetworking)
	// Nothing to allocate up front: the daemon picks a free host port when
	// the container starts, the binding below just requests one.
	portBindings := nat.PortMap{
		workspacePort: []nat.PortBinding{{HostIP: b.cfg.HostIP, HostPort: "0"}},
	}

	advance(core.StageSecrets)
	env := map[string]string{"WCO_WORKSPACE_ID": ws.ID}
	for name, value := range credentials {
		env[name] = value
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	envList := make([]string, 0, len(names))
	for _, name := range names {
		envList = append(envList, name+"="+env[name])
	}

	advance(core.StageMachine)
	created, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image:        b.cfg.Image,
			Env:          envList,
			ExposedPorts: nat.PortSet{workspacePort: struct{}{}},
			Labels: map[string]string{
				"io.perigee.wco.workspace": ws.ID,
				"io.perigee.wco.tier":      tier.Name,
			},
		},
		&container.HostConfig{
			Binds:         []string{volumeName(ws) + ":/workspace"},
			PortBindings:  portBindings,
			Resources:     tierResources(tier),
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, containerName(ws))
	if err != nil {
		return fail(core.StageMachine, err)
	}
	containerID = created.ID
	if err := b.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fail(core.StageMachine, err)
	}

	advance(core.StageBooting)
	hostPort, err := b.waitRunning(ctx, containerID)
	if err != nil {
		return fail(core.StageBooting, err)
	}
	publicURL := "http://" + b.cfg.HostIP + ":" + hostPort

	advance(core.StageHealth)
	b.waitHealthy(ctx, publicURL, log)

	advance(core.StageComplete)
	return &backend.ProvisionResult{ComputeID: containerID, PublicURL: publicURL}, nil
}

// waitRunning polls until the container reports running, then returns the
// host port the workspace port was published on.
func (b *Backend) waitRunning(ctx context.Context, containerID string) (string, error) {
	deadline := time.Now().Add(b.cfg.StartDeadline)
	for {
		info, err := b.docker.ContainerInspect(ctx, containerID)
		if err != nil {
			return "", err
		}
		if info.State != nil {
			switch {
			case info.State.Running:
				port, err := publishedPort(info)
				if err != nil {
					return "", err
				}
				return port, nil
			case info.State.Status == "exited" || info.State.Status == "dead":
				return "", fmt.Errorf("container %s entered %s (exit code %d)",
					containerID, info.State.Status, info.State.ExitCode)
			}
		}
		if time.Until(deadline) <= 0 {
			return "", fmt.Errorf("container did not reach running within %s", b.cfg.StartDeadline)
		}
		time.Sleep(b.cfg.StartInterval)
	}
}

func publishedPort(info container.InspectResponse) (string, error) {
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", info.ID)
	}
	bindings := info.NetworkSettings.Ports[workspacePort]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return "", fmt.Errorf("container %s did not publish %s", info.ID, workspacePort)
	}
	return bindings[0].HostPort, nil
}

func (b *Backend) waitHealthy(ctx context.Context, publicURL string, log *zap.Logger) {
	deadline := time.Now().Add(b.cfg.HealthDeadline)
	for time.Now().Before(deadline) {
		resp, err := b.client.Do(ctx, publicURL+"/health", httpretry.Options{
			Retries:    0,
			RetriesSet: true,
			Timeout:    b.cfg.HealthTimeout,
		})
		if err == nil && resp.StatusCode == http.StatusOK {
			log.Info("workspace daemon healthy", zap.String("url", publicURL))
			return
		}
		time.Sleep(b.cfg.HealthInterval)
	}
	log.Warn("health probe budget exhausted, proceeding",
		zap.Duration("budget", b.cfg.HealthDeadline))
}

func (b *Backend) Deprovision(ctx context.Context, ws *core.Workspace) error {
	if err := b.docker.ContainerRemove(ctx, ws.ComputeID, container.RemoveOptions{Force: true}); err != nil {
		return err
	}
	return b.docker.VolumeRemove(ctx, volumeName(ws), true)
}

func (b *Backend) Status(ctx context.Context, ws *core.Workspace) (core.WorkspaceStatus, error) {
	info, err := b.docker.ContainerInspect(ctx, ws.ComputeID)
	if err != nil {
		return "", err
	}
	return mapContainerStatus(info.State), nil
}

// mapContainerStatus folds daemon state into workspace statuses. Paused
// counts as stopped for users; anything unrecognized is an error.
func mapContainerStatus(state *container.State) core.WorkspaceStatus {
	if state == nil {
		return core.StatusError
	}
	switch state.Status {
	case "running":
		return core.StatusRunning
	case "paused", "exited", "created":
		return core.StatusStopped
	case "restarting":
		return core.StatusProvisioning
	default:
		return core.StatusError
	}
}

func (b *Backend) Restart(ctx context.Context, ws *core.Workspace) error {
	return b.docker.ContainerRestart(ctx, ws.ComputeID, container.StopOptions{})
}

func (b *Backend) Stop(ctx context.Context, ws *core.Workspace) error {
	return b.docker.ContainerStop(ctx, ws.ComputeID, container.StopOptions{})
}

// Resize adjusts cgroup limits in place; no restart needed.
func (b *Backend) Resize(ctx context.Context, ws *core.Workspace, tier core.ResourceTier) error {
	_, err := b.docker.ContainerUpdate(ctx, ws.ComputeID, container.UpdateConfig{
		Resources: tierResources(tier),
	})
	return err
}

func (b *Backend) CurrentTier(ctx context.Context, ws *core.Workspace) (string, error) {
	info, err := b.docker.ContainerInspect(ctx, ws.ComputeID)
	if err != nil {
		return "", err
	}
	if info.HostConfig == nil {
		return "", fmt.Errorf("container %s has no host config", ws.ComputeID)
	}
	for _, tier := range core.ResourceTiers {
		if tierResources(tier).Memory == info.HostConfig.Memory {
			return tier.Name, nil
		}
	}
	return "", fmt.Errorf("container %s memory limit %d matches no tier",
		ws.ComputeID, info.HostConfig.Memory)
}

func (b *Backend) MachineState(ctx context.Context, ws *core.Workspace) (core.MachineState, error) {
	info, err := b.docker.ContainerInspect(ctx, ws.ComputeID)
	if err != nil {
		return core.MachineUnknown, err
	}
	if info.State == nil {
		return core.MachineUnknown, nil
	}
	switch {
	case info.State.Paused:
		return core.MachineSuspended, nil
	case info.State.Running:
		return core.MachineStarted, nil
	case info.State.Status == "exited" || info.State.Status == "created":
		return core.MachineStopped, nil
	default:
		return core.MachineUnknown, nil
	}
}

type agentsResponse struct {
	Agents []struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
	} `json:"agents"`
}

func (b *Backend) CheckActiveAgents(ctx context.Context, ws *core.Workspace) (*core.AgentActivity, error) {
	if ws.PublicURL == "" {
		return nil, fmt.Errorf("workspace %s has no public url", ws.ID)
	}
	resp, err := b.client.Do(ctx, ws.PublicURL+"/api/agents", httpretry.Options{})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("agents endpoint: %s", resp.Status)
	}
	var agents agentsResponse
	if err := json.Unmarshal(resp.Body, &agents); err != nil {
		return nil, err
	}
	activity := &core.AgentActivity{}
	for _, a := range agents.Agents {
		if a.Kind != "daemon" {
			continue
		}
		if a.Status == "running" || a.Status == "working" {
			activity.AgentCount++
			activity.Agents = append(activity.Agents, a.ID)
		}
	}
	activity.HasActiveAgents = activity.AgentCount > 0
	return activity, nil
}

var (
	_ backend.Backend            = (*Backend)(nil)
	_ backend.Resizer            = (*Backend)(nil)
	_ backend.MachineStateReader = (*Backend)(nil)
	_ backend.AgentInspector     = (*Backend)(nil)
)
