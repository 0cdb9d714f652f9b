// Package flyio provisions workspaces as Fly Machines: one app per
// workspace, one persistent volume, one machine with idle-suspend wired in.
// This is the reference backend; it implements every optional capability.
package flyio

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/httpretry"
	"github.com/perigee-io/wco/internal/observability"
)

const (
	volumeName   = "ws_data"
	internalPort = 8080
	mountPath    = "/workspace"
)

type Config struct {
	APIURL            string        `envconfig:"WCO_FLY_API_URL" default:"https://api.machines.dev"`
	Token             string        `envconfig:"WCO_FLY_API_TOKEN"`
	Org               string        `envconfig:"WCO_FLY_ORG" default:"personal"`
	Region            string        `envconfig:"WCO_FLY_REGION" default:"iad"`
	Image             string        `envconfig:"WCO_WORKSPACE_IMAGE" default:"registry.fly.io/wco-workspace:latest"`
	AppDomain         string        `envconfig:"WCO_FLY_APP_DOMAIN" default:"fly.dev"`
	InternalNetwork   bool          `envconfig:"WCO_FLY_INTERNAL_NETWORK" default:"false"`
	VolumeSizeGB      int           `envconfig:"WCO_FLY_VOLUME_SIZE_GB" default:"10"`
	SnapshotRetention int           `envconfig:"WCO_FLY_SNAPSHOT_RETENTION_DAYS" default:"14"`
	StartDeadline     time.Duration `envconfig:"WCO_FLY_START_DEADLINE" default:"120s"`
	StartWaitCap      time.Duration `envconfig:"WCO_FLY_START_WAIT_CAP" default:"60s"`
	HealthDeadline    time.Duration `envconfig:"WCO_FLY_HEALTH_DEADLINE" default:"90s"`
	HealthTimeout     time.Duration `envconfig:"WCO_FLY_HEALTH_TIMEOUT" default:"5s"`
	HealthInterval    time.Duration `envconfig:"WCO_FLY_HEALTH_INTERVAL" default:"3s"`
}

type Backend struct {
	cfg    Config
	client *httpretry.Client
	log    *zap.Logger
}

func New(cfg Config, client *httpretry.Client, log *zap.Logger) *Backend {
	// Automatic snapshot retention outside [1,60] days would be rejected by
	// the API; clamp instead of failing startup.
	if cfg.SnapshotRetention < 1 {
		cfg.SnapshotRetention = 1
	}
	if cfg.SnapshotRetention > 60 {
		cfg.SnapshotRetention = 60
	}
	if cfg.VolumeSizeGB <= 0 {
		cfg.VolumeSizeGB = 10
	}
	return &Backend{cfg: cfg, client: client, log: log}
}

func (b *Backend) Name() string { return core.ProviderFlyio }

func (b *Backend) appName(ws *core.Workspace) string {
	return "wco-" + ws.ID
}

func (b *Backend) publicURL(ws *core.Workspace) string {
	return "https://" + b.appName(ws) + "." + b.cfg.AppDomain
}

func (b *Backend) internalURL(ws *core.Workspace) string {
	return fmt.Sprintf("http://%s.internal:%d", b.appName(ws), internalPort)
}

// Provision drives the full state machine. Failure at any stage other than
// networking and health destroys the app and everything created under it
// (addresses, secrets, volume, machine) and returns the causal error.
func (b *Backend) Provision(ctx context.Context, ws *core.Workspace, credentials map[string]string, advance backend.StageFunc) (*backend.ProvisionResult, error) {
	log := observability.WorkspaceLogger(b.log, ws.ID, b.Name())
	app := b.appName(ws)
	var machineID string
	appCreated := false

	fail := func(stage core.Stage, err error) (*backend.ProvisionResult, error) {
		if appCreated {
			if derr := b.destroyApp(context.WithoutCancel(ctx), app); derr != nil {
				log.Error("abort cleanup failed", zap.Error(derr))
			}
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	advance(core.StageCreating)
	if err := b.createApp(ctx, app); err != nil {
		return fail(core.StageCreating, err)
	}
	appCreated = true

	advance(core.StageNetworking)
	// Address allocation is best-effort: a retryable allocation failure must
	// not abort an otherwise-successful provision.
	for _, ipType := range []string{"shared_v4", "v6"} {
		if err := b.allocateIP(ctx, app, ipType); err != nil {
			log.Warn("address allocation failed, continuing",
				zap.String("type", ipType), zap.Error(err))
		}
	}

	advance(core.StageSecrets)
	names := make([]string, 0, len(credentials))
	for name := range credentials {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.setSecret(ctx, app, name, credentials[name]); err != nil {
			return fail(core.StageSecrets, err)
		}
	}

	advance(core.StageMachine)
	vol, err := b.createVolume(ctx, app, createVolumeRequest{
		Name:              volumeName,
		SizeGB:            b.cfg.VolumeSizeGB,
		Region:            b.cfg.Region,
		SnapshotRetention: b.cfg.SnapshotRetention,
	})
	if err != nil {
		return fail(core.StageMachine, err)
	}
	m, err := b.createMachine(ctx, app, createMachineRequest{
		Name:   "workspace",
		Region: b.cfg.Region,
		Config: b.machineConfig(ws, vol.ID),
	})
	if err != nil {
		return fail(core.StageMachine, err)
	}
	machineID = m.ID
	log.Info("machine created", zap.String("machine_id", machineID))

	advance(core.StageBooting)
	if err := b.waitStarted(ctx, app, machineID); err != nil {
		return fail(core.StageBooting, err)
	}

	advance(core.StageHealth)
	// The health probe is confirmation, not a gate: the machine is already
	// allocated and addressable even if a slow cold start outlives the
	// probe budget.
	b.waitHealthy(ctx, ws, log)

	advance(core.StageComplete)
	return &backend.ProvisionResult{ComputeID: machineID, PublicURL: b.publicURL(ws)}, nil
}

func (b *Backend) machineConfig(ws *core.Workspace, volumeID string) machineConfig {
	tier, ok := core.TierByName(ws.Config.ResourceTier)
	if !ok {
		tier, _ = core.TierByName(core.DefaultTier)
	}
	env := map[string]string{
		"WCO_WORKSPACE_ID": ws.ID,
		"WCO_MAX_AGENTS":   strconv.Itoa(ws.Config.MaxAgents),
	}
	if ws.Config.SupervisorEnabled {
		env["WCO_SUPERVISOR"] = "1"
	}
	return machineConfig{
		Image: b.cfg.Image,
		Env:   env,
		Guest: &machineGuest{
			CPUKind:  string(tier.CPUKind),
			CPUs:     tier.CPUCores,
			MemoryMB: tier.MemoryMB,
		},
		Mounts: []machineMount{{Volume: volumeID, Path: mountPath}},
		Services: []machineService{{
			Protocol:     "tcp",
			InternalPort: internalPort,
			Autostop:     true,
			Autostart:    true,
			Ports: []machinePort{
				{Port: 80, Handlers: []string{"http"}},
				{Port: 443, Handlers: []string{"tls", "http"}},
			},
		}},
		Checks: map[string]machineCheck{
			"daemon": {
				Type:     "http",
				Port:     internalPort,
				Path:     "/health",
				Interval: "15s",
				Timeout:  "5s",
			},
		},
	}
}

// waitStarted polls the blocking wait endpoint until the machine reports
// started, chunking the overall deadline into per-call waits of at most
// StartWaitCap. A 408 is the API's "not yet" and stays retryable inside
// the deadline; anything else non-2xx is fatal.
func (b *Backend) waitStarted(ctx context.Context, app, machineID string) error {
	deadline := time.Now().Add(b.cfg.StartDeadline)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("machine %s did not reach started within %s", machineID, b.cfg.StartDeadline)
		}
		chunk := b.cfg.StartWaitCap
		if remaining < chunk {
			chunk = remaining
		}
		secs := int(chunk.Seconds())
		if secs < 1 {
			secs = 1
		}
		url := fmt.Sprintf("%s?state=started&timeout=%d", b.url("apps", app, "machines", machineID, "wait"), secs)
		resp, err := b.client.Do(ctx, url, httpretry.Options{
			Header:     b.authHeader(),
			Retries:    0,
			RetriesSet: true,
			Timeout:    chunk + 5*time.Second,
		})
		if err != nil {
			return fmt.Errorf("wait for machine start: %w", err)
		}
		switch {
		case resp.OK():
			return nil
		case resp.StatusCode == http.StatusRequestTimeout:
			// Not started yet; loop against the remaining budget.
		default:
			return apiError("wait for machine start", resp)
		}
	}
}

// waitHealthy probes the daemon health endpoint until it answers 200 or the
// budget runs out. Internal-network URL takes priority when the
// orchestrator runs inside the same private network.
func (b *Backend) waitHealthy(ctx context.Context, ws *core.Workspace, log *zap.Logger) {
	var urls []string
	if b.cfg.InternalNetwork {
		urls = append(urls, b.internalURL(ws)+"/health")
	}
	urls = append(urls, b.publicURL(ws)+"/health")

	deadline := time.Now().Add(b.cfg.HealthDeadline)
	for time.Now().Before(deadline) {
		for _, u := range urls {
			resp, err := b.client.Do(ctx, u, httpretry.Options{
				Retries:    0,
				RetriesSet: true,
				Timeout:    b.cfg.HealthTimeout,
			})
			if err == nil && resp.StatusCode == http.StatusOK {
				log.Info("workspace daemon healthy", zap.String("url", u))
				return
			}
		}
		time.Sleep(b.cfg.HealthInterval)
	}
	log.Warn("health probe budget exhausted, proceeding",
		zap.Duration("budget", b.cfg.HealthDeadline))
}

func (b *Backend) Deprovision(ctx context.Context, ws *core.Workspace) error {
	return b.destroyApp(ctx, b.appName(ws))
}

func (b *Backend) Status(ctx context.Context, ws *core.Workspace) (core.WorkspaceStatus, error) {
	m, err := b.getMachine(ctx, b.appName(ws), ws.ComputeID)
	if err != nil {
		return "", err
	}
	return mapMachineStatus(m.State), nil
}

// mapMachineStatus folds the vendor's instance-state vocabulary into the
// four workspace statuses. Unrecognized states map to error, not running.
func mapMachineStatus(state string) core.WorkspaceStatus {
	switch state {
	case "started":
		return core.StatusRunning
	case "stopped", "stopping", "suspended", "suspending":
		return core.StatusStopped
	case "created", "starting", "replacing":
		return core.StatusProvisioning
	default:
		return core.StatusError
	}
}

func (b *Backend) Restart(ctx context.Context, ws *core.Workspace) error {
	return b.machineAction(ctx, b.appName(ws), ws.ComputeID, "restart")
}

func (b *Backend) Stop(ctx context.Context, ws *core.Workspace) error {
	return b.machineAction(ctx, b.appName(ws), ws.ComputeID, "stop")
}

func (b *Backend) Resize(ctx context.Context, ws *core.Workspace, tier core.ResourceTier) error {
	app := b.appName(ws)
	m, err := b.getMachine(ctx, app, ws.ComputeID)
	if err != nil {
		return err
	}
	cfg := m.Config
	cfg.Guest = &machineGuest{
		CPUKind:  string(tier.CPUKind),
		CPUs:     tier.CPUCores,
		MemoryMB: tier.MemoryMB,
	}
	return b.updateMachine(ctx, app, ws.ComputeID, cfg)
}

func (b *Backend) CurrentTier(ctx context.Context, ws *core.Workspace) (string, error) {
	m, err := b.getMachine(ctx, b.appName(ws), ws.ComputeID)
	if err != nil {
		return "", err
	}
	if m.Config.Guest == nil {
		return "", fmt.Errorf("machine %s has no guest sizing", ws.ComputeID)
	}
	for _, t := range core.ResourceTiers {
		if t.MemoryMB == m.Config.Guest.MemoryMB && t.CPUCores == m.Config.Guest.CPUs {
			return t.Name, nil
		}
	}
	return "", fmt.Errorf("machine size %dcpu/%dMB matches no tier", m.Config.Guest.CPUs, m.Config.Guest.MemoryMB)
}

func (b *Backend) UpdateAgentLimit(ctx context.Context, ws *core.Workspace, maxAgents int) error {
	app := b.appName(ws)
	m, err := b.getMachine(ctx, app, ws.ComputeID)
	if err != nil {
		return err
	}
	cfg := m.Config
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	cfg.Env["WCO_MAX_AGENTS"] = strconv.Itoa(maxAgents)
	return b.updateMachine(ctx, app, ws.ComputeID, cfg)
}

// UpdateMachineImage rewrites the machine config with the new image. The
// running instance keeps its old image until the next restart.
func (b *Backend) UpdateMachineImage(ctx context.Context, ws *core.Workspace, image string) error {
	app := b.appName(ws)
	m, err := b.getMachine(ctx, app, ws.ComputeID)
	if err != nil {
		return err
	}
	cfg := m.Config
	cfg.Image = image
	return b.updateMachine(ctx, app, ws.ComputeID, cfg)
}

func (b *Backend) MachineState(ctx context.Context, ws *core.Workspace) (core.MachineState, error) {
	m, err := b.getMachine(ctx, b.appName(ws), ws.ComputeID)
	if err != nil {
		return core.MachineUnknown, err
	}
	switch m.State {
	case "started":
		return core.MachineStarted, nil
	case "stopped":
		return core.MachineStopped, nil
	case "suspended":
		return core.MachineSuspended, nil
	default:
		return core.MachineUnknown, nil
	}
}

type daemonAgent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type daemonAgentsResponse struct {
	Agents []daemonAgent `json:"agents"`
}

func (b *Backend) CheckActiveAgents(ctx context.Context, ws *core.Workspace) (*core.AgentActivity, error) {
	base := b.publicURL(ws)
	if b.cfg.InternalNetwork {
		base = b.internalURL(ws)
	}
	var out daemonAgentsResponse
	resp, err := b.client.DoJSON(ctx, http.MethodGet, base+"/api/agents", nil, &out,
		httpretry.Options{Timeout: b.cfg.HealthTimeout})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError("check active agents", resp)
	}
	activity := &core.AgentActivity{}
	for _, a := range out.Agents {
		if a.Status == "running" || a.Status == "working" {
			activity.AgentCount++
			name := a.Name
			if name == "" {
				name = a.ID
			}
			activity.Agents = append(activity.Agents, name)
		}
	}
	activity.HasActiveAgents = activity.AgentCount > 0
	return activity, nil
}

func (b *Backend) CreateSnapshot(ctx context.Context, ws *core.Workspace) (string, error) {
	app := b.appName(ws)
	vol, err := b.findVolume(ctx, app)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "volumes", vol.ID, "snapshots"), nil, &out,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", apiError("create snapshot", resp)
	}
	return out.ID, nil
}

func (b *Backend) ListSnapshots(ctx context.Context, ws *core.Workspace) ([]core.Snapshot, error) {
	app := b.appName(ws)
	vol, err := b.findVolume(ctx, app)
	if err != nil {
		return nil, err
	}
	var out []apiVolumeSnapshot
	resp, err := b.client.DoJSON(ctx, http.MethodGet, b.url("apps", app, "volumes", vol.ID, "snapshots"), nil, &out,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError("list snapshots", resp)
	}
	snaps := make([]core.Snapshot, len(out))
	for i, s := range out {
		snaps[i] = core.Snapshot{ID: s.ID, CreatedAt: s.CreatedAt, SizeBytes: s.Size}
	}
	return snaps, nil
}

func (b *Backend) findVolume(ctx context.Context, app string) (*apiVolume, error) {
	vols, err := b.listVolumes(ctx, app)
	if err != nil {
		return nil, err
	}
	for i := range vols {
		if vols[i].Name == volumeName {
			return &vols[i], nil
		}
	}
	return nil, fmt.Errorf("app %s has no %s volume", app, volumeName)
}

// Interface conformance.
var (
	_ backend.Backend            = (*Backend)(nil)
	_ backend.Resizer            = (*Backend)(nil)
	_ backend.AgentLimiter       = (*Backend)(nil)
	_ backend.ImageUpdater       = (*Backend)(nil)
	_ backend.AgentInspector     = (*Backend)(nil)
	_ backend.MachineStateReader = (*Backend)(nil)
	_ backend.Snapshotter        = (*Backend)(nil)
)
