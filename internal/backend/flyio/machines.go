package flyio

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/perigee-io/wco/internal/httpretry"
)

// Minimal slice of the Machines API surface. Request and response shapes are
// vendor-owned; only the fields the orchestrator reads are modeled.

type createAppRequest struct {
	AppName string `json:"app_name"`
	OrgSlug string `json:"org_slug"`
}

type allocateIPRequest struct {
	Type string `json:"type"`
}

type setSecretRequest struct {
	Value string `json:"value"`
}

type createVolumeRequest struct {
	Name              string `json:"name"`
	SizeGB            int    `json:"size_gb"`
	Region            string `json:"region"`
	SnapshotRetention int    `json:"snapshot_retention"`
}

type apiVolume struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SizeGB int    `json:"size_gb"`
}

type apiVolumeSnapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

type machineGuest struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

type machineMount struct {
	Volume string `json:"volume"`
	Path   string `json:"path"`
}

type machinePort struct {
	Port     int      `json:"port"`
	Handlers []string `json:"handlers"`
}

type machineService struct {
	Protocol     string        `json:"protocol"`
	InternalPort int           `json:"internal_port"`
	Autostop     bool          `json:"autostop"`
	Autostart    bool          `json:"autostart"`
	Ports        []machinePort `json:"ports"`
}

type machineCheck struct {
	Type     string `json:"type"`
	Port     int    `json:"port"`
	Path     string `json:"path"`
	Interval string `json:"interval"`
	Timeout  string `json:"timeout"`
}

type machineConfig struct {
	Image    string                  `json:"image"`
	Env      map[string]string       `json:"env,omitempty"`
	Guest    *machineGuest           `json:"guest,omitempty"`
	Mounts   []machineMount          `json:"mounts,omitempty"`
	Services []machineService        `json:"services,omitempty"`
	Checks   map[string]machineCheck `json:"checks,omitempty"`
}

type createMachineRequest struct {
	Name   string        `json:"name"`
	Region string        `json:"region"`
	Config machineConfig `json:"config"`
}

type updateMachineRequest struct {
	Config machineConfig `json:"config"`
}

type apiMachine struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	State  string        `json:"state"`
	Config machineConfig `json:"config"`
}

func (b *Backend) url(parts ...string) string {
	u := b.cfg.APIURL + "/v1"
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (b *Backend) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+b.cfg.Token)
	return h
}

func (b *Backend) createApp(ctx context.Context, app string) error {
	req := createAppRequest{AppName: app, OrgSlug: b.cfg.Org}
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps"), req, nil,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiError("create app", resp)
	}
	return nil
}

func (b *Backend) allocateIP(ctx context.Context, app, ipType string) error {
	req := allocateIPRequest{Type: ipType}
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "ip_addresses"), req, nil,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiError("allocate ip", resp)
	}
	return nil
}

func (b *Backend) setSecret(ctx context.Context, app, name, value string) error {
	req := setSecretRequest{Value: value}
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "secrets", name), req, nil,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiError("set secret "+name, resp)
	}
	return nil
}

func (b *Backend) createVolume(ctx context.Context, app string, req createVolumeRequest) (*apiVolume, error) {
	var vol apiVolume
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "volumes"), req, &vol,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError("create volume", resp)
	}
	return &vol, nil
}

func (b *Backend) listVolumes(ctx context.Context, app string) ([]apiVolume, error) {
	var vols []apiVolume
	resp, err := b.client.DoJSON(ctx, http.MethodGet, b.url("apps", app, "volumes"), nil, &vols,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError("list volumes", resp)
	}
	return vols, nil
}

func (b *Backend) createMachine(ctx context.Context, app string, req createMachineRequest) (*apiMachine, error) {
	var m apiMachine
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "machines"), req, &m,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError("create machine", resp)
	}
	return &m, nil
}

func (b *Backend) getMachine(ctx context.Context, app, id string) (*apiMachine, error) {
	var m apiMachine
	resp, err := b.client.DoJSON(ctx, http.MethodGet, b.url("apps", app, "machines", id), nil, &m,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, apiError("get machine", resp)
	}
	return &m, nil
}

func (b *Backend) updateMachine(ctx context.Context, app, id string, cfg machineConfig) error {
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "machines", id),
		updateMachineRequest{Config: cfg}, nil, httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiError("update machine", resp)
	}
	return nil
}

func (b *Backend) machineAction(ctx context.Context, app, id, action string) error {
	resp, err := b.client.DoJSON(ctx, http.MethodPost, b.url("apps", app, "machines", id, action), nil, nil,
		httpretry.Options{Header: b.authHeader()})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return apiError(action+" machine", resp)
	}
	return nil
}

func (b *Backend) destroyApp(ctx context.Context, app string) error {
	resp, err := b.client.Do(ctx, b.url("apps", app)+"?force=true",
		httpretry.Options{Method: http.MethodDelete, Header: b.authHeader()})
	if err != nil {
		return err
	}
	// 404 means the app is already gone; deprovision stays idempotent.
	if !resp.OK() && resp.StatusCode != http.StatusNotFound {
		return apiError("destroy app", resp)
	}
	return nil
}

func apiError(op string, resp *httpretry.Response) error {
	body := string(resp.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Errorf("%s: %s: %s", op, resp.Status, body)
}
