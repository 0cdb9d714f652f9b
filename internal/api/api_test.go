package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/orchestrator"
	"github.com/perigee-io/wco/internal/progress"
	"github.com/perigee-io/wco/internal/updater"
)

// fakeService answers handler calls from canned values.
type fakeService struct {
	ws        *core.Workspace
	status    core.WorkspaceStatus
	stage     progress.Progress
	hasStage  bool
	decision  *core.ScalingDecision
	snapshots []core.Snapshot
	result    core.UpdateResult
	summary   *core.FleetUpdateSummary
	err       error

	lastTier      string
	lastMaxAgents int
	lastImage     string
	lastOpts      updater.Options
	lastTarget    updater.Target
}

func (f *fakeService) Provision(ctx context.Context, req orchestrator.ProvisionRequest) (*core.Workspace, error) {
	return f.ws, f.err
}
func (f *fakeService) Get(ctx context.Context, id string) (*core.Workspace, error) {
	return f.ws, f.err
}
func (f *fakeService) ListByUser(ctx context.Context, userID string) ([]*core.Workspace, error) {
	if f.ws == nil {
		return nil, f.err
	}
	return []*core.Workspace{f.ws}, f.err
}
func (f *fakeService) Deprovision(ctx context.Context, id string) error { return f.err }
func (f *fakeService) GetStatus(ctx context.Context, id string) (core.WorkspaceStatus, error) {
	return f.status, f.err
}
func (f *fakeService) Restart(ctx context.Context, id string) error { return f.err }
func (f *fakeService) Stop(ctx context.Context, id string) error    { return f.err }
func (f *fakeService) Resize(ctx context.Context, id, tierName string) error {
	f.lastTier = tierName
	return f.err
}
func (f *fakeService) UpdateAgentLimit(ctx context.Context, id string, maxAgents int) error {
	f.lastMaxAgents = maxAgents
	return f.err
}
func (f *fakeService) CurrentTier(ctx context.Context, id string) (string, error) {
	return "medium", f.err
}
func (f *fakeService) AutoScale(ctx context.Context, id string, agentCount int) (*core.ScalingDecision, error) {
	return f.decision, f.err
}
func (f *fakeService) CreateSnapshot(ctx context.Context, id string) (string, error) {
	return "snap_1", f.err
}
func (f *fakeService) ListSnapshots(ctx context.Context, id string) ([]core.Snapshot, error) {
	return f.snapshots, f.err
}
func (f *fakeService) ProvisioningStage(id string) (progress.Progress, bool) {
	return f.stage, f.hasStage
}
func (f *fakeService) UpdateImage(ctx context.Context, id, image string, opts updater.Options) (core.UpdateResult, error) {
	f.lastImage, f.lastOpts = image, opts
	return f.result, f.err
}
func (f *fakeService) UpdateFleet(ctx context.Context, target updater.Target, image string, opts updater.Options) (*core.FleetUpdateSummary, error) {
	f.lastTarget, f.lastImage, f.lastOpts = target, image, opts
	return f.summary, f.err
}

func doRequest(t *testing.T, svc Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	api := NewAPI(svc, nil, zap.NewNop())
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	api.Router().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	w := doRequest(t, &fakeService{}, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body OK, got %s", w.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, core.NewAppError(core.ErrBadRequest, "test error"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp.Code != "WCO_BAD_REQUEST" {
		t.Errorf("expected code WCO_BAD_REQUEST, got %s", resp.Code)
	}
}

func TestProvisionWorkspace(t *testing.T) {
	svc := &fakeService{ws: &core.Workspace{ID: "ws1", Status: core.StatusProvisioning}}
	w := doRequest(t, svc, "POST", "/v1/workspaces",
		`{"user_id":"u1","config":{"resource_tier":"small"}}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %s", err)
	}
	if resp["workspace_id"] != "ws1" || resp["status"] != "provisioning" {
		t.Errorf("response = %v", resp)
	}
	if resp["stage_href"] != "/v1/workspaces/ws1/stage" {
		t.Errorf("stage_href = %v", resp["stage_href"])
	}
}

func TestProvisionWorkspace_BadJSON(t *testing.T) {
	w := doRequest(t, &fakeService{}, "POST", "/v1/workspaces", `{"user_id":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestGetWorkspaceStatus_NotFound(t *testing.T) {
	svc := &fakeService{err: core.NewAppError(core.ErrNotFound, "workspace ws9 not found")}
	w := doRequest(t, svc, "GET", "/v1/workspaces/ws9/status", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "WCO_NOT_FOUND" {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestGetProvisioningStage(t *testing.T) {
	svc := &fakeService{hasStage: true, stage: progress.Progress{Stage: core.StageBooting}}
	w := doRequest(t, svc, "GET", "/v1/workspaces/ws1/stage", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp progress.Progress
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Stage != core.StageBooting {
		t.Errorf("stage = %q", resp.Stage)
	}

	w = doRequest(t, &fakeService{}, "GET", "/v1/workspaces/ws1/stage", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 when no progress, got %d", w.Code)
	}
}

func TestResize_NotSupported(t *testing.T) {
	svc := &fakeService{err: core.NewAppError(core.ErrNotSupported, "provider railway does not support resizing")}
	w := doRequest(t, svc, "POST", "/v1/workspaces/ws1/resize", `{"tier":"large"}`)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected status 501, got %d", w.Code)
	}
}

func TestAutoScale(t *testing.T) {
	svc := &fakeService{decision: &core.ScalingDecision{
		Scaled: true, CurrentTier: "small", TargetTier: "medium",
	}}
	w := doRequest(t, svc, "POST", "/v1/workspaces/ws1/autoscale", `{"agent_count":4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp core.ScalingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Scaled || resp.TargetTier != "medium" {
		t.Errorf("decision = %+v", resp)
	}
}

func TestUpdateWorkspaceImage(t *testing.T) {
	svc := &fakeService{result: core.UpdateResult{WorkspaceID: "ws1", Result: core.UpdateApplied}}
	w := doRequest(t, svc, "POST", "/v1/workspaces/ws1/update",
		`{"image":"img:v2","skip_restart":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastImage != "img:v2" || !svc.lastOpts.SkipRestart {
		t.Errorf("captured = %q %+v", svc.lastImage, svc.lastOpts)
	}
}

func TestUpdateWorkspaceImage_RequiresImage(t *testing.T) {
	w := doRequest(t, &fakeService{}, "POST", "/v1/workspaces/ws1/update", `{"force":true}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestUpdateFleetImage(t *testing.T) {
	summary := &core.FleetUpdateSummary{Total: 3,
		Counts: map[core.UpdateResultKind]int{core.UpdateApplied: 3}}
	svc := &fakeService{summary: summary}
	w := doRequest(t, svc, "POST", "/v1/fleet/update",
		`{"image":"img:v2","user_ids":["u1"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if len(svc.lastTarget.UserIDs) != 1 || svc.lastTarget.UserIDs[0] != "u1" {
		t.Errorf("target = %+v", svc.lastTarget)
	}
	var resp core.FleetUpdateSummary
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("Total = %d", resp.Total)
	}
}

func TestListTiers(t *testing.T) {
	w := doRequest(t, &fakeService{}, "GET", "/v1/tiers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Tiers []core.ResourceTier `json:"tiers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tiers) != 4 || resp.Tiers[0].Name != "small" {
		t.Errorf("tiers = %+v", resp.Tiers)
	}
}
