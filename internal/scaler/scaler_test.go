package scaler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/plan"
)

type fakeStore struct {
	ws        *core.Workspace
	savedCfg  *core.WorkspaceConfig
	updateErr error
	findErr   error
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*core.Workspace, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.ws, nil
}

func (f *fakeStore) UpdateConfig(ctx context.Context, id string, cfg core.WorkspaceConfig) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.savedCfg = &cfg
	return nil
}

// fakeResizer is a backend with the resize capability.
type fakeResizer struct {
	name        string
	currentTier string
	resizedTo   string
	resizeErr   error
	calls       int
}

func (f *fakeResizer) Name() string { return f.name }
func (f *fakeResizer) Provision(context.Context, *core.Workspace, map[string]string, backend.StageFunc) (*backend.ProvisionResult, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeResizer) Deprovision(context.Context, *core.Workspace) error { return nil }
func (f *fakeResizer) Status(context.Context, *core.Workspace) (core.WorkspaceStatus, error) {
	return core.StatusRunning, nil
}
func (f *fakeResizer) Restart(context.Context, *core.Workspace) error { return nil }
func (f *fakeResizer) Stop(context.Context, *core.Workspace) error    { return nil }

func (f *fakeResizer) Resize(ctx context.Context, ws *core.Workspace, tier core.ResourceTier) error {
	f.calls++
	if f.resizeErr != nil {
		return f.resizeErr
	}
	f.resizedTo = tier.Name
	return nil
}

func (f *fakeResizer) CurrentTier(ctx context.Context, ws *core.Workspace) (string, error) {
	f.calls++
	if f.currentTier == "" {
		return "", errors.New("no live tier")
	}
	return f.currentTier, nil
}

// bareOnly hides optional capabilities behind the required contract.
type bareOnly struct{ backend.Backend }

func testScaler(t *testing.T, b backend.Backend, store *fakeStore, planName string) *Scaler {
	t.Helper()
	reg := backend.NewRegistry()
	reg.Register(b)
	p, err := plan.ByName(planName)
	if err != nil {
		t.Fatal(err)
	}
	return New(store, reg, plan.Static{Plan: p}, zap.NewNop())
}

func testWorkspace(tier string) *core.Workspace {
	return &core.Workspace{
		ID:              "ws1",
		UserID:          "u1",
		ComputeProvider: "fake",
		ComputeID:       "m1",
		Status:          core.StatusRunning,
		Config:          core.WorkspaceConfig{ResourceTier: tier},
	}
}

func TestAutoScale_ScalesUp(t *testing.T) {
	store := &fakeStore{ws: testWorkspace("small")}
	rz := &fakeResizer{name: "fake", currentTier: "small"}
	s := testScaler(t, rz, store, "pro")

	d, err := s.AutoScale(context.Background(), "ws1", 4)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if !d.Scaled || d.CurrentTier != "small" || d.TargetTier != "medium" {
		t.Errorf("decision = %+v", d)
	}
	if rz.resizedTo != "medium" {
		t.Errorf("resizedTo = %q", rz.resizedTo)
	}
	if store.savedCfg == nil || store.savedCfg.ResourceTier != "medium" {
		t.Errorf("savedCfg = %+v", store.savedCfg)
	}
}

func TestAutoScale_PlanGateSkipsBackend(t *testing.T) {
	store := &fakeStore{ws: testWorkspace("small")}
	rz := &fakeResizer{name: "fake", currentTier: "small"}
	s := testScaler(t, rz, store, "free")

	d, err := s.AutoScale(context.Background(), "ws1", 10)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if d.Scaled {
		t.Error("scaled on free plan")
	}
	if !strings.Contains(d.Reason, "free") {
		t.Errorf("Reason = %q, want plan named", d.Reason)
	}
	if rz.calls != 0 {
		t.Errorf("backend called %d times, want 0", rz.calls)
	}
}

func TestAutoScale_ClampsToPlanCeiling(t *testing.T) {
	store := &fakeStore{ws: testWorkspace("small")}
	rz := &fakeResizer{name: "fake", currentTier: "small"}
	s := testScaler(t, rz, store, "pro")

	// 15 agents recommends xlarge; pro tops out at large.
	d, err := s.AutoScale(context.Background(), "ws1", 15)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if !d.Scaled || d.TargetTier != "large" {
		t.Errorf("decision = %+v", d)
	}
	if !strings.Contains(d.Reason, "plan limit") {
		t.Errorf("Reason = %q", d.Reason)
	}
	if rz.resizedTo != "large" {
		t.Errorf("resizedTo = %q", rz.resizedTo)
	}
}

func TestAutoScale_NeverScalesDown(t *testing.T) {
	store := &fakeStore{ws: testWorkspace("large")}
	rz := &fakeResizer{name: "fake", currentTier: "large"}
	s := testScaler(t, rz, store, "scale")

	d, err := s.AutoScale(context.Background(), "ws1", 1)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if d.Scaled {
		t.Errorf("scaled down: %+v", d)
	}
	if rz.resizedTo != "" {
		t.Errorf("resize applied: %q", rz.resizedTo)
	}
	if store.savedCfg != nil {
		t.Errorf("config persisted on declined scale: %+v", store.savedCfg)
	}
	if rz.calls != 0 {
		t.Errorf("declined scale issued %d backend calls, want 0", rz.calls)
	}
}

func TestAutoScale_AtPlanCeilingReportsPlanLimit(t *testing.T) {
	// Already at pro's maximum; 15 agents would recommend xlarge.
	store := &fakeStore{ws: testWorkspace("large")}
	rz := &fakeResizer{name: "fake", currentTier: "large"}
	s := testScaler(t, rz, store, "pro")

	d, err := s.AutoScale(context.Background(), "ws1", 15)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if d.Scaled {
		t.Errorf("scaled past plan ceiling: %+v", d)
	}
	if !strings.Contains(d.Reason, "plan limit") {
		t.Errorf("Reason = %q, want plan limit named", d.Reason)
	}
	if rz.calls != 0 {
		t.Errorf("declined scale issued %d backend calls, want 0", rz.calls)
	}
}

func TestAutoScale_LiveTierOverridesStored(t *testing.T) {
	// Stored config says small but the machine is already large.
	store := &fakeStore{ws: testWorkspace("small")}
	rz := &fakeResizer{name: "fake", currentTier: "large"}
	s := testScaler(t, rz, store, "scale")

	d, err := s.AutoScale(context.Background(), "ws1", 4)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if d.Scaled {
		t.Errorf("scaled below live tier: %+v", d)
	}
	if d.CurrentTier != "large" {
		t.Errorf("CurrentTier = %q, want live value", d.CurrentTier)
	}
}

func TestAutoScale_NoResizeCapability(t *testing.T) {
	store := &fakeStore{ws: testWorkspace("small")}
	rz := &fakeResizer{name: "fake", currentTier: "small"}
	s := testScaler(t, bareOnly{rz}, store, "pro")

	d, err := s.AutoScale(context.Background(), "ws1", 4)
	if err != nil {
		t.Fatalf("AutoScale: %v", err)
	}
	if d.Scaled {
		t.Error("scaled without resize capability")
	}
	if !strings.Contains(d.Reason, "does not support") {
		t.Errorf("Reason = %q", d.Reason)
	}
	if rz.calls != 0 {
		t.Errorf("backend called %d times, want 0", rz.calls)
	}
}
