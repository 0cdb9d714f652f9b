package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
)

// fakeBackend carries every optional capability; tests subtract them with
// the wrapper types below.
type fakeBackend struct {
	mu       sync.Mutex
	state    core.MachineState
	stateErr error
	activity *core.AgentActivity
	agentErr error
	imageErr error

	updatedImage string
	restarts     int
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Provision(context.Context, *core.Workspace, map[string]string, backend.StageFunc) (*backend.ProvisionResult, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) Deprovision(context.Context, *core.Workspace) error { return nil }
func (f *fakeBackend) Status(context.Context, *core.Workspace) (core.WorkspaceStatus, error) {
	return core.StatusRunning, nil
}
func (f *fakeBackend) Stop(context.Context, *core.Workspace) error { return nil }

func (f *fakeBackend) Restart(context.Context, *core.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeBackend) MachineState(context.Context, *core.Workspace) (core.MachineState, error) {
	if f.stateErr != nil {
		return core.MachineUnknown, f.stateErr
	}
	return f.state, nil
}

func (f *fakeBackend) CheckActiveAgents(context.Context, *core.Workspace) (*core.AgentActivity, error) {
	if f.agentErr != nil {
		return nil, f.agentErr
	}
	if f.activity == nil {
		return &core.AgentActivity{}, nil
	}
	return f.activity, nil
}

func (f *fakeBackend) UpdateMachineImage(ctx context.Context, ws *core.Workspace, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageErr != nil {
		return f.imageErr
	}
	f.updatedImage = image
	return nil
}

func (f *fakeBackend) image() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedImage
}

func (f *fakeBackend) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// noUpdate strips every optional capability.
type noUpdate struct{ backend.Backend }

// bare renames a backend so two providers can coexist in one registry.
type bare struct{ backend.Backend }

func (bare) Name() string { return "bare" }

// updateOnly keeps ImageUpdater and MachineStateReader but drops the agent
// inspector.
type updateOnly struct {
	backend.Backend
	f *fakeBackend
}

func (u updateOnly) UpdateMachineImage(ctx context.Context, ws *core.Workspace, image string) error {
	return u.f.UpdateMachineImage(ctx, ws, image)
}

func (u updateOnly) MachineState(ctx context.Context, ws *core.Workspace) (core.MachineState, error) {
	return u.f.MachineState(ctx, ws)
}

type fakeStore struct {
	workspaces []*core.Workspace
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*core.Workspace, error) {
	for _, ws := range f.workspaces {
		if ws.ID == id {
			return ws, nil
		}
	}
	return nil, errors.New("workspace not found")
}

func (f *fakeStore) FindByUserID(ctx context.Context, userID string) ([]*core.Workspace, error) {
	var owned []*core.Workspace
	for _, ws := range f.workspaces {
		if ws.UserID == userID {
			owned = append(owned, ws)
		}
	}
	return owned, nil
}

func (f *fakeStore) FindAll(ctx context.Context) ([]*core.Workspace, error) {
	return f.workspaces, nil
}

func testUpdater(b backend.Backend, store Store) *Updater {
	reg := backend.NewRegistry()
	reg.Register(b)
	if store == nil {
		store = &fakeStore{}
	}
	return New(store, reg, zap.NewNop())
}

func testWorkspace(id string) *core.Workspace {
	return &core.Workspace{
		ID:              id,
		ComputeProvider: "fake",
		ComputeID:       "m-" + id,
		Status:          core.StatusRunning,
	}
}

func TestUpdateImage_IdleMachineIsUpdatedAndRestarted(t *testing.T) {
	f := &fakeBackend{state: core.MachineStarted}
	u := testUpdater(f, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
	if res.Result != core.UpdateApplied {
		t.Fatalf("Result = %q: %s", res.Result, res.Error)
	}
	if f.image() != "img:v2" {
		t.Errorf("image = %q", f.image())
	}
	if f.restartCount() != 1 {
		t.Errorf("restarts = %d, want 1", f.restartCount())
	}
}

func TestUpdateImage_ActiveAgentsBlockRestart(t *testing.T) {
	f := &fakeBackend{
		state:    core.MachineStarted,
		activity: &core.AgentActivity{HasActiveAgents: true, AgentCount: 2, Agents: []string{"a1", "a2"}},
	}
	u := testUpdater(f, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
	if res.Result != core.UpdateSkippedActiveAgents {
		t.Fatalf("Result = %q", res.Result)
	}
	if res.AgentCount != 2 || len(res.Agents) != 2 {
		t.Errorf("activity not carried: %+v", res)
	}
	if f.image() != "" {
		t.Errorf("image written while agents active: %q", f.image())
	}
	if f.restartCount() != 0 {
		t.Errorf("restarted while agents active")
	}
}

func TestUpdateImage_ForceOverridesActiveAgents(t *testing.T) {
	f := &fakeBackend{
		state:    core.MachineStarted,
		activity: &core.AgentActivity{HasActiveAgents: true, AgentCount: 1},
	}
	u := testUpdater(f, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{Force: true})
	if res.Result != core.UpdateApplied {
		t.Fatalf("Result = %q: %s", res.Result, res.Error)
	}
	if f.restartCount() != 1 {
		t.Errorf("restarts = %d, want 1", f.restartCount())
	}
}

func TestUpdateImage_StoppedMachineStagesWithoutRestart(t *testing.T) {
	for _, state := range []core.MachineState{core.MachineStopped, core.MachineSuspended} {
		t.Run(string(state), func(t *testing.T) {
			f := &fakeBackend{state: state}
			u := testUpdater(f, nil)

			res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
			if res.Result != core.UpdatePendingRestart {
				t.Fatalf("Result = %q", res.Result)
			}
			if f.image() != "img:v2" {
				t.Errorf("image = %q", f.image())
			}
			if f.restartCount() != 0 {
				t.Errorf("stopped machine was restarted")
			}
		})
	}
}

func TestUpdateImage_SkipRestart(t *testing.T) {
	f := &fakeBackend{state: core.MachineStarted}
	u := testUpdater(f, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{SkipRestart: true})
	if res.Result != core.UpdatePendingRestart {
		t.Fatalf("Result = %q", res.Result)
	}
	if f.image() != "img:v2" {
		t.Errorf("image = %q", f.image())
	}
	if f.restartCount() != 0 {
		t.Errorf("restarted despite SkipRestart")
	}
}

func TestUpdateImage_UnknownStateIsSkipped(t *testing.T) {
	f := &fakeBackend{state: core.MachineUnknown}
	u := testUpdater(f, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
	if res.Result != core.UpdateSkippedNotRunning {
		t.Fatalf("Result = %q", res.Result)
	}
	if f.image() != "" {
		t.Errorf("image written for unknown state: %q", f.image())
	}
}

func TestUpdateImage_NoImageUpdaterIsNotSupported(t *testing.T) {
	f := &fakeBackend{state: core.MachineStarted}
	u := testUpdater(noUpdate{f}, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
	if res.Result != core.UpdateNotSupported {
		t.Fatalf("Result = %q", res.Result)
	}
}

func TestUpdateImage_NoInspectorCannotProveIdle(t *testing.T) {
	f := &fakeBackend{state: core.MachineStarted}
	u := testUpdater(updateOnly{Backend: noUpdate{f}, f: f}, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
	if res.Result != core.UpdateSkippedActiveAgents {
		t.Fatalf("Result = %q", res.Result)
	}

	// Force accepts the risk and proceeds.
	res = u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{Force: true})
	if res.Result != core.UpdateApplied {
		t.Fatalf("forced Result = %q: %s", res.Result, res.Error)
	}
}

func TestUpdateImage_BackendErrorIsReported(t *testing.T) {
	f := &fakeBackend{state: core.MachineStarted, imageErr: errors.New("rate limited")}
	u := testUpdater(f, nil)

	res := u.UpdateImage(context.Background(), testWorkspace("ws1"), "img:v2", Options{})
	if res.Result != core.UpdateError {
		t.Fatalf("Result = %q", res.Result)
	}
	if res.Error == "" {
		t.Error("Error not populated")
	}
}

func TestUpdateFleet_BatchesWithDelay(t *testing.T) {
	var workspaces []*core.Workspace
	for i := 0; i < 12; i++ {
		workspaces = append(workspaces, testWorkspace(fmt.Sprintf("ws%d", i)))
	}
	f := &fakeBackend{state: core.MachineStopped}
	u := testUpdater(f, &fakeStore{workspaces: workspaces})

	var sleeps []time.Duration
	u.sleep = func(ctx context.Context, d time.Duration) { sleeps = append(sleeps, d) }

	summary, err := u.UpdateFleet(context.Background(), Target{}, "img:v2", Options{})
	if err != nil {
		t.Fatalf("UpdateFleet: %v", err)
	}
	if summary.Total != 12 {
		t.Errorf("Total = %d, want 12", summary.Total)
	}
	if summary.Counts[core.UpdatePendingRestart] != 12 {
		t.Errorf("Counts = %v", summary.Counts)
	}
	// 12 workspaces in batches of 5 means two inter-batch pauses.
	if len(sleeps) != 2 {
		t.Errorf("sleeps = %d, want 2", len(sleeps))
	}
	for _, d := range sleeps {
		if d != DefaultBatchDelay {
			t.Errorf("sleep = %v, want %v", d, DefaultBatchDelay)
		}
	}
}

func TestUpdateFleet_Empty(t *testing.T) {
	f := &fakeBackend{state: core.MachineStopped}
	u := testUpdater(f, &fakeStore{})

	summary, err := u.UpdateFleet(context.Background(), Target{}, "img:v2", Options{})
	if err != nil {
		t.Fatalf("UpdateFleet: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("Total = %d", summary.Total)
	}
}

func TestUpdateFleet_TargetsExplicitWorkspaces(t *testing.T) {
	store := &fakeStore{workspaces: []*core.Workspace{
		testWorkspace("ws0"), testWorkspace("ws1"), testWorkspace("ws2"),
	}}
	f := &fakeBackend{state: core.MachineStopped}
	u := testUpdater(f, store)
	u.sleep = func(context.Context, time.Duration) {}

	summary, err := u.UpdateFleet(context.Background(),
		Target{WorkspaceIDs: []string{"ws1"}}, "img:v2", Options{})
	if err != nil {
		t.Fatalf("UpdateFleet: %v", err)
	}
	if summary.Total != 1 || summary.Results[0].WorkspaceID != "ws1" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestUpdateFleet_TargetsUsers(t *testing.T) {
	a, b, c := testWorkspace("ws0"), testWorkspace("ws1"), testWorkspace("ws2")
	a.UserID, b.UserID, c.UserID = "u1", "u2", "u1"
	store := &fakeStore{workspaces: []*core.Workspace{a, b, c}}
	f := &fakeBackend{state: core.MachineStopped}
	u := testUpdater(f, store)
	u.sleep = func(context.Context, time.Duration) {}

	summary, err := u.UpdateFleet(context.Background(),
		Target{UserIDs: []string{"u1"}}, "img:v2", Options{})
	if err != nil {
		t.Fatalf("UpdateFleet: %v", err)
	}
	if summary.Total != 2 {
		t.Errorf("Total = %d, want 2", summary.Total)
	}
}

func TestUpdateFleet_FiltersUnsupportedProviders(t *testing.T) {
	supported := testWorkspace("ws0")
	unsupported := testWorkspace("ws1")
	unsupported.ComputeProvider = "bare"

	f := &fakeBackend{state: core.MachineStopped}
	reg := backend.NewRegistry()
	reg.Register(f)
	reg.Register(bare{noUpdate{&fakeBackend{}}})
	store := &fakeStore{workspaces: []*core.Workspace{supported, unsupported}}
	u := New(store, reg, zap.NewNop())
	u.sleep = func(context.Context, time.Duration) {}

	summary, err := u.UpdateFleet(context.Background(), Target{}, "img:v2", Options{})
	if err != nil {
		t.Fatalf("UpdateFleet: %v", err)
	}
	if summary.Total != 1 || summary.Results[0].WorkspaceID != "ws0" {
		t.Errorf("summary = %+v", summary)
	}
}
