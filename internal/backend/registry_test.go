package backend

import (
	"context"
	"testing"

	"github.com/perigee-io/wco/internal/core"
)

type stubBackend struct{ name string }

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Provision(context.Context, *core.Workspace, map[string]string, StageFunc) (*ProvisionResult, error) {
	return nil, nil
}
func (s *stubBackend) Deprovision(context.Context, *core.Workspace) error { return nil }
func (s *stubBackend) Status(context.Context, *core.Workspace) (core.WorkspaceStatus, error) {
	return core.StatusRunning, nil
}
func (s *stubBackend) Restart(context.Context, *core.Workspace) error { return nil }
func (s *stubBackend) Stop(context.Context, *core.Workspace) error    { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubBackend{name: "flyio"})
	r.Register(&stubBackend{name: "docker"})

	b, err := r.Get("flyio")
	if err != nil {
		t.Fatalf("Get(flyio): %v", err)
	}
	if b.Name() != "flyio" {
		t.Errorf("wrong backend: %s", b.Name())
	}

	if _, err := r.Get("heroku"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if !r.Has("docker") || r.Has("heroku") {
		t.Error("Has() inconsistent with registry contents")
	}

	providers := r.Providers()
	if len(providers) != 2 || providers[0] != "docker" || providers[1] != "flyio" {
		t.Errorf("unexpected provider list: %v", providers)
	}
}
