// Package snapshot exposes workspace volume snapshots for backends that
// support them. Providers without snapshot machinery degrade to empty
// results rather than errors so callers can offer the feature
// opportunistically.
package snapshot

import (
	"context"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/observability"
)

type Manager struct {
	registry *backend.Registry
	log      *zap.Logger
}

func New(registry *backend.Registry, log *zap.Logger) *Manager {
	return &Manager{registry: registry, log: log}
}

// Create requests an on-demand snapshot. Providers that cannot snapshot
// return an empty id and no error.
func (m *Manager) Create(ctx context.Context, ws *core.Workspace) (string, error) {
	b, err := m.registry.Get(ws.ComputeProvider)
	if err != nil {
		return "", err
	}
	snapshotter, ok := b.(backend.Snapshotter)
	if !ok {
		m.log.Debug("provider has no snapshot support",
			zap.String("provider", ws.ComputeProvider))
		observability.SnapshotCreateTotal.WithLabelValues("unsupported").Inc()
		return "", nil
	}

	id, err := snapshotter.CreateSnapshot(ctx, ws)
	if err != nil {
		observability.SnapshotCreateTotal.WithLabelValues("error").Inc()
		return "", err
	}
	observability.SnapshotCreateTotal.WithLabelValues("ok").Inc()
	m.log.Info("snapshot created",
		zap.String("workspace_id", ws.ID),
		zap.String("snapshot_id", id))
	return id, nil
}

// List returns existing snapshots, or nil when the provider has none or
// cannot enumerate them.
func (m *Manager) List(ctx context.Context, ws *core.Workspace) ([]core.Snapshot, error) {
	b, err := m.registry.Get(ws.ComputeProvider)
	if err != nil {
		return nil, err
	}
	snapshotter, ok := b.(backend.Snapshotter)
	if !ok {
		return nil, nil
	}
	return snapshotter.ListSnapshots(ctx, ws)
}
