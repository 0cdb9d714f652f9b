// Package progress tracks per-workspace provisioning progress for polling
// clients. Entries are process-local and ephemeral: losing one stops
// progress reporting but never affects the provisioning operation already
// in flight against the cloud API.
package progress

import (
	"sync"
	"time"

	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/observability"
)

// Progress is one workspace's current provisioning stage.
type Progress struct {
	Stage     core.Stage `json:"stage"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type entry struct {
	progress Progress
	expiry   *time.Timer
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Advance records a stage transition, preserving StartedAt across calls for
// the same workspace.
func (t *Tracker) Advance(workspaceID string, stage core.Stage) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[workspaceID]
	if !ok {
		e = &entry{progress: Progress{StartedAt: now}}
		t.entries[workspaceID] = e
	}
	e.progress.Stage = stage
	e.progress.UpdatedAt = now
	observability.StageTransitions.WithLabelValues(string(stage)).Inc()
}

// Get returns the current progress for a workspace, if any.
func (t *Tracker) Get(workspaceID string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[workspaceID]
	if !ok {
		return Progress{}, false
	}
	return e.progress, true
}

// Clear removes a workspace's entry immediately and cancels any scheduled
// clear.
func (t *Tracker) Clear(workspaceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(workspaceID)
}

// ScheduleClear removes the entry after delay. The window exists so a
// polling client can observe the terminal stage before it disappears.
func (t *Tracker) ScheduleClear(workspaceID string, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[workspaceID]
	if !ok {
		return
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
	e.expiry = time.AfterFunc(delay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.remove(workspaceID)
	})
}

func (t *Tracker) remove(workspaceID string) {
	if e, ok := t.entries[workspaceID]; ok {
		if e.expiry != nil {
			e.expiry.Stop()
		}
		delete(t.entries, workspaceID)
	}
}
