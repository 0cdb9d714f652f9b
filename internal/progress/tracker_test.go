package progress

import (
	"testing"
	"time"

	"github.com/perigee-io/wco/internal/core"
)

func TestAdvance_PreservesStartedAt(t *testing.T) {
	tr := NewTracker()
	tr.Advance("ws-1", core.StageCreating)
	p1, ok := tr.Get("ws-1")
	if !ok {
		t.Fatal("entry missing after first advance")
	}

	time.Sleep(5 * time.Millisecond)
	tr.Advance("ws-1", core.StageNetworking)
	p2, _ := tr.Get("ws-1")

	if !p2.StartedAt.Equal(p1.StartedAt) {
		t.Errorf("StartedAt changed across advance: %v vs %v", p1.StartedAt, p2.StartedAt)
	}
	if p2.UpdatedAt.Before(p1.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v then %v", p1.UpdatedAt, p2.UpdatedAt)
	}
	if p2.Stage != core.StageNetworking {
		t.Errorf("expected stage networking, got %s", p2.Stage)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Advance("ws-1", core.StageCreating)
	tr.Clear("ws-1")
	if _, ok := tr.Get("ws-1"); ok {
		t.Error("entry survived Clear")
	}
	// Clearing a missing entry is a no-op.
	tr.Clear("ws-unknown")
}

func TestScheduleClear_Expires(t *testing.T) {
	tr := NewTracker()
	tr.Advance("ws-1", core.StageComplete)
	tr.ScheduleClear("ws-1", 20*time.Millisecond)

	if _, ok := tr.Get("ws-1"); !ok {
		t.Fatal("entry must survive until the scheduled clear")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := tr.Get("ws-1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled clear never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A fresh provisioning run starts a new entry with a new StartedAt.
	tr.Advance("ws-1", core.StageCreating)
	p, ok := tr.Get("ws-1")
	if !ok || p.Stage != core.StageCreating {
		t.Errorf("expected fresh entry at creating, got %+v ok=%v", p, ok)
	}
}

func TestClear_CancelsScheduledClear(t *testing.T) {
	tr := NewTracker()
	tr.Advance("ws-1", core.StageComplete)
	tr.ScheduleClear("ws-1", time.Hour)
	tr.Clear("ws-1")
	tr.Advance("ws-1", core.StageCreating)

	time.Sleep(20 * time.Millisecond)
	if _, ok := tr.Get("ws-1"); !ok {
		t.Error("stale timer cleared the new entry")
	}
}

func TestTracker_IndependentWorkspaces(t *testing.T) {
	tr := NewTracker()
	tr.Advance("ws-1", core.StageMachine)
	tr.Advance("ws-2", core.StageHealth)

	p1, _ := tr.Get("ws-1")
	p2, _ := tr.Get("ws-2")
	if p1.Stage != core.StageMachine || p2.Stage != core.StageHealth {
		t.Errorf("cross-workspace interference: %s / %s", p1.Stage, p2.Stage)
	}
}
