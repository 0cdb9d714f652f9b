package core

import "testing"

func TestWorkspaceToken_Deterministic(t *testing.T) {
	t1 := WorkspaceToken("secret", "ws-1")
	t2 := WorkspaceToken("secret", "ws-1")
	if t1 != t2 {
		t.Fatalf("same inputs produced different tokens: %s vs %s", t1, t2)
	}
	if len(t1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(t1))
	}
}

func TestWorkspaceToken_DistinctPerWorkspace(t *testing.T) {
	if WorkspaceToken("secret", "ws-1") == WorkspaceToken("secret", "ws-2") {
		t.Error("different workspaces produced same token")
	}
	if WorkspaceToken("secret-a", "ws-1") == WorkspaceToken("secret-b", "ws-1") {
		t.Error("different secrets produced same token")
	}
}

func TestVerifyWorkspaceToken(t *testing.T) {
	tok := WorkspaceToken("secret", "ws-1")
	if !VerifyWorkspaceToken("secret", "ws-1", tok) {
		t.Error("valid token rejected")
	}
	if VerifyWorkspaceToken("secret", "ws-2", tok) {
		t.Error("token for another workspace accepted")
	}
}
