package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// WorkspaceToken derives the workspace auth token injected into each
// instance: HMAC-SHA256("workspace:"+workspaceID) under the server session
// secret. Deterministic and never stored; the API layer recomputes it to
// verify daemon callbacks.
func WorkspaceToken(sessionSecret, workspaceID string) string {
	mac := hmac.New(sha256.New, []byte(sessionSecret))
	mac.Write([]byte("workspace:" + workspaceID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWorkspaceToken checks a presented token in constant time.
func VerifyWorkspaceToken(sessionSecret, workspaceID, token string) bool {
	want := WorkspaceToken(sessionSecret, workspaceID)
	return hmac.Equal([]byte(want), []byte(token))
}
