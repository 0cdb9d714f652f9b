// Package credentials resolves the provider tokens injected into a
// workspace at provision time. The interfaces here are the seams the
// orchestrator consumes; production installs plug a real token vault in,
// single-node installs use the environment.
package credentials

import (
	"context"
	"os"
	"strings"
)

// Vault resolves a user's token for an integration provider. A missing
// token is ("", nil), not an error; absence is an expected state.
type Vault interface {
	LoadToken(ctx context.Context, userID, provider string) (string, error)
}

// InstallationTokenSource mints a fresh source-control installation token
// for repository access. ("", nil) means no installation is connected.
type InstallationTokenSource interface {
	InstallationToken(ctx context.Context, userID string) (string, error)
}

// SecretName is the environment name a provider's token is injected under,
// e.g. github -> GITHUB_TOKEN.
func SecretName(provider string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, provider)
	return cleaned + "_TOKEN"
}

// EnvVault reads tokens from WCO_TOKEN_<PROVIDER> environment variables.
type EnvVault struct{}

func (EnvVault) LoadToken(ctx context.Context, userID, provider string) (string, error) {
	return os.Getenv("WCO_TOKEN_" + strings.ToUpper(provider)), nil
}

// StaticInstallationTokenSource returns a fixed token, the direct
// test-mode path around the token-exchange service.
type StaticInstallationTokenSource struct {
	Token string
}

func (s StaticInstallationTokenSource) InstallationToken(ctx context.Context, userID string) (string, error) {
	return s.Token, nil
}

var (
	_ Vault                   = EnvVault{}
	_ InstallationTokenSource = StaticInstallationTokenSource{}
)
