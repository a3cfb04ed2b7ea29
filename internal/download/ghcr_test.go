package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOCIRegistryMatchesGHCRClass(t *testing.T) {
	assert.True(t, isOCIRegistry("ghcr.io"))
	assert.True(t, isOCIRegistry("pkg-containers.githubusercontent.com"))
	assert.False(t, isOCIRegistry("example.com"))
}

func TestParseWWWAuthenticateExtractsChallenge(t *testing.T) {
	b, ok := parseWWWAuthenticate(`Bearer realm="https://ghcr.io/token",service="ghcr.io",scope="repository:homebrew/core/wget:pull"`)
	assert.True(t, ok)
	assert.Equal(t, "https://ghcr.io/token", b.Realm)
	assert.Equal(t, "ghcr.io", b.Service)
	assert.Equal(t, "repository:homebrew/core/wget:pull", b.Scope)
}

func TestParseWWWAuthenticateRejectsNonBearer(t *testing.T) {
	_, ok := parseWWWAuthenticate(`Basic realm="x"`)
	assert.False(t, ok)
}
