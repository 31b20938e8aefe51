package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	k, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k.Raw, APIKeyPrefix))
	assert.Len(t, k.Raw, len(APIKeyPrefix)+2*apiKeyRandomBytes)
	assert.Equal(t, k.Raw[:APIKeyLookupLen], k.Prefix)
	assert.True(t, IsAPIKey(k.Raw))
	assert.True(t, MatchAPIKey(k.Hash, k.Raw))
	assert.False(t, MatchAPIKey(k.Hash, k.Raw+"x"))

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, k.Raw, other.Raw)
}

func TestIsAPIKey(t *testing.T) {
	assert.False(t, IsAPIKey("eyJhbGciOiJIUzI1NiJ9.x.y"))
	assert.False(t, IsAPIKey("mfo_short"))
	assert.True(t, IsAPIKey("mfo_0123456789abcdef"))
}
