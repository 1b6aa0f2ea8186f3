package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.Len(t, token, 43)

	// Each call generates a unique token
	token2, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotContains(t, token, "=")
}

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(24)
	require.NoError(t, err)
	assert.Len(t, b, 24)
}
