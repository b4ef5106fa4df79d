package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := HashCredential("pw1")
	require.NoError(t, err)
	require.NotContains(t, hash, "pw1")

	require.NoError(t, CompareCredential(hash, "pw1"))
	require.Error(t, CompareCredential(hash, "pw2"))
}

func TestHashIsSalted(t *testing.T) {
	first, err := HashCredential("same-secret")
	require.NoError(t, err)
	second, err := HashCredential("same-secret")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.True(t, strings.HasPrefix(first, "$2"))
}
