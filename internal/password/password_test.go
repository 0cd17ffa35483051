package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	digest, err := h.Hash("Secret1!")
	require.NoError(t, err)
	require.NotEqual(t, "Secret1!", digest)
	require.True(t, strings.HasPrefix(digest, "$2"))

	require.True(t, h.Verify("Secret1!", digest))
	require.False(t, h.Verify("secret1!", digest))
	require.False(t, h.Verify("", digest))
}

func TestHashIsSalted(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.True(t, h.Verify("same-password", a))
	require.True(t, h.Verify("same-password", b))
}

func TestVerify_EmptyOrMalformedDigest(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	require.False(t, h.Verify("anything", ""))
	require.False(t, h.Verify("anything", "not-a-bcrypt-digest"))
}

func TestHash_TooLongFails(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	_, err := h.Hash(strings.Repeat("x", 100))
	require.Error(t, err)
}

func TestNewHasher_InvalidCostFallsBack(t *testing.T) {
	require.Equal(t, DefaultCost, NewHasher(0).cost)
	require.Equal(t, DefaultCost, NewHasher(99).cost)
	require.Equal(t, 12, NewHasher(12).cost)
}
