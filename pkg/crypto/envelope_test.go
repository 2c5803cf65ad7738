package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	env, err := New("primary-root-secret", "")
	require.NoError(t, err)

	sealed, err := env.Seal("tenant-a", []byte("hello openmemory"))
	require.NoError(t, err)
	require.True(t, len(sealed) > len(version1Prefix))

	plaintext, err := env.Open("tenant-a", sealed)
	require.NoError(t, err)
	require.Equal(t, "hello openmemory", string(plaintext))
}

func TestOpenFailsForWrongTenant(t *testing.T) {
	env, err := New("primary-root-secret", "")
	require.NoError(t, err)

	sealed, err := env.Seal("tenant-a", []byte("secret"))
	require.NoError(t, err)

	_, err = env.Open("tenant-b", sealed)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsMalformedEnvelope(t *testing.T) {
	env, err := New("primary-root-secret", "")
	require.NoError(t, err)

	_, err = env.Open("tenant-a", "not-an-envelope")
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestSecondaryKeyStillOpensAfterRotation(t *testing.T) {
	oldEnv, err := New("old-root", "")
	require.NoError(t, err)
	sealed, err := oldEnv.Seal("tenant-a", []byte("pre-rotation content"))
	require.NoError(t, err)

	rotated, err := New("new-root", "old-root")
	require.NoError(t, err)

	plaintext, err := rotated.Open("tenant-a", sealed)
	require.NoError(t, err)
	require.Equal(t, "pre-rotation content", string(plaintext))

	newSealed, err := rotated.Seal("tenant-a", []byte("post-rotation content"))
	require.NoError(t, err)
	require.NotEqual(t, sealed, newSealed)

	plaintext2, err := rotated.Open("tenant-a", newSealed)
	require.NoError(t, err)
	require.Equal(t, "post-rotation content", string(plaintext2))
}

func TestSealIsNonDeterministic(t *testing.T) {
	env, err := New("primary-root-secret", "")
	require.NoError(t, err)

	a, err := env.Seal("tenant-a", []byte("same content"))
	require.NoError(t, err)
	b, err := env.Seal("tenant-a", []byte("same content"))
	require.NoError(t, err)
	require.NotEqual(t, a, b, "fresh nonce per Seal call should prevent identical ciphertexts")
}
