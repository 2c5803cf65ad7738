package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute("The quick fox jumps over the lazy dog")
	b := Compute("The quick fox jumps over the lazy dog")
	require.Equal(t, a, b)
}

func TestComputeNearDuplicateParaphrase(t *testing.T) {
	a := Compute("I bought a large coffee this morning")
	b := Compute("I purchase a big coffee this morning")
	require.True(t, Near(a, b, 8), "expected near match, got distance %d", HammingDistance(a, b))
}

func TestComputeDistinctContentFarApart(t *testing.T) {
	a := Compute("The stock market fell sharply today amid recession fears")
	b := Compute("My cat enjoys sleeping on the warm windowsill")
	require.False(t, Near(a, b, 4), "expected distinct fingerprints to differ, got distance %d", HammingDistance(a, b))
}

func TestComputeEmptyContent(t *testing.T) {
	require.Equal(t, Fingerprint(0), Compute(""))
	require.Equal(t, Fingerprint(0), Compute("the a an"))
}

func TestStringRoundTrip(t *testing.T) {
	fp := Compute("round trip this fingerprint")
	s := fp.String()
	require.Len(t, s, 64)

	back, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, fp, back)
}

func TestHammingDistanceSymmetric(t *testing.T) {
	a := Compute("alpha beta gamma")
	b := Compute("completely different words entirely")
	require.Equal(t, HammingDistance(a, b), HammingDistance(b, a))
}

func TestHammingDistanceZeroForEqual(t *testing.T) {
	a := Compute("same content here")
	require.Equal(t, 0, HammingDistance(a, a))
}
