package sector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyProceduralPrecedence(t *testing.T) {
	c := New()
	got := c.Classify("Here is how to configure the install step by step")
	require.Equal(t, Procedural, got.PrimarySector)
	require.Contains(t, sectorsOf(got), Procedural)
}

func TestClassifyTieBreakPrecedence(t *testing.T) {
	c := New()
	// "step" (procedural, 0.8) and "excited" (emotional, 0.8) tie, so
	// the fixed precedence decides: procedural > episodic > emotional >
	// reflective > semantic > slow.
	got := c.Classify("excited to take the next step")
	require.Equal(t, Procedural, got.PrimarySector)
}

func TestClassifyFallsBackToSemantic(t *testing.T) {
	c := New()
	got := c.Classify("xyzzy plugh zork")
	require.Equal(t, Semantic, got.PrimarySector)
	require.Len(t, got.Sectors, 1)
}

func TestClassifyPrimaryAlwaysInSectors(t *testing.T) {
	c := New()
	for _, content := range []string{
		"I realized yesterday that I was happy about the meeting",
		"The definition of a fact is known as truth",
		"install and configure the service",
		"",
	} {
		got := c.Classify(content)
		require.True(t, containsSector(got.Sectors, got.PrimarySector), "primary %s missing from %v for %q", got.PrimarySector, got.Sectors, content)
	}
}

func sectorsOf(c Classification) []Sector {
	out := make([]Sector, len(c.Sectors))
	for i, w := range c.Sectors {
		out[i] = w.Sector
	}
	return out
}

func containsSector(ws []Weighted, s Sector) bool {
	for _, w := range ws {
		if w.Sector == s {
			return true
		}
	}
	return false
}
