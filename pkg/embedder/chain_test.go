package embedder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/openmemory/core/pkg/embedder"
	"github.com/openmemory/core/pkg/embedder/synthetic"
	"github.com/stretchr/testify/require"
)

type failingProvider struct {
	dims int
}

func (f *failingProvider) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("simulated outage")
}

func (f *failingProvider) EmbedBatch(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("simulated outage")
}

func (f *failingProvider) Dimensions() int { return f.dims }
func (f *failingProvider) Close() error    { return nil }

func TestChainFallsBackOnError(t *testing.T) {
	primary := &failingProvider{dims: 64}
	fallback := synthetic.New(64)

	chain, err := embedder.NewChain(primary, fallback)
	require.NoError(t, err)

	v, err := chain.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, v, 64)
}

func TestChainRejectsDimensionMismatch(t *testing.T) {
	a := synthetic.New(64)
	b := synthetic.New(128)

	_, err := embedder.NewChain(a, b)
	require.Error(t, err)
}

func TestChainRequiresAtLeastOneProvider(t *testing.T) {
	_, err := embedder.NewChain()
	require.Error(t, err)
}
