package embedder

import (
	"context"
	"errors"
)

// Chain tries a sequence of providers in order, falling through to the
// next on error. It is used to put a network-backed provider (OpenAI,
// Ollama) ahead of the synthetic provider so embedding never blocks
// memory ingestion on an external outage.
type Chain struct {
	providers []Provider
}

// NewChain builds a Chain from providers in priority order. The chain
// reports the first provider's Dimensions, since every provider in the
// chain must agree on dimensionality for the HSG engine's per-sector
// vector spaces to stay consistent.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("embedder: chain requires at least one provider")
	}
	dim := providers[0].Dimensions()
	for _, p := range providers[1:] {
		if p.Dimensions() != dim {
			return nil, errors.New("embedder: chain providers must share a dimensionality")
		}
	}
	return &Chain{providers: providers}, nil
}

// Embed tries each provider in order, returning the first success.
func (c *Chain) Embed(ctx context.Context, text string) ([]float64, error) {
	var lastErr error
	for _, p := range c.providers {
		v, err := p.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// EmbedBatch tries each provider in order for the whole batch; it does
// not mix providers within a single batch, since that could introduce
// systematic distance bias between vectors in the batch.
func (c *Chain) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var lastErr error
	for _, p := range c.providers {
		v, err := p.EmbedBatch(ctx, texts)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Dimensions returns the shared dimensionality of every provider in the
// chain.
func (c *Chain) Dimensions() int {
	return c.providers[0].Dimensions()
}

// Close closes every provider in the chain, returning the first error
// encountered but still attempting to close the rest.
func (c *Chain) Close() error {
	var firstErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
