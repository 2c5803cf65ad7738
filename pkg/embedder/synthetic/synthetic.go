// Package synthetic provides a deterministic, network-free embedder.Provider
// used as the default embedder for tests and for local development
// without API credentials. It derives a unit vector from repeated FNV
// hashing of the input text, so identical text always yields identical
// vectors; any change to the text yields an unrelated vector.
package synthetic

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
)

// Client is a deterministic embedder.Provider with no external
// dependencies.
type Client struct {
	dimensions int
}

// New returns a synthetic Client producing vectors of the given
// dimensionality.
func New(dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &Client{dimensions: dimensions}
}

// Embed derives a deterministic unit vector from text.
func (c *Client) Embed(_ context.Context, text string) ([]float64, error) {
	return vectorize(text, c.dimensions), nil
}

// EmbedBatch embeds each text independently; there is no network round
// trip to batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the synthetic provider holds no resources.
func (c *Client) Close() error {
	return nil
}

// vectorize hashes text once per output dimension (salted by index) and
// maps each 64-bit hash onto [-1, 1], then L2-normalizes the result so
// cosine similarity behaves the way it would for a real embedding
// model.
func vectorize(text string, dim int) []float64 {
	v := make([]float64, dim)
	var sumSquares float64
	for i := 0; i < dim; i++ {
		h := fnv.New64a()
		h.Write([]byte(text))
		h.Write([]byte{'|'})
		h.Write([]byte(strconv.Itoa(i)))
		sum := h.Sum64()
		// Map the top 53 bits onto [-1, 1] to stay within float64's
		// exact-integer range.
		signed := float64(sum>>11) / float64(1<<53)
		val := signed*2 - 1
		v[i] = val
		sumSquares += val * val
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
