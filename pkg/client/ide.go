package client

import (
	"context"
	"time"

	"github.com/openmemory/core/pkg/hsg"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/temporal"
)

// Ide groups the IDE-facing projection operations. It is not a
// separate profile store: it is a thin combination of Search (scoped
// to the procedural/reflective sectors, where coding habits and
// standing preferences classify) and a temporal lookup of the
// "user:<id>" subject, grounded on the teacher's pkg/user_memory
// profile-enrichment pattern without that package's LLM-assisted
// extraction step.
type Ide struct {
	c *Client
}

// Ide returns the IDE-facing projection over this Client.
func (c *Client) Ide() Ide {
	return Ide{c: c}
}

// ContextResult is the combined projection GetContext returns: the
// memories most relevant to the current query, plus the user's
// standing facts as of now.
type ContextResult struct {
	Memories []hsg.Result
	Facts    []temporal.Fact
}

// GetContext retrieves the memories most relevant to query from the
// procedural and reflective sectors (the sectors that carry durable
// working habits and standing preferences) plus every fact currently
// active for subject "user:<userID>".
func (i Ide) GetContext(ctx context.Context, query string, userID string, limit int) (*ContextResult, error) {
	results, err := i.c.Search(ctx, query, &userID, hsg.SearchOptions{
		Sectors: []sector.Sector{sector.Procedural, sector.Reflective},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	facts, err := i.c.temporal.QueryFactsAtTime(ctx, "user:"+userID, "", now, &userID)
	if err != nil {
		return nil, err
	}

	return &ContextResult{Memories: results, Facts: facts}, nil
}

// GetPatterns returns the fact transitions recorded for subject
// "user:<userID>" / predicate over the trailing windowDays, summarizing
// how often and how regularly that preference has changed — the
// "recurring behavior" signal an IDE integration uses to decide
// whether a suggestion reflects a stable habit or a one-off.
func (i Ide) GetPatterns(ctx context.Context, userID, predicate string, windowDays int) (*temporal.ChangeFrequency, error) {
	return i.c.temporal.ChangeFrequencyFor(ctx, "user:"+userID, predicate, windowDays, &userID)
}
