package app

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"

	"lmmpower/domain/power"
	"lmmpower/internal/metrics"
)

// DefaultCacheSize bounds the number of cached analyses
const DefaultCacheSize = 64

// AnalysisCache is a bounded LRU of completed analyses keyed by a structural
// hash of the request
type AnalysisCache struct {
	entries *lru.Cache[uint64, *PowerResult]
}

// NewAnalysisCache creates a cache holding at most size results
func NewAnalysisCache(size int) (*AnalysisCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[uint64, *PowerResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis cache: %w", err)
	}
	return &AnalysisCache{entries: entries}, nil
}

// Key hashes every result-determining field of the request
func (c *AnalysisCache) Key(req PowerRequest) (uint64, error) {
	key, err := hashstructure.Hash(req, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to hash request: %w", err)
	}
	return key, nil
}

// Get returns a copy of the cached result flagged as cached. The copy shares
// no slices with the cached entry.
func (c *AnalysisCache) Get(key uint64) (*PowerResult, bool) {
	res, ok := c.entries.Get(key)
	metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	hit := res.clone()
	hit.Cached = true
	return hit, true
}

func (r *PowerResult) clone() *PowerResult {
	out := *r
	out.Coefficients = append([]string(nil), r.Coefficients...)
	if r.Table != nil {
		table := *r.Table
		table.Rows = append([]power.Row(nil), r.Table.Rows...)
		out.Table = &table
	}
	if r.Outcomes != nil {
		out.Outcomes = make([]power.ReplicateOutcome, len(r.Outcomes))
		for i, o := range r.Outcomes {
			o.Estimates = append([]float64(nil), o.Estimates...)
			o.StdErrors = append([]float64(nil), o.StdErrors...)
			out.Outcomes[i] = o
		}
	}
	return &out
}

// Add stores a copy of a result
func (c *AnalysisCache) Add(key uint64, res *PowerResult) {
	c.entries.Add(key, res.clone())
}

// Len returns the number of cached results
func (c *AnalysisCache) Len() int {
	return c.entries.Len()
}

// Purge empties the cache
func (c *AnalysisCache) Purge() {
	c.entries.Purge()
}
