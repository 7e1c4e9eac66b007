// Package cache memoizes full pipeline snapshots at the presentation
// boundary. The engines never consult it; menu and HTTP handlers go through
// it so repeated views of the same input and filter skip the reload and
// recompute. Output is identical with or without it.
package cache

import (
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru"

	"github.com/sitewatch/sitewatch/internal/app"
	"github.com/sitewatch/sitewatch/internal/metrics"
)

// DefaultSize is the snapshot capacity used when the config leaves it unset.
const DefaultSize = 32

// key identifies one snapshot: the input file identity (path plus mtime and
// size, so edits invalidate naturally), the canonical filter string, and a
// fingerprint of the rule thresholds.
type key struct {
	path   string
	mtime  int64
	size   int64
	filter string
	rules  string
}

// Results is an LRU of analysis snapshots. Safe for concurrent use.
type Results struct {
	lru     *lru.Cache
	metrics *metrics.Registry
}

// New creates a Results cache holding up to size snapshots.
func New(size int, reg *metrics.Registry) (*Results, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if reg == nil {
		reg = metrics.Default()
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create results cache: %w", err)
	}
	return &Results{lru: c, metrics: reg}, nil
}

// Get returns the memoized analysis for opts, running the pipeline on a
// miss. Failed runs are never cached. Callers share the returned snapshot
// and must treat it as read-only.
func (r *Results) Get(opts app.Options) (*app.Analysis, error) {
	if opts.Metrics == nil {
		opts.Metrics = r.metrics
	}

	k, err := r.keyFor(opts)
	if err != nil {
		// Unstatable input; let Run surface the real load error.
		return app.Run(opts)
	}

	if v, ok := r.lru.Get(k); ok {
		r.metrics.RecordCacheHit()
		return v.(*app.Analysis), nil
	}
	r.metrics.RecordCacheMiss()

	analysis, err := app.Run(opts)
	if err != nil {
		return nil, err
	}
	r.lru.Add(k, analysis)
	return analysis, nil
}

// Purge drops every cached snapshot.
func (r *Results) Purge() {
	r.lru.Purge()
}

// Len reports the number of cached snapshots.
func (r *Results) Len() int {
	return r.lru.Len()
}

func (r *Results) keyFor(opts app.Options) (key, error) {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		return key{}, err
	}
	return key{
		path:   opts.InputPath,
		mtime:  info.ModTime().UnixNano(),
		size:   info.Size(),
		filter: opts.Filter.Key(),
		rules:  fmt.Sprintf("%+v", opts.Rules),
	}, nil
}
