// Package engine provides the Engine handle: a single process-scoped
// object that groups the memory pools, operator registry, and
// configuration the other core packages need, the way the teacher's
// pkg/nornicdb.DB groups storage/decay/search/cypher behind one handle
// instead of package-level singletons (design note §9).
package engine

import (
	"sync"
	"time"

	"github.com/orneryd/libetude/pkg/engconfig"
	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/operator"
	"github.com/orneryd/libetude/pkg/pool"
)

// Engine groups the pools and registry a graph execution needs. It is
// constructed once per process (or once per isolated test) and never
// exposed as a package-level singleton.
type Engine struct {
	config engconfig.Config

	mu     sync.RWMutex
	closed bool

	pools *pool.Manager

	registry *operator.Registry
}

// New creates an Engine from cfg: a single pool.Manager partitioning
// analysis/synthesis/cache pools per cfg.MaxPoolSizes and cfg.SIMDAlignment,
// and an operator registry pre-loaded with the basic and audio bundles
// (spec.md §4.3).
func New(cfg engconfig.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pools, err := pool.NewManager(pool.ManagerOptions{
		AnalysisSize:     int(cfg.MaxPoolSizes.Analysis),
		SynthesisSize:    int(cfg.MaxPoolSizes.Synthesis),
		CacheSize:        int(cfg.MaxPoolSizes.Cache),
		Alignment:        cfg.SIMDAlignment,
		WarnUsageRatio:   0.9,
		IdleCleanupAfter: 5 * time.Minute,
	})
	if err != nil {
		return nil, errs.New("engine.New", errs.OutOfMemory, err)
	}

	registry := operator.NewRegistry(16)
	if err := registry.RegisterBasicBundle(); err != nil {
		return nil, err
	}
	if err := registry.RegisterAudioBundle(); err != nil {
		return nil, err
	}

	return &Engine{
		config:   cfg,
		pools:    pools,
		registry: registry,
	}, nil
}

// Config returns the configuration the engine was constructed with.
func (e *Engine) Config() engconfig.Config { return e.config }

// Pools returns the manager owning the engine's analysis/synthesis/cache
// pools, per spec.md §4.1's WORLD multi-pool pattern.
func (e *Engine) Pools() *pool.Manager { return e.pools }

// AnalysisPool returns the pool sized for feature-extraction/analysis
// graphs (cfg.MaxPoolSizes.Analysis).
func (e *Engine) AnalysisPool() *pool.Pool { return e.pools.Pool(pool.Analysis) }

// SynthesisPool returns the pool sized for synthesis graphs
// (cfg.MaxPoolSizes.Synthesis).
func (e *Engine) SynthesisPool() *pool.Pool { return e.pools.Pool(pool.Synthesis) }

// CachePool returns the pool backing layer/tensor caches
// (cfg.MaxPoolSizes.Cache).
func (e *Engine) CachePool() *pool.Pool { return e.pools.Pool(pool.Cache) }

// Registry returns the operator registry shared by every graph this
// engine executes.
func (e *Engine) Registry() *operator.Registry { return e.registry }

// Compact compacts every pool in place, per design note §9: never
// destroy-and-recreate a pool with live allocations, only compact.
func (e *Engine) Compact() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools.Compact()
}

// Retune hands off to the pool manager's size auto-tuner (spec.md §4.1),
// rebuilding each idle pool to 120% of its peak usage.
func (e *Engine) Retune() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools.Retune()
}

// Close marks the engine closed and stops the pool manager's idle-cleanup
// goroutine. Pools are plain Go-managed arenas with no other external
// handle to release; Close exists so callers have a single symmetric
// lifecycle call and so a closed engine can reject reuse.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.pools.Close()
	return nil
}

// Closed reports whether Close has already been called.
func (e *Engine) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
