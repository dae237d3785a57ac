package pool

import (
	"log"
	"sync"
	"time"

	"github.com/orneryd/libetude/pkg/errs"
)

// Class selects which of the manager's pools an allocation is drawn from,
// per spec.md §4.1's "WORLD example pattern".
type Class int

const (
	Analysis Class = iota
	Synthesis
	Cache
)

func (c Class) String() string {
	switch c {
	case Analysis:
		return "analysis"
	case Synthesis:
		return "synthesis"
	case Cache:
		return "cache"
	default:
		return "unknown"
	}
}

// ManagerOptions configures a Manager's three pools and its housekeeping
// policies.
type ManagerOptions struct {
	AnalysisSize  int
	SynthesisSize int
	CacheSize     int
	Alignment     int
	ThreadSafe    bool
	Logger        *log.Logger

	// WarnUsageRatio triggers a log line when a pool's used/total ratio
	// crosses it. Zero disables the warning.
	WarnUsageRatio float64
	// IdleCleanupAfter resets the cache pool once this long has elapsed
	// since its last allocation. Zero disables idle cleanup.
	IdleCleanupAfter time.Duration
	// MinPoolSize floors the size a Retune pass will ever shrink a pool to.
	MinPoolSize int
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Alignment == 0 {
		o.Alignment = DefaultAlignment
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.MinPoolSize == 0 {
		o.MinPoolSize = 64 * 1024
	}
	return o
}

// Manager owns the analysis/synthesis/cache pools an engine run partitions
// allocations across, per spec.md §4.1.
type Manager struct {
	opts ManagerOptions

	mu         sync.Mutex
	pools      map[Class]*Pool
	lastAlloc  map[Class]time.Time
	stopIdle   chan struct{}
	idleTicker *time.Ticker
}

// NewManager creates the three partitioned pools per opts.
func NewManager(opts ManagerOptions) (*Manager, error) {
	opts = opts.withDefaults()
	m := &Manager{
		opts:      opts,
		pools:     make(map[Class]*Pool),
		lastAlloc: make(map[Class]time.Time),
	}

	sizes := map[Class]int{Analysis: opts.AnalysisSize, Synthesis: opts.SynthesisSize, Cache: opts.CacheSize}
	for class, size := range sizes {
		if size <= 0 {
			return nil, errs.New("pool.NewManager", errs.InvalidParameter, nil)
		}
		p, err := CreateWithOptions(size, Options{
			Alignment:  opts.Alignment,
			ThreadSafe: opts.ThreadSafe,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		m.pools[class] = p
		m.lastAlloc[class] = time.Now()
	}

	if opts.IdleCleanupAfter > 0 {
		m.startIdleCleanup()
	}
	return m, nil
}

// Pool returns the underlying pool for class.
func (m *Manager) Pool(class Class) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[class]
}

// Alloc draws size bytes from the named pool, recording the access for idle
// tracking and warning when usage crosses WarnUsageRatio.
func (m *Manager) Alloc(class Class, size int) uintptr {
	m.mu.Lock()
	p, ok := m.pools[class]
	if ok {
		m.lastAlloc[class] = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return 0
	}

	ptr := p.Alloc(size)
	if ptr != 0 && m.opts.WarnUsageRatio > 0 {
		stats := p.Stats()
		if stats.Total > 0 && float64(stats.Used)/float64(stats.Total) >= m.opts.WarnUsageRatio {
			m.opts.Logger.Printf("pool: %s pool at %.0f%% usage", class, 100*float64(stats.Used)/float64(stats.Total))
		}
	}
	return ptr
}

// Free releases ptr back to class's pool.
func (m *Manager) Free(class Class, ptr uintptr) error {
	p := m.Pool(class)
	if p == nil {
		return errs.New("pool.Manager.Free", errs.InvalidParameter, nil)
	}
	return p.Free(ptr)
}

// Compact runs Compact on every managed pool.
func (m *Manager) Compact() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.Compact()
	}
}

// Stats returns a snapshot of every managed pool's statistics, keyed by
// class.
func (m *Manager) Stats() map[Class]Stats {
	m.mu.Lock()
	pools := make(map[Class]*Pool, len(m.pools))
	for c, p := range m.pools {
		pools[c] = p
	}
	m.mu.Unlock()

	out := make(map[Class]Stats, len(pools))
	for c, p := range pools {
		out[c] = p.Stats()
	}
	return out
}

func (m *Manager) startIdleCleanup() {
	m.idleTicker = time.NewTicker(m.opts.IdleCleanupAfter / 4)
	m.stopIdle = make(chan struct{})
	go func() {
		for {
			select {
			case <-m.idleTicker.C:
				m.sweepIdleCache()
			case <-m.stopIdle:
				return
			}
		}
	}()
}

// sweepIdleCache resets the cache pool if nothing has been allocated from it
// for IdleCleanupAfter, per spec.md §4.1's "idle-driven auto-cleanup".
func (m *Manager) sweepIdleCache() {
	m.mu.Lock()
	last, ok := m.lastAlloc[Cache]
	cache := m.pools[Cache]
	m.mu.Unlock()
	if !ok || cache == nil {
		return
	}
	if time.Since(last) >= m.opts.IdleCleanupAfter {
		cache.Reset()
		m.mu.Lock()
		if m.lastAlloc[Cache].Equal(last) {
			delete(m.lastAlloc, Cache) // re-armed by the next Alloc from the cache
		}
		m.mu.Unlock()
		m.opts.Logger.Printf("pool: cache idle for %s, reset", m.opts.IdleCleanupAfter)
	}
}

// Retune rebuilds each pool to 120% of its peak usage, subject to
// MinPoolSize, per spec.md §4.1's size auto-tuner. A pool with outstanding
// allocations is left untouched — only compacted — since rebuilding would
// invalidate live pointers (spec.md §9's unsafe-resize open question).
func (m *Manager) Retune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for class, p := range m.pools {
		stats := p.Stats()
		if stats.ActiveBlocks > 0 {
			p.Compact()
			continue
		}

		target := int(float64(stats.Peak) * 1.2)
		if target < m.opts.MinPoolSize {
			target = m.opts.MinPoolSize
		}
		if target == stats.Total {
			continue
		}

		fresh, err := CreateWithOptions(target, Options{
			Alignment:  m.opts.Alignment,
			ThreadSafe: m.opts.ThreadSafe,
			Logger:     m.opts.Logger,
		})
		if err != nil {
			continue
		}
		m.pools[class] = fresh
		m.opts.Logger.Printf("pool: retuned %s pool %d -> %d bytes", class, stats.Total, target)
	}
}

// Close stops the idle-cleanup goroutine, if running.
func (m *Manager) Close() {
	if m.stopIdle != nil {
		close(m.stopIdle)
		m.idleTicker.Stop()
	}
}
