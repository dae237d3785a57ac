// Package pool implements the engine's memory pool: a pre-allocated byte
// arena that sub-allocates aligned blocks, per spec.md §4.1.
//
// Two allocation strategies share one Pool type:
//   - Dynamic: a first-fit free-list allocator with splitting and
//     coalescing, for variable-size tensor and layer-buffer allocations.
//   - Fixed: a bitmap-indexed array of equal-size slots, for high-churn,
//     equal-size scratch buffers. The multi-pool Manager creates Dynamic
//     pools.
//
// Pools never abort on exhaustion: Alloc returns 0, the same way the
// teacher's storage layer returns (nil, error) rather than panicking
// (pkg/storage/types.go). Validation reports results rather than failing:
// Validate returns a bool and CheckLeaks a count; policy is the caller's,
// per spec.md §7.
package pool

import (
	"log"
	"math/bits"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/orneryd/libetude/pkg/errs"
)

// Type selects the allocation strategy for a Pool.
type Type int

const (
	// Dynamic is a first-fit, splitting/coalescing free-list allocator.
	Dynamic Type = iota
	// Fixed is a bitmap-indexed array of equal-size slots.
	Fixed
)

const (
	// DefaultAlignment matches spec.md §3's default SIMD alignment.
	DefaultAlignment = 32
	canaryMagic      = uint32(0x4C45504C) // 'LEPL' - "LibEtude Pool"
)

// Options configures Pool creation, per spec.md §4.1's create_with_options.
type Options struct {
	Type          Type
	Alignment     int // power of two; default DefaultAlignment
	MinBlockSize  int // dynamic pool: minimum split remainder
	BlockSize     int // fixed pool: size of each slot
	ThreadSafe    bool
	LeakDetection bool
	// LeakThresholdMs is how long an allocation must be outstanding before
	// Stats().LeakedBytes and CheckLeaks count it as leaked. Zero falls
	// back to defaultLeakThresholdMs; it never means "leaked the instant
	// it's allocated".
	LeakThresholdMs int
	Logger          *log.Logger
}

// defaultLeakThresholdMs is the outstanding-allocation age, in
// milliseconds, past which Stats() reports an allocation as leaked.
const defaultLeakThresholdMs = 5000

func (o Options) withDefaults() Options {
	if o.Alignment == 0 {
		o.Alignment = DefaultAlignment
	}
	if o.MinBlockSize == 0 {
		o.MinBlockSize = 32
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.LeakThresholdMs == 0 {
		o.LeakThresholdMs = defaultLeakThresholdMs
	}
	return o
}

// segment is one block of the dynamic arena, held in arena order.
type segment struct {
	offset      int
	size        int
	free        bool
	magic       uint32
	allocatedAt time.Time
	source      string
}

// blockHeaderSize is the fixed bookkeeping cost charged against a split's
// remainder, so a sliver too small to be useful is never left behind.
const blockHeaderSize = 32

// Stats reports a point-in-time snapshot of pool usage, per spec.md §4.1.
type Stats struct {
	Total              int
	Used               int
	Peak               int
	Free               int
	Allocations        int
	Frees              int
	Resets             int
	FragmentationRatio float64
	LargestFreeBlock   int
	LeakedBytes        int
	ActiveBlocks       int
}

// Pool is a pre-allocated byte arena with aligned sub-allocation.
type Pool struct {
	opts  Options
	mu    sync.Mutex // only locked when opts.ThreadSafe
	arena []byte

	segments []*segment // dynamic allocator, kept sorted by offset

	bitmap    []uint64 // fixed allocator
	slotSize  int
	slotCount int

	used        int
	peak        int
	allocations int
	frees       int
	resets      int

	leakDetection bool
	active        map[uintptr]*segment // ptr -> owning segment
}

// Create allocates a new pool of the given size with default alignment.
func Create(size int) (*Pool, error) {
	return CreateWithOptions(size, Options{})
}

// CreateWithOptions allocates a new pool per spec.md's create_with_options.
func CreateWithOptions(size int, opts Options) (*Pool, error) {
	if size <= 0 {
		return nil, errs.New("pool.Create", errs.InvalidParameter, nil)
	}
	opts = opts.withDefaults()
	if opts.Alignment <= 0 || opts.Alignment&(opts.Alignment-1) != 0 {
		return nil, errs.New("pool.Create", errs.InvalidParameter, nil)
	}

	p := &Pool{
		opts:          opts,
		arena:         make([]byte, size),
		active:        make(map[uintptr]*segment),
		leakDetection: opts.LeakDetection,
	}

	switch opts.Type {
	case Fixed:
		if opts.BlockSize <= 0 {
			return nil, errs.New("pool.Create", errs.InvalidParameter, nil)
		}
		p.slotSize = align(opts.BlockSize, opts.Alignment)
		p.slotCount = size / p.slotSize
		if p.slotCount == 0 {
			return nil, errs.New("pool.Create", errs.OutOfMemory, nil)
		}
		p.bitmap = make([]uint64, (p.slotCount+63)/64)
	default:
		p.segments = []*segment{{offset: 0, size: size, free: true, magic: canaryMagic}}
	}

	return p, nil
}

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

func (p *Pool) lock() {
	if p.opts.ThreadSafe {
		p.mu.Lock()
	}
}

func (p *Pool) unlock() {
	if p.opts.ThreadSafe {
		p.mu.Unlock()
	}
}

// Alloc returns a pointer to a block of at least size bytes, or 0 on
// exhaustion, per spec.md §4.1.
func (p *Pool) Alloc(size int) uintptr {
	return p.AllocAligned(size, p.opts.Alignment)
}

// AllocAligned returns a pointer aligned to alignment (must be a power of
// two), or 0 on failure.
func (p *Pool) AllocAligned(size int, alignment int) uintptr {
	if size <= 0 || alignment <= 0 || alignment&(alignment-1) != 0 {
		return 0
	}
	p.lock()
	defer p.unlock()

	if p.opts.Type == Fixed {
		return p.allocFixedLocked(size)
	}
	return p.allocDynamicLocked(size, alignment)
}

// allocDynamicLocked implements spec.md §4.1's first-fit allocation with
// splitting: "split a chosen block if remaining_size >= min_block_size +
// header_size, leaving the tail on the free-list."
func (p *Pool) allocDynamicLocked(size, alignment int) uintptr {
	needed := align(size, alignment)

	for i, s := range p.segments {
		if !s.free || s.size < needed {
			continue
		}
		remaining := s.size - needed
		if remaining >= p.opts.MinBlockSize+blockHeaderSize {
			tail := &segment{offset: s.offset + needed, size: remaining, free: true, magic: canaryMagic}
			s.size = needed
			p.segments = append(p.segments, nil)
			copy(p.segments[i+2:], p.segments[i+1:])
			p.segments[i+1] = tail
		}

		s.free = false
		s.allocatedAt = time.Now()
		ptr := uintptr(s.offset) + 1 // +1 so 0 remains a reserved "nil" ptr
		p.active[ptr] = s
		p.used += s.size
		if p.used > p.peak {
			p.peak = p.used
		}
		p.allocations++
		return ptr
	}

	if p.opts.Logger != nil {
		p.opts.Logger.Printf("pool: exhausted (%s requested, %s used of %s total)",
			humanize.Bytes(uint64(needed)), humanize.Bytes(uint64(p.used)), humanize.Bytes(uint64(len(p.arena))))
	}
	return 0
}

func (p *Pool) allocFixedLocked(size int) uintptr {
	if size > p.slotSize {
		return 0
	}
	for word := range p.bitmap {
		if p.bitmap[word] == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^p.bitmap[word])
		slot := word*64 + bit
		if slot >= p.slotCount {
			return 0
		}
		p.bitmap[word] |= 1 << uint(bit)
		offset := slot * p.slotSize
		s := &segment{offset: offset, size: p.slotSize, free: false, magic: canaryMagic, allocatedAt: time.Now()}
		ptr := uintptr(offset) + 1
		p.active[ptr] = s
		p.used += p.slotSize
		if p.used > p.peak {
			p.peak = p.used
		}
		p.allocations++
		return ptr
	}
	return 0
}

// Free releases ptr back to the pool, coalescing with free neighbors.
func (p *Pool) Free(ptr uintptr) error {
	if ptr == 0 {
		return errs.New("pool.Free", errs.InvalidParameter, nil)
	}
	p.lock()
	defer p.unlock()

	s, ok := p.active[ptr]
	if !ok || s.magic != canaryMagic {
		return errs.New("pool.Free", errs.InvalidParameter, nil)
	}

	if p.opts.Type == Fixed {
		slot := s.offset / p.slotSize
		p.bitmap[slot/64] &^= 1 << uint(slot%64)
	}

	s.free = true
	p.used -= s.size
	delete(p.active, ptr)
	p.frees++

	if p.opts.Type == Dynamic {
		p.coalesceAt(s.offset)
	}
	return nil
}

// coalesceAt fuses the segment at offset with its immediate prev/next
// neighbors in arena order if they are free, per spec.md §4.1: "Coalescing
// runs on every free, fusing with the immediate prev and/or next blocks if
// they are on the free-list."
func (p *Pool) coalesceAt(offset int) {
	idx := -1
	for i, s := range p.segments {
		if s.offset == offset {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	if idx+1 < len(p.segments) && p.segments[idx+1].free {
		p.segments[idx].size += p.segments[idx+1].size
		p.segments = append(p.segments[:idx+1], p.segments[idx+2:]...)
	}
	if idx > 0 && p.segments[idx-1].free {
		p.segments[idx-1].size += p.segments[idx].size
		p.segments = append(p.segments[:idx], p.segments[idx+1:]...)
	}
}

// Reset returns all blocks to a single free block. Used drops to zero; Peak
// is retained, per spec.md §3's pool invariants. Outstanding pointers become
// invalid: this is a programming contract, not something Reset can enforce.
func (p *Pool) Reset() {
	p.lock()
	defer p.unlock()

	p.used = 0
	p.resets++
	p.active = make(map[uintptr]*segment)

	if p.opts.Type == Fixed {
		for i := range p.bitmap {
			p.bitmap[i] = 0
		}
		return
	}
	p.segments = []*segment{{offset: 0, size: len(p.arena), free: true, magic: canaryMagic}}
}

// Stats returns the current pool statistics, per spec.md §4.1.
func (p *Pool) Stats() Stats {
	p.lock()
	defer p.unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{
		Total:       len(p.arena),
		Used:        p.used,
		Peak:        p.peak,
		Free:        len(p.arena) - p.used,
		Allocations: p.allocations,
		Frees:       p.frees,
		Resets:      p.resets,
	}
	if s.Total > 0 {
		s.FragmentationRatio = 1 - float64(s.Used)/float64(s.Total)
	}
	if p.opts.Type == Dynamic {
		for _, seg := range p.segments {
			if seg.free && seg.size > s.LargestFreeBlock {
				s.LargestFreeBlock = seg.size
			}
		}
	}
	s.ActiveBlocks = len(p.active)
	if p.leakDetection {
		s.LeakedBytes = p.leakedBytesLocked(time.Duration(p.opts.LeakThresholdMs) * time.Millisecond)
	}
	return s
}

// Validate walks all blocks checking each block's magic, that blocks are
// contiguous from offset 0, and that their sizes sum to the arena size.
// Block alignment is not checked, and a fixed pool always validates. It
// never fails the pool and does not log: it returns false, leaving policy
// to the caller (spec.md §7).
func (p *Pool) Validate() bool {
	p.lock()
	defer p.unlock()

	if p.opts.Type == Fixed {
		return true // bitmap has no corruptible linkage to validate
	}

	total := 0
	expectedOffset := 0
	for _, s := range p.segments {
		if s.magic != canaryMagic || s.offset != expectedOffset {
			return false
		}
		total += s.size
		expectedOffset += s.size
	}
	return total == len(p.arena)
}

// Compact performs best-effort defragmentation by coalescing every adjacent
// free-block run. It never invalidates outstanding pointers: only free
// blocks move their boundaries, per spec.md §4.1 and Design note §9.
func (p *Pool) Compact() {
	p.lock()
	defer p.unlock()

	if p.opts.Type != Dynamic {
		return
	}
	merged := make([]*segment, 0, len(p.segments))
	for _, s := range p.segments {
		if n := len(merged); n > 0 && merged[n-1].free && s.free {
			merged[n-1].size += s.size
			continue
		}
		merged = append(merged, s)
	}
	p.segments = merged
}

// EnableLeakDetection toggles leak tracking; when on, allocations record a
// timestamp used by CheckLeaks.
func (p *Pool) EnableLeakDetection(on bool) {
	p.lock()
	defer p.unlock()
	p.leakDetection = on
}

// CheckLeaks returns the number of outstanding allocations older than
// thresholdMs milliseconds, per spec.md §4.1.
func (p *Pool) CheckLeaks(thresholdMs int) int {
	p.lock()
	defer p.unlock()
	return len(p.leaksLocked(time.Duration(thresholdMs) * time.Millisecond))
}

func (p *Pool) leaksLocked(threshold time.Duration) []*segment {
	now := time.Now()
	var leaks []*segment
	for _, s := range p.active {
		if now.Sub(s.allocatedAt) >= threshold {
			leaks = append(leaks, s)
		}
	}
	return leaks
}

func (p *Pool) leakedBytesLocked(thresholdMs time.Duration) int {
	total := 0
	for _, s := range p.leaksLocked(thresholdMs) {
		total += s.size
	}
	return total
}

// Leak describes one suspected leaked allocation, per spec.md's get_leaks.
type Leak struct {
	Ptr       uintptr
	Size      int
	Source    string
	AgeMillis int64
}

// GetLeaks fills out with up to len(out) suspected leaks and returns how
// many were written.
func (p *Pool) GetLeaks(out []Leak) int {
	p.lock()
	defer p.unlock()

	now := time.Now()
	n := 0
	for ptr, s := range p.active {
		if n >= len(out) {
			break
		}
		out[n] = Leak{Ptr: ptr, Size: s.size, Source: s.source, AgeMillis: now.Sub(s.allocatedAt).Milliseconds()}
		n++
	}
	return n
}

// Bytes returns a slice view of size bytes at ptr, for writers (tensor,
// LEF) that need direct access into the arena.
func (p *Pool) Bytes(ptr uintptr, size int) []byte {
	if ptr == 0 {
		return nil
	}
	offset := int(ptr) - 1
	if offset < 0 || offset+size > len(p.arena) {
		return nil
	}
	return p.arena[offset : offset+size]
}

// Size returns the pool's total arena size.
func (p *Pool) Size() int { return len(p.arena) }
