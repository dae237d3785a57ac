package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 Pool stats: 1 MiB pool, align 32, alloc 256, free, reset.
func TestPoolStats(t *testing.T) {
	p, err := CreateWithOptions(1<<20, Options{Alignment: 32})
	require.NoError(t, err)

	ptr := p.Alloc(256)
	require.NotEqual(t, uintptr(0), ptr)
	assert.Equal(t, uintptr(0), ptr%32)

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.Used, 256)
	assert.Equal(t, 1, stats.Allocations)

	require.NoError(t, p.Free(ptr))
	stats = p.Stats()
	assert.Equal(t, 1, stats.Frees)

	p.Reset()
	stats = p.Stats()
	assert.Equal(t, 0, stats.Used)
	assert.Equal(t, 1, stats.Resets)
}

// S2 Fixed pool: 64 KiB pool, 256-byte blocks.
func TestFixedPool(t *testing.T) {
	p, err := CreateWithOptions(64*1024, Options{Type: Fixed, BlockSize: 256, Alignment: 32})
	require.NoError(t, err)

	total := 64 * 1024 / 256
	ptrs := make([]uintptr, 0, 10)
	for i := 0; i < 10; i++ {
		ptr := p.Alloc(256)
		require.NotEqual(t, uintptr(0), ptr)
		ptrs = append(ptrs, ptr)
	}
	stats := p.Stats()
	freeBlocks := (stats.Total - stats.Used) / 256
	assert.Equal(t, total-10, freeBlocks)

	oversize := p.Alloc(512)
	assert.Equal(t, uintptr(0), oversize)

	for _, ptr := range ptrs[:5] {
		require.NoError(t, p.Free(ptr))
	}
	stats = p.Stats()
	freeBlocks = (stats.Total - stats.Used) / 256
	assert.Equal(t, total-5, freeBlocks)
}

func TestPoolAllocZeroOrNegativeFails(t *testing.T) {
	p, err := Create(4096)
	require.NoError(t, err)

	assert.Equal(t, uintptr(0), p.Alloc(0))
	assert.Equal(t, uintptr(0), p.Alloc(-1))
}

func TestPoolFreeUnknownPointerFails(t *testing.T) {
	p, err := Create(4096)
	require.NoError(t, err)

	err = p.Free(12345)
	assert.Error(t, err)
}

// Free coalesces adjacent blocks back into one contiguous free region.
func TestPoolCoalescesOnFree(t *testing.T) {
	p, err := CreateWithOptions(1024, Options{Alignment: 32, MinBlockSize: 16})
	require.NoError(t, err)

	a := p.Alloc(64)
	b := p.Alloc(64)
	c := p.Alloc(64)
	require.NotZero(t, a)
	require.NotZero(t, b)
	require.NotZero(t, c)

	require.NoError(t, p.Free(b))
	require.NoError(t, p.Free(a))

	stats := p.Stats()
	assert.Greater(t, stats.LargestFreeBlock, 64)
	assert.True(t, p.Validate())
}

// Total bytes across blocks is always conserved, whatever the allocation
// history, per spec.md §8's pool-conservation property.
func TestPoolConservation(t *testing.T) {
	p, err := CreateWithOptions(4096, Options{Alignment: 32, MinBlockSize: 16})
	require.NoError(t, err)

	var ptrs []uintptr
	for i := 0; i < 5; i++ {
		if ptr := p.Alloc(64); ptr != 0 {
			ptrs = append(ptrs, ptr)
		}
	}
	for _, ptr := range ptrs {
		require.NoError(t, p.Free(ptr))
	}

	assert.True(t, p.Validate())
	stats := p.Stats()
	assert.Equal(t, 0, stats.Used)
	assert.Equal(t, 4096, stats.LargestFreeBlock)
}

func TestPoolValidateDetectsMisalignedTotal(t *testing.T) {
	p, err := Create(2048)
	require.NoError(t, err)
	assert.True(t, p.Validate())

	p.segments[0].size--
	assert.False(t, p.Validate())
}

func TestPoolThreadSafeConcurrentAllocFree(t *testing.T) {
	p, err := CreateWithOptions(1<<20, Options{Alignment: 32, ThreadSafe: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ptr := p.Alloc(128)
				if ptr != 0 {
					_ = p.Free(ptr)
				}
			}
		}()
	}
	wg.Wait()

	assert.True(t, p.Validate())
}

func TestPoolLeakDetection(t *testing.T) {
	p, err := CreateWithOptions(4096, Options{LeakDetection: true})
	require.NoError(t, err)

	ptr := p.Alloc(64)
	require.NotZero(t, ptr)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, p.CheckLeaks(1))
	assert.Equal(t, 0, p.CheckLeaks(10000))

	leaks := make([]Leak, 1)
	n := p.GetLeaks(leaks)
	require.Equal(t, 1, n)
	assert.Equal(t, 64, leaks[0].Size)
}

func TestStatsLeakedBytesRespectsThreshold(t *testing.T) {
	p, err := CreateWithOptions(4096, Options{LeakDetection: true, LeakThresholdMs: 50})
	require.NoError(t, err)

	ptr := p.Alloc(64)
	require.NotZero(t, ptr)

	// Freshly allocated: younger than the 50ms threshold, not yet a leak.
	assert.Equal(t, 0, p.Stats().LeakedBytes)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 64, p.Stats().LeakedBytes)
}

func TestManagerPartitionsAndRetunes(t *testing.T) {
	m, err := NewManager(ManagerOptions{
		AnalysisSize:  64 * 1024,
		SynthesisSize: 64 * 1024,
		CacheSize:     64 * 1024,
		Alignment:     32,
		MinPoolSize:   4096,
	})
	require.NoError(t, err)
	defer m.Close()

	ptr := m.Alloc(Analysis, 1024)
	require.NotZero(t, ptr)
	require.NoError(t, m.Free(Analysis, ptr))

	stats := m.Stats()
	assert.Contains(t, stats, Analysis)
	assert.Contains(t, stats, Synthesis)
	assert.Contains(t, stats, Cache)

	m.Retune()
	assert.Equal(t, 4096, m.Stats()[Analysis].Total)
}

func TestManagerIdleCleanupResetsCache(t *testing.T) {
	m, err := NewManager(ManagerOptions{
		AnalysisSize:     4096,
		SynthesisSize:    4096,
		CacheSize:        4096,
		IdleCleanupAfter: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer m.Close()

	ptr := m.Alloc(Cache, 64)
	require.NotZero(t, ptr)
	require.NoError(t, m.Free(Cache, ptr))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, m.Stats()[Cache].Resets)
}
