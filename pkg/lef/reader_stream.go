package lef

import (
	"container/list"
	"os"
	"sync"

	"github.com/orneryd/libetude/pkg/errs"
)

// CacheInfo reports the streaming loader's cache occupancy.
type CacheInfo struct {
	BudgetBytes int64
	UsedBytes   int64
	HitCount    int64
	MissCount   int64
}

// lruEntry is one resident layer in a layerCache.
type lruEntry struct {
	id   uint32
	data []byte
}

// layerCache is a byte-budgeted, strictly least-recently-used cache of
// decoded layer payloads: a doubly-linked list in recency order plus an
// id-to-element index, the same shape as the teacher's query result
// cache. Unlike an admission cache (e.g. ristretto's TinyLFU), every Set
// is unconditionally admitted and eviction walks from the list's back
// until usage is within budget, so residency after a known access
// sequence is deterministic.
type layerCache struct {
	mu     sync.Mutex
	budget int64
	used   int64
	order  *list.List
	items  map[uint32]*list.Element
	hits   int64
	misses int64
}

func newLayerCache(budget int64) *layerCache {
	return &layerCache{
		budget: budget,
		order:  list.New(),
		items:  make(map[uint32]*list.Element),
	}
}

func (c *layerCache) Get(id uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*lruEntry).data, true
	}
	c.misses++
	return nil, false
}

// Set admits data for id, evicting least-recently-used entries until the
// cache is back within budget.
func (c *layerCache) Set(id uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		old := el.Value.(*lruEntry)
		c.used += int64(len(data)) - int64(len(old.data))
		old.data = data
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&lruEntry{id: id, data: data})
		c.items[id] = el
		c.used += int64(len(data))
	}
	c.evictLocked()
}

func (c *layerCache) evictLocked() {
	for c.used > c.budget {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*lruEntry)
		c.order.Remove(back)
		delete(c.items, e.id)
		c.used -= int64(len(e.data))
	}
}

func (c *layerCache) Del(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[id]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.items, id)
	c.used -= int64(len(el.Value.(*lruEntry).data))
}

func (c *layerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[uint32]*list.Element)
	c.used = 0
}

// Resident returns the ids currently cached, in most- to least-recently
// used order.
func (c *layerCache) Resident() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*lruEntry).id)
	}
	return out
}

func (c *layerCache) Usage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *layerCache) statsLocked() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// StreamReader keeps only the header, meta, and index resident and
// read-throughs individual layers into an LRU cache on demand, per
// spec's streaming loading strategy. GetLayerData, VerifyFileIntegrity,
// and CleanupCache serialize on the reader's own mutex, and the cache has
// its own lock.
type StreamReader struct {
	file   *os.File
	header Header
	meta   Meta
	index  []IndexEntry
	byID   map[uint32]int

	cache   *layerCache
	budget  int64
	encOpts EncryptionOptions

	mu sync.Mutex
}

// OpenStream implements the streaming-LRU loading strategy, per spec.
func OpenStream(path string, cacheBudgetBytes int64, encOpts EncryptionOptions) (*StreamReader, error) {
	if cacheBudgetBytes <= 0 {
		return nil, errs.New("lef.OpenStream", errs.InvalidParameter, nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New("lef.OpenStream", errs.FileIO, err)
	}

	prefix := make([]byte, HeaderSize)
	if _, err := f.ReadAt(prefix, 0); err != nil {
		f.Close()
		return nil, errs.New("lef.OpenStream", errs.FileIO, err)
	}
	h, err := DecodeHeader(prefix)
	if err != nil {
		f.Close()
		return nil, err
	}
	if h.Flags.Has(FlagEncrypted) {
		f.Close()
		return nil, errs.New("lef.OpenStream", errs.InvalidFormat, nil)
	}

	metaBuf := make([]byte, metaSize)
	if _, err := f.ReadAt(metaBuf, HeaderSize); err != nil {
		f.Close()
		return nil, errs.New("lef.OpenStream", errs.FileIO, err)
	}
	m, err := DecodeMeta(metaBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	indexBuf := make([]byte, h.DataOffset-h.IndexOffset)
	if _, err := f.ReadAt(indexBuf, int64(h.IndexOffset)); err != nil {
		f.Close()
		return nil, errs.New("lef.OpenStream", errs.FileIO, err)
	}
	index := make([]IndexEntry, 0, len(indexBuf)/IndexEntrySize)
	byID := make(map[uint32]int)
	for off := 0; off+IndexEntrySize <= len(indexBuf); off += IndexEntrySize {
		e, err := DecodeIndexEntry(indexBuf[off : off+IndexEntrySize])
		if err != nil {
			f.Close()
			return nil, err
		}
		byID[e.LayerID] = len(index)
		index = append(index, e)
	}

	return &StreamReader{
		file: f, header: h, meta: m, index: index, byID: byID,
		cache: newLayerCache(cacheBudgetBytes), budget: cacheBudgetBytes, encOpts: encOpts,
	}, nil
}

func (s *StreamReader) Header() Header      { return s.header }
func (s *StreamReader) Meta() Meta          { return s.meta }
func (s *StreamReader) Index() []IndexEntry { return s.index }

// GetLayerData is load_layer_on_demand: check the cache, else read the
// layer's header+payload from disk, decompress, verify its CRC32, and
// insert into the LRU cache before returning.
func (s *StreamReader) GetLayerData(id uint32) ([]byte, error) {
	if v, ok := s.cache.Get(id); ok {
		return v, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache.Get(id); ok {
		return v, nil
	}

	data, err := s.readLayerFromDisk(id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, data)
	return data, nil
}

func (s *StreamReader) readLayerFromDisk(id uint32) ([]byte, error) {
	const op = "lef.StreamReader.GetLayerData"
	idx, ok := s.byID[id]
	if !ok {
		return nil, errs.New(op, errs.LayerNotFound, nil)
	}
	entry := s.index[idx]

	headerBuf := make([]byte, LayerHeaderSize)
	if _, err := s.file.ReadAt(headerBuf, int64(entry.HeaderOffset)); err != nil {
		return nil, errs.New(op, errs.FileIO, err)
	}
	lh, err := DecodeLayerHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	stored := make([]byte, lh.CompressedSize)
	if _, err := s.file.ReadAt(stored, int64(entry.DataOffset())); err != nil {
		return nil, errs.New(op, errs.FileIO, err)
	}

	return decodeAndVerifyLayer(op, lh, stored)
}

// VerifyFileIntegrity reads every layer from disk (bypassing the cache)
// and validates its CRC32, so a caller can confirm the whole file is
// intact without pre-populating the cache with payloads it may not need.
func (s *StreamReader) VerifyFileIntegrity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.index {
		if _, err := s.readLayerFromDisk(entry.LayerID); err != nil {
			return err
		}
	}
	return nil
}

// UnloadLayer evicts a single layer from the cache.
func (s *StreamReader) UnloadLayer(id uint32) {
	s.cache.Del(id)
}

// CleanupCache drives the cache back toward target size by evicting
// least-recently-used layers until usage is at or below targetSizeBytes.
func (s *StreamReader) CleanupCache(targetSizeBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if targetSizeBytes >= s.cache.Usage() {
		return
	}
	prevBudget := s.cache.budget
	s.cache.mu.Lock()
	s.cache.budget = targetSizeBytes
	s.cache.evictLocked()
	s.cache.budget = prevBudget
	s.cache.mu.Unlock()
}

// ResidentLayers returns the ids currently held in the cache, most- to
// least-recently used.
func (s *StreamReader) ResidentLayers() []uint32 {
	return s.cache.Resident()
}

// CacheInfo reports current cache metrics.
func (s *StreamReader) CacheInfo() CacheInfo {
	hits, misses := s.cache.statsLocked()
	return CacheInfo{
		BudgetBytes: s.budget,
		UsedBytes:   s.cache.Usage(),
		HitCount:    hits,
		MissCount:   misses,
	}
}

// Close closes the underlying file and releases the cache.
func (s *StreamReader) Close() error {
	s.cache.Clear()
	return s.file.Close()
}
