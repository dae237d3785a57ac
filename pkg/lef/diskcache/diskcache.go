// Package diskcache is an optional on-disk cache for already-decompressed
// LEF layer bytes, keyed by (model_hash, layer_id), so a second process
// loading the same model skips re-decompressing layers the first process
// already paid for. It is a standalone package: pkg/lef's readers do not
// call it, so a caller that wants the extra tier uses Get and Put itself.
// It is scoped down from the teacher's full graph-storage BadgerEngine to a
// pure byte cache.
package diskcache

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
)

// Options configures the disk cache.
type Options struct {
	// DataDir is where badger stores its on-disk tables.
	DataDir string

	// InMemory runs badger in memory-only mode (useful for tests).
	InMemory bool

	// Logger receives human-readable size lines on Put; nil disables logging.
	Logger func(msg string)
}

// Cache is a byte-addressable decompression cache over badger.
type Cache struct {
	db     *badger.DB
	logger func(msg string)
}

// Open creates or opens the on-disk cache.
func Open(opts Options) (*Cache, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	bopts = bopts.WithInMemory(opts.InMemory)
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("diskcache: open: %w", err)
	}
	return &Cache{db: db, logger: opts.Logger}, nil
}

func key(modelHash, layerID uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], modelHash)
	binary.BigEndian.PutUint32(b[4:8], layerID)
	return b
}

// Get returns the cached decompressed layer bytes, or ok=false on miss.
func (c *Cache) Get(modelHash, layerID uint32) (data []byte, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(modelHash, layerID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("diskcache: get: %w", err)
	}
	return data, ok, nil
}

// Put stores a layer's decompressed bytes.
func (c *Cache) Put(modelHash, layerID uint32, data []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(modelHash, layerID), data)
	})
	if err != nil {
		return fmt.Errorf("diskcache: put: %w", err)
	}
	if c.logger != nil {
		c.logger(fmt.Sprintf("diskcache: cached layer %d (%s)", layerID, humanize.Bytes(uint64(len(data)))))
	}
	return nil
}

// Evict removes a model's entire cache entry set. Badger has no prefix
// delete for a single (modelHash) scan shortcut here since keys are fixed
// 8-byte (modelHash,layerID) pairs; this walks the model's layer ids.
func (c *Cache) Evict(modelHash uint32, layerIDs []uint32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for _, id := range layerIDs {
			if err := txn.Delete(key(modelHash, id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying badger database.
func (c *Cache) Close() error {
	return c.db.Close()
}
