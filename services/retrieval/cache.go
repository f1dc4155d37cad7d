// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgraph-io/badger/v4"
)

// EmbeddingCache stores corpus-side vectors keyed by content hash, so
// unchanged content is embedded exactly once across process restarts.
type EmbeddingCache interface {
	// Get returns the cached vector for a content hash, with found=false
	// on a miss.
	Get(contentHash string) (vector []float32, found bool, err error)

	// Put stores a vector under a content hash.
	Put(contentHash string, vector []float32) error

	// Close releases underlying resources.
	Close() error
}

// =============================================================================
// BadgerDB-backed cache
// =============================================================================

// CacheConfig holds configuration for the Badger-backed embedding cache.
type CacheConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// DefaultCacheConfig returns sensible defaults for production use.
func DefaultCacheConfig(path string) CacheConfig {
	return CacheConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryCacheConfig returns configuration optimized for testing: no disk
// I/O and no sync overhead.
func InMemoryCacheConfig() CacheConfig {
	return CacheConfig{InMemory: true}
}

// BadgerCache is an EmbeddingCache backed by BadgerDB. Vectors are encoded
// as little-endian float32 runs; the key is the raw content hash.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens (or creates) the cache database.
func OpenBadgerCache(cfg CacheConfig) (*BadgerCache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("cache path is required for a persistent cache")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	slog.Info("Opened embedding cache", "path", cfg.Path, "inMemory", cfg.InMemory)
	return &BadgerCache{db: db}, nil
}

// Get implements EmbeddingCache.
func (c *BadgerCache) Get(contentHash string) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(contentHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec = decodeVector(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding cache read failed: %w", err)
	}
	return vec, true, nil
}

// Put implements EmbeddingCache.
func (c *BadgerCache) Put(contentHash string, vector []float32) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(contentHash), encodeVector(vector))
	})
	if err != nil {
		return fmt.Errorf("embedding cache write failed: %w", err)
	}
	return nil
}

// Close implements EmbeddingCache.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// =============================================================================
// In-memory cache
// =============================================================================

// MemoryCache is a map-backed EmbeddingCache for tests and ephemeral runs.
type MemoryCache struct {
	vectors map[string][]float32
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vectors: make(map[string][]float32)}
}

// Get implements EmbeddingCache.
func (c *MemoryCache) Get(contentHash string) ([]float32, bool, error) {
	vec, ok := c.vectors[contentHash]
	return vec, ok, nil
}

// Put implements EmbeddingCache.
func (c *MemoryCache) Put(contentHash string, vector []float32) error {
	c.vectors[contentHash] = vector
	return nil
}

// Close implements EmbeddingCache.
func (c *MemoryCache) Close() error { return nil }
