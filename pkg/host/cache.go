// Copyright 2025 Certen Protocol
//
// Component image cache, keyed by (storage_path, content_hash) per spec
// §4.D. Backed by ristretto for admission/eviction instead of a bare map
// — the teacher already carries dgraph-io/ristretto as an indirect
// dependency (pulled in by its linter toolchain); this promotes it to
// direct use for the one place in the kernel that benefits from a
// cost-aware cache (compiled WebAssembly modules are expensive to keep
// around indefinitely).
//
// Generic over the compiled representation so it can be unit tested
// without a real wasmtime engine.

package host

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// Cache maps (path, content-hash) to a compiled image of type T.
type Cache[T any] struct {
	rc  *ristretto.Cache
	mu  sync.Mutex
	key map[string]string // path -> current cache key, for invalidation
}

// NewCache constructs a cache sized for maxCost compiled images (cost is
// charged as 1 per entry; image size does not affect eviction).
func NewCache[T any](maxCost int64) (*Cache[T], error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("host: cache: %w", err)
	}
	return &Cache[T]{rc: rc, key: make(map[string]string)}, nil
}

func contentHashOf(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func cacheKey(path string, contentHash string) string {
	return path + "@" + contentHash
}

// GetOrCompile returns the cached compiled image for (path, content), or
// invokes compile and caches the result. content's hash is part of the
// cache key so a stale entry left over from a prior hash at the same
// path is never returned stale; InvalidatePath additionally drops the
// old key->entry mapping so memory isn't retained for dead paths.
func (c *Cache[T]) GetOrCompile(path string, content []byte, compile func([]byte) (T, error)) (T, error) {
	hash := contentHashOf(content)
	k := cacheKey(path, hash)
	if v, ok := c.rc.Get(k); ok {
		return v.(T), nil
	}
	compiled, err := compile(content)
	if err != nil {
		var zero T
		return zero, err
	}
	c.mu.Lock()
	c.key[path] = k
	c.mu.Unlock()
	c.rc.Set(k, compiled, 1)
	c.rc.Wait()
	return compiled, nil
}

// InvalidatePath marks the cache entry for path stale — called whenever
// the storage value at path changes during commit_block (spec §4.D).
// The next GetOrCompile for that path will recompute its content hash
// from the new bytes and miss, recompiling.
func (c *Cache[T]) InvalidatePath(path string) {
	c.mu.Lock()
	k, ok := c.key[path]
	if ok {
		delete(c.key, path)
	}
	c.mu.Unlock()
	if ok {
		c.rc.Del(k)
	}
}
