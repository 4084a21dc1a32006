/*
Copyright 2024 The FlintDB Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lru implements the Table Engine's row cache.
//
// Cache entries need to be invalidated by a callback whenever a block is
// freed or reused, which has to run from *inside* the cache's own eviction
// path too (when the row cache itself evicts the least-recently-used row to
// make room for a new one, nothing else would ever invalidate it).
// github.com/hashicorp/golang-lru/v2 supports exactly this via
// NewWithEvict.
package lru

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a row cache keyed by row-id, safe for concurrent access. It is
// always mutated under the owning Table's writer latch or via an
// invalidation callback; the underlying library's own locking is therefore
// belt-and-suspenders, not load-bearing.
type Cache struct {
	c *lru.Cache[int64, []byte]
}

// New returns a cache holding at most maxEntries row images. onEvict, if
// non-nil, runs whenever an entry leaves the cache for any reason
// (explicit Remove, or implicit eviction to make room).
func New(maxEntries int, onEvict func(rowID int64, row []byte)) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	var c *lru.Cache[int64, []byte]
	if onEvict != nil {
		c, _ = lru.NewWithEvict[int64, []byte](maxEntries, onEvict)
	} else {
		c, _ = lru.New[int64, []byte](maxEntries)
	}
	return &Cache{c: c}
}

// Add inserts or refreshes the cached image for rowID.
func (c *Cache) Add(rowID int64, row []byte) {
	c.c.Add(rowID, row)
}

// Get fetches the cached image for rowID, if present.
func (c *Cache) Get(rowID int64) ([]byte, bool) {
	return c.c.Get(rowID)
}

// Remove evicts rowID, invoking the eviction callback if one was supplied
// to New. It is safe to call for a row-id that isn't cached.
func (c *Cache) Remove(rowID int64) {
	c.c.Remove(rowID)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.c.Len()
}

// Purge evicts every entry, invoking the eviction callback for each.
func (c *Cache) Purge() {
	c.c.Purge()
}
