// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache keeps decoded scope state in memory between requests.
//
// Entries are loaded once per key even when many readers miss at the same
// time, and are replaced wholesale after a successful commit. The cache
// never mutates a value it hands out.
package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// LoadFunc loads the value for a missing key.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ScopeCache maps scope keys to loaded state.
//
// Thread Safety: Safe for concurrent use. Callers that replace an entry
// after a write must hold the scope's write lock so a concurrent load
// cannot overwrite the newer value.
type ScopeCache[V any] struct {
	lru    *LRU[string, V]
	flight singleflight.Group
}

// NewScopeCache returns a cache holding at most capacity scopes.
func NewScopeCache[V any](capacity int) *ScopeCache[V] {
	return &ScopeCache[V]{lru: NewLRU[string, V](capacity)}
}

// GetOrLoad returns the cached value for key or runs load once for all
// concurrent callers that missed.
func (c *ScopeCache[V]) GetOrLoad(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	result, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("load scope %s: %w", key, err)
	}
	return result.(V), nil
}

// Put replaces the value for key.
func (c *ScopeCache[V]) Put(key string, v V) {
	c.lru.Set(key, v)
}

// Invalidate drops key so the next read reloads it.
func (c *ScopeCache[V]) Invalidate(keys ...string) {
	for _, k := range keys {
		c.lru.Delete(k)
		c.flight.Forget(k)
	}
}

// Stats returns the counters.
func (c *ScopeCache[V]) Stats() Stats {
	hits, misses, evictions := c.lru.Stats()
	return Stats{Entries: c.lru.Len(), Hits: hits, Misses: misses, Evictions: evictions}
}
