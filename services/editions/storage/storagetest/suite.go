// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagetest holds the behaviour every storage.Store backend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises a backend.
func Run(t *testing.T, open Factory) {
	t.Run("empty scope", func(t *testing.T) { testEmptyScope(t, open(t)) })
	t.Run("round trip keeps out-list order", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("delete records and rows", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("drop scope", func(t *testing.T) { testDrop(t, open(t)) })
	t.Run("scopes are isolated", func(t *testing.T) { testIsolation(t, open(t)) })
	t.Run("ids are unique", func(t *testing.T) { testNextID(t, open(t)) })
	t.Run("closed store", func(t *testing.T) { testClosed(t, open(t)) })
}

func testEmptyScope(t *testing.T, s storage.Store) {
	defer s.Close()
	snap, err := s.LoadScope(context.Background(), storage.Stream(1))
	require.NoError(t, err)
	assert.Empty(t, snap.Adjacency)
	assert.Empty(t, snap.Records)
	require.NoError(t, s.Ping(context.Background()))
}

func commitGraph(t *testing.T, s storage.Store, key storage.ScopeKey, before, after *graph.Graph) {
	t.Helper()
	records := make(map[graph.NodeID][]byte)
	for _, id := range after.Nodes() {
		if !before.Has(id) {
			records[id] = []byte(`{"id":` + strconv.FormatUint(uint64(id), 10) + `}`)
		}
	}
	change := storage.Diff(key, before, after, records)
	require.NoError(t, s.Commit(context.Background(), &storage.ChangeSet{Changes: []storage.ScopeChange{change}}))
}

func testRoundTrip(t *testing.T, s storage.Store) {
	defer s.Close()
	key := storage.Stream(7)

	after, err := graph.FromEdges(nil, []graph.Edge{
		{From: 1, To: 9}, {From: 1, To: 2}, {From: 2, To: 3}, {From: 9, To: 3},
	})
	require.NoError(t, err)
	commitGraph(t, s, key, graph.New(), after)

	snap, err := s.LoadScope(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":9}`), snap.Records[9])

	loaded, err := snap.Graph()
	require.NoError(t, err)
	assert.Equal(t, after.Edges(), loaded.Edges())
	assert.Equal(t, []graph.NodeID{9, 2}, loaded.Successors(1))

	paths, err := graph.AllPaths(loaded, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]graph.NodeID{{1, 9, 3}, {1, 2, 3}}, paths)
}

func testDelete(t *testing.T, s storage.Store) {
	defer s.Close()
	key := storage.Stream(1)

	before, err := graph.FromEdges(nil, []graph.Edge{{From: 1, To: 2}, {From: 2, To: 3}})
	require.NoError(t, err)
	commitGraph(t, s, key, graph.New(), before)

	after := before.Clone()
	require.NoError(t, after.DeleteNode(2))
	commitGraph(t, s, key, before, after)

	snap, err := s.LoadScope(context.Background(), key)
	require.NoError(t, err)
	assert.NotContains(t, snap.Records, graph.NodeID(2))
	assert.NotContains(t, snap.Adjacency, graph.NodeID(2))
	assert.Equal(t, []graph.NodeID{3}, snap.Adjacency[1])

	// Removing the last link deletes the row.
	last := after.Clone()
	require.NoError(t, last.RemoveLink(1, 3))
	commitGraph(t, s, key, after, last)
	snap, err = s.LoadScope(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, snap.Adjacency)
	assert.Len(t, snap.Records, 2)
}

func testDrop(t *testing.T, s storage.Store) {
	defer s.Close()
	lines := storage.Lines(1, 50)
	g, err := graph.FromEdges(nil, []graph.Edge{{From: 1, To: 2}})
	require.NoError(t, err)
	commitGraph(t, s, lines, graph.New(), g)

	require.NoError(t, s.Commit(context.Background(), &storage.ChangeSet{Drop: []storage.ScopeKey{lines}}))
	snap, err := s.LoadScope(context.Background(), lines)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Empty(t, snap.Adjacency)
}

func testIsolation(t *testing.T, s storage.Store) {
	defer s.Close()
	g, err := graph.FromEdges(nil, []graph.Edge{{From: 1, To: 2}})
	require.NoError(t, err)
	commitGraph(t, s, storage.Lines(1, 10), graph.New(), g)

	for _, key := range []storage.ScopeKey{
		storage.Lines(1, 11), storage.Lines(2, 10), storage.Fragments(1), storage.Stream(1),
	} {
		snap, err := s.LoadScope(context.Background(), key)
		require.NoError(t, err)
		assert.Empty(t, snap.Records, "scope %s", key)
	}
}

func testNextID(t *testing.T, s storage.Store) {
	defer s.Close()
	var (
		mu   sync.Mutex
		seen = make(map[graph.NodeID]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := s.NextID(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				assert.NotZero(t, id)
				mu.Lock()
				assert.False(t, seen[id], "id %d handed out twice", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 200)
}

func testClosed(t *testing.T, s storage.Store) {
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.LoadScope(context.Background(), storage.Stream(1))
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), storage.ErrClosed)
}
