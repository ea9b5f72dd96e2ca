// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage/storagetest"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := OpenInMemory()
		require.NoError(t, err)
		return s
	})
}

func TestStore_FileConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		cfg := DefaultConfig()
		cfg.Path = filepath.Join(t.TempDir(), "editions.db")
		s, err := Open(cfg)
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "editions.db")

	s, err := Open(cfg)
	require.NoError(t, err)
	key := storage.Fragments(4)
	require.NoError(t, s.Commit(context.Background(), &storage.ChangeSet{
		Changes: []storage.ScopeChange{{
			Scope:        key,
			PutAdjacency: map[graph.NodeID][]graph.NodeID{10: {11}},
			PutRecords:   map[graph.NodeID][]byte{10: []byte(`{"name":"frg. 1"}`), 11: []byte(`{"name":"frg. 2"}`)},
		}},
	}))
	id, err := s.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, graph.NodeID(1), id)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.LoadScope(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{11}, snap.Adjacency[10])
	assert.JSONEq(t, `{"name":"frg. 1"}`, string(snap.Records[10]))

	id, err = s.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, graph.NodeID(2), id)
}

func TestStore_CommitIsAtomic(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Commit(ctx, &storage.ChangeSet{
		Changes: []storage.ScopeChange{{
			Scope:      storage.Stream(1),
			PutRecords: map[graph.NodeID][]byte{1: []byte(`{}`)},
		}},
	})
	require.Error(t, err)

	snap, err := s.LoadScope(context.Background(), storage.Stream(1))
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestClassify_PassesOtherErrors(t *testing.T) {
	other := errors.New("disk i/o error")
	assert.Equal(t, other, classify(other))
	assert.NoError(t, classify(nil))
}
