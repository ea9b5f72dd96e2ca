// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence contract for edition scopes.
//
// A scope is one ordered structure inside an edition: the sign stream, the
// fragment sequence, the line sequence of one fragment, or the attribute
// catalog. Each scope persists as
//
//	adjacency rows: from -> ordered successor ids
//	records:        id   -> opaque JSON payload
//
// Ordered successor lists reproduce the exact out-list order after a
// reload, which keeps path enumeration stable across restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

// ErrTransient marks a storage failure the client may retry later.
var ErrTransient = errors.New("transient storage failure")

// ErrRetryable is wrapped by backends around errors that are worth an
// immediate retry, such as transaction conflicts or a busy database.
var ErrRetryable = errors.New("retryable storage error")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// ScopeKind names the structure a scope holds.
type ScopeKind uint8

const (
	// ScopeStream holds sign interpretations and their next links.
	ScopeStream ScopeKind = iota + 1

	// ScopeFragments holds the fragment order of an edition.
	ScopeFragments

	// ScopeLines holds the line order of one fragment.
	ScopeLines

	// ScopeCatalog holds attribute definitions. It has no adjacency.
	ScopeCatalog
)

// String returns the name used in keys and logs.
func (k ScopeKind) String() string {
	switch k {
	case ScopeStream:
		return "stream"
	case ScopeFragments:
		return "fragments"
	case ScopeLines:
		return "lines"
	case ScopeCatalog:
		return "catalog"
	default:
		return "unknown"
	}
}

// ScopeKey addresses one scope.
type ScopeKey struct {
	Edition uint64
	Kind    ScopeKind

	// Parent is the fragment id for ScopeLines and zero otherwise.
	Parent uint64
}

// String returns a stable cache key.
func (k ScopeKey) String() string {
	return fmt.Sprintf("%d/%s/%d", k.Edition, k.Kind, k.Parent)
}

// Stream returns the stream scope of an edition.
func Stream(edition uint64) ScopeKey {
	return ScopeKey{Edition: edition, Kind: ScopeStream}
}

// Fragments returns the fragment scope of an edition.
func Fragments(edition uint64) ScopeKey {
	return ScopeKey{Edition: edition, Kind: ScopeFragments}
}

// Lines returns the line scope of a fragment.
func Lines(edition, fragment uint64) ScopeKey {
	return ScopeKey{Edition: edition, Kind: ScopeLines, Parent: fragment}
}

// Catalog returns the attribute catalog scope of an edition.
func Catalog(edition uint64) ScopeKey {
	return ScopeKey{Edition: edition, Kind: ScopeCatalog}
}

// Snapshot is the persisted content of one scope.
type Snapshot struct {
	Scope     ScopeKey
	Adjacency map[graph.NodeID][]graph.NodeID
	Records   map[graph.NodeID][]byte
}

// NewSnapshot returns an empty snapshot for key.
func NewSnapshot(key ScopeKey) *Snapshot {
	return &Snapshot{
		Scope:     key,
		Adjacency: make(map[graph.NodeID][]graph.NodeID),
		Records:   make(map[graph.NodeID][]byte),
	}
}

// RecordIDs returns the record ids in ascending order.
func (s *Snapshot) RecordIDs() []graph.NodeID {
	ids := make([]graph.NodeID, 0, len(s.Records))
	for id := range s.Records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Graph rebuilds the scope's graph. Every record becomes a node.
func (s *Snapshot) Graph() (*graph.Graph, error) {
	g, err := graph.FromAdjacency(s.RecordIDs(), s.Adjacency)
	if err != nil {
		return nil, fmt.Errorf("scope %s: %w", s.Scope, err)
	}
	for _, id := range g.Nodes() {
		if _, ok := s.Records[id]; !ok {
			return nil, fmt.Errorf("scope %s: %w",
				s.Scope, graph.Corrupt("load", "link references a node without a record", id))
		}
	}
	return g, nil
}

// ScopeChange is the delta for one scope.
type ScopeChange struct {
	Scope ScopeKey

	// PutAdjacency replaces successor lists. An empty list deletes the row.
	PutAdjacency map[graph.NodeID][]graph.NodeID

	// PutRecords creates or replaces records.
	PutRecords map[graph.NodeID][]byte

	// DeleteRecords removes records.
	DeleteRecords []graph.NodeID
}

// Empty reports whether the change does nothing.
func (c *ScopeChange) Empty() bool {
	return len(c.PutAdjacency) == 0 && len(c.PutRecords) == 0 && len(c.DeleteRecords) == 0
}

// ChangeSet is applied in a single transaction.
type ChangeSet struct {
	Changes []ScopeChange

	// Drop deletes whole scopes, e.g. the lines of a deleted fragment.
	Drop []ScopeKey
}

// Empty reports whether the set does nothing.
func (cs *ChangeSet) Empty() bool {
	if len(cs.Drop) > 0 {
		return false
	}
	for i := range cs.Changes {
		if !cs.Changes[i].Empty() {
			return false
		}
	}
	return true
}

// Diff computes the change that turns before into after for one scope.
// Records in records are written as given; ids present in before but not
// in after are deleted.
func Diff(key ScopeKey, before, after *graph.Graph, records map[graph.NodeID][]byte) ScopeChange {
	change := ScopeChange{
		Scope:        key,
		PutAdjacency: graph.ChangedSuccessors(before, after),
		PutRecords:   records,
	}
	for _, id := range before.Nodes() {
		if !after.Has(id) {
			change.DeleteRecords = append(change.DeleteRecords, id)
		}
	}
	return change
}

// Store is implemented by each backend.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Backend names the implementation, e.g. "badger".
	Backend() string

	// LoadScope returns the persisted scope. A scope never written
	// loads as an empty snapshot.
	LoadScope(ctx context.Context, key ScopeKey) (*Snapshot, error)

	// NextID allocates a new non-zero id, unique across the store.
	NextID(ctx context.Context) (graph.NodeID, error)

	// Commit applies cs atomically.
	Commit(ctx context.Context, cs *ChangeSet) error

	// Ping checks that the store can serve requests.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
