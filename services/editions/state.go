// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editions

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/sequence"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// ElementKind distinguishes sequenced elements.
type ElementKind string

const (
	KindFragment ElementKind = "fragment"
	KindLine     ElementKind = "line"
)

// Element is a text fragment or a line. Elements of one scope form a
// single ordered chain.
type Element struct {
	ID       graph.NodeID `json:"id"`
	Name     string       `json:"name"`
	Kind     ElementKind  `json:"kind"`
	ParentID uint64       `json:"parent_id,omitempty"`
}

// scopeState is the in-memory form of one persisted scope. Cached values
// are shared between readers and must not be modified; mutations work on
// a clone.
type scopeState[S any] interface {
	topology() *graph.Graph
	encode(id graph.NodeID) ([]byte, error)
	clone() S
	version() string
	setVersion(v string)
}

// fingerprint hashes the topology and every record of a scope. Equal
// scopes produce equal fingerprints regardless of map iteration order.
func fingerprint[S scopeState[S]](st S) (string, error) {
	h := blake3.New()
	var buf [8]byte
	writeID := func(id graph.NodeID) {
		binary.BigEndian.PutUint64(buf[:], uint64(id))
		h.Write(buf[:])
	}
	g := st.topology()
	for _, id := range g.Nodes() {
		writeID(id)
		succ := g.Successors(id)
		binary.BigEndian.PutUint64(buf[:], uint64(len(succ)))
		h.Write(buf[:])
		for _, s := range succ {
			writeID(s)
		}
		rec, err := st.encode(id)
		if err != nil {
			return "", err
		}
		binary.BigEndian.PutUint64(buf[:], uint64(len(rec)))
		h.Write(buf[:])
		h.Write(rec)
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

func decodeRecord[T any](snap *storage.Snapshot, id graph.NodeID) (T, error) {
	var v T
	if err := json.Unmarshal(snap.Records[id], &v); err != nil {
		return v, graph.Corrupt("load", fmt.Sprintf("scope %s record %d: %v", snap.Scope, id, err), id)
	}
	return v, nil
}

// =============================================================================
// Stream
// =============================================================================

type streamState struct {
	g     *graph.Graph
	signs map[graph.NodeID]*overlay.SignInterpretation
	ver   string
}

func newStreamState() *streamState {
	return &streamState{g: graph.New(), signs: make(map[graph.NodeID]*overlay.SignInterpretation)}
}

func decodeStream(snap *storage.Snapshot) (*streamState, error) {
	g, err := snap.Graph()
	if err != nil {
		return nil, err
	}
	st := &streamState{g: g, signs: make(map[graph.NodeID]*overlay.SignInterpretation, g.Len())}
	for _, id := range g.Nodes() {
		si, err := decodeRecord[overlay.SignInterpretation](snap, id)
		if err != nil {
			return nil, err
		}
		si.ID = id
		st.signs[id] = &si
	}
	return st, nil
}

func (st *streamState) topology() *graph.Graph { return st.g }
func (st *streamState) version() string        { return st.ver }
func (st *streamState) setVersion(v string)    { st.ver = v }

func (st *streamState) encode(id graph.NodeID) ([]byte, error) {
	return json.Marshal(st.signs[id])
}

func (st *streamState) clone() *streamState {
	c := &streamState{g: st.g.Clone(), signs: make(map[graph.NodeID]*overlay.SignInterpretation, len(st.signs)), ver: st.ver}
	for id, si := range st.signs {
		c.signs[id] = si
	}
	return c
}

// sign returns a private copy of the sign for modification. The caller
// stores it back with put.
func (st *streamState) sign(op string, id graph.NodeID) (*overlay.SignInterpretation, error) {
	si, ok := st.signs[id]
	if !ok {
		return nil, graph.NotFound(op, "unknown sign interpretation", id)
	}
	return si.Clone(), nil
}

func (st *streamState) put(si *overlay.SignInterpretation) {
	st.signs[si.ID] = si
}

// =============================================================================
// Fragments and lines
// =============================================================================

type sequenceState struct {
	seq   *sequence.Sequence
	elems map[graph.NodeID]Element
	ver   string
}

func newSequenceState() *sequenceState {
	seq, _ := sequence.FromOrder()
	return &sequenceState{seq: seq, elems: make(map[graph.NodeID]Element)}
}

func decodeSequence(snap *storage.Snapshot) (*sequenceState, error) {
	g, err := snap.Graph()
	if err != nil {
		return nil, err
	}
	seq, err := sequence.New(g)
	if err != nil {
		return nil, err
	}
	st := &sequenceState{seq: seq, elems: make(map[graph.NodeID]Element, g.Len())}
	for _, id := range g.Nodes() {
		el, err := decodeRecord[Element](snap, id)
		if err != nil {
			return nil, err
		}
		el.ID = id
		st.elems[id] = el
	}
	return st, nil
}

func (st *sequenceState) topology() *graph.Graph { return st.seq.Graph() }
func (st *sequenceState) version() string        { return st.ver }
func (st *sequenceState) setVersion(v string)    { st.ver = v }

func (st *sequenceState) encode(id graph.NodeID) ([]byte, error) {
	return json.Marshal(st.elems[id])
}

func (st *sequenceState) clone() *sequenceState {
	c := &sequenceState{seq: st.seq.Clone(), elems: make(map[graph.NodeID]Element, len(st.elems)), ver: st.ver}
	for id, el := range st.elems {
		c.elems[id] = el
	}
	return c
}

// ordered returns the elements in sequence order.
func (st *sequenceState) ordered() ([]Element, error) {
	ids, err := st.seq.Linearize()
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(ids))
	for i, id := range ids {
		out[i] = st.elems[id]
	}
	return out, nil
}

// =============================================================================
// Attribute catalog
// =============================================================================

// catalogState keeps attribute ids as isolated nodes so scope diffs and
// fingerprints work the same way as for the other scopes.
type catalogState struct {
	ids *graph.Graph
	cat *overlay.Catalog
	ver string
}

func newCatalogState() *catalogState {
	cat, _ := overlay.NewCatalog()
	return &catalogState{ids: graph.New(), cat: cat}
}

func decodeCatalog(snap *storage.Snapshot) (*catalogState, error) {
	st := newCatalogState()
	for _, id := range snap.RecordIDs() {
		a, err := decodeRecord[overlay.Attribute](snap, id)
		if err != nil {
			return nil, err
		}
		a.ID = uint64(id)
		if err := st.define(a); err != nil {
			return nil, graph.Corrupt("load", fmt.Sprintf("catalog %s: %v", snap.Scope, err), id)
		}
	}
	return st, nil
}

func (st *catalogState) define(a overlay.Attribute) error {
	if err := st.cat.Define(a); err != nil {
		return err
	}
	if !st.ids.Has(graph.NodeID(a.ID)) {
		return st.ids.AddNode(graph.NodeID(a.ID))
	}
	return nil
}

func (st *catalogState) remove(id uint64) error {
	if err := st.cat.Remove(id); err != nil {
		return err
	}
	return st.ids.DetachNode(graph.NodeID(id))
}

func (st *catalogState) topology() *graph.Graph { return st.ids }
func (st *catalogState) version() string        { return st.ver }
func (st *catalogState) setVersion(v string)    { st.ver = v }

func (st *catalogState) encode(id graph.NodeID) ([]byte, error) {
	a, ok := st.cat.Lookup(uint64(id))
	if !ok {
		return nil, graph.Corrupt("encode", "attribute without definition", id)
	}
	return json.Marshal(a)
}

func (st *catalogState) clone() *catalogState {
	return &catalogState{ids: st.ids.Clone(), cat: st.cat.Clone(), ver: st.ver}
}
