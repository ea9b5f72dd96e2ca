// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the sign-interpretation stream graph.
//
// A stream is a directed acyclic graph of "next" links between sign
// interpretations. More than one outgoing link expresses alternative
// continuations (variant readings); more than one incoming link expresses
// alternatives converging back into a single reading.
//
// Nodes live in an arena addressed by opaque NodeID values assigned by the
// persistence layer. Adjacency is kept as ordered slices so that path
// enumeration follows link insertion order and is reproducible.
//
// Thread Safety:
//
//	Graph holds no locks. Callers serialize mutations per scope and must
//	not read a Graph while another goroutine mutates it.
package graph

import (
	"slices"
)

// NodeID identifies a node within a scope. Zero is never a valid id.
type NodeID uint64

// Edge is a directed "next" link.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// NodeSet is an unordered set of node ids.
type NodeSet map[NodeID]struct{}

// Has reports whether id is in the set.
func (s NodeSet) Has(id NodeID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s NodeSet) Sorted() []NodeID {
	out := make([]NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Topology is the read-only view the path engine works on.
type Topology interface {
	// Has reports whether the node exists.
	Has(id NodeID) bool

	// Nodes returns every node id in ascending order.
	Nodes() []NodeID

	// Successors returns the outgoing neighbours of id in insertion order.
	Successors(id NodeID) []NodeID

	// InDegree returns the number of incoming links of id.
	InDegree(id NodeID) int
}

// Graph is a mutable stream graph for one scope.
type Graph struct {
	out map[NodeID][]NodeID
	in  map[NodeID][]NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		out: make(map[NodeID][]NodeID),
		in:  make(map[NodeID][]NodeID),
	}
}

// FromEdges builds a graph from a node list and an ordered edge list.
//
// Description:
//
//	Every id in nodes becomes a node, so isolated nodes survive. Edge
//	endpoints missing from nodes are added implicitly. Edges are inserted
//	in slice order, which becomes the out-list order.
//
// Outputs:
//
//	*Graph - The graph.
//	error - ErrCorruptGraph if the edge list holds a zero id, a self loop,
//	        a duplicate edge or a cycle.
func FromEdges(nodes []NodeID, edges []Edge) (*Graph, error) {
	g := New()
	for _, id := range nodes {
		if id == 0 {
			return nil, Corrupt("load", "zero node id")
		}
		g.ensure(id)
	}
	for _, e := range edges {
		if e.From == 0 || e.To == 0 {
			return nil, Corrupt("load", "zero node id in edge", e.From, e.To)
		}
		if e.From == e.To {
			return nil, Corrupt("load", "self loop", e.From)
		}
		g.ensure(e.From)
		g.ensure(e.To)
		if slices.Contains(g.out[e.From], e.To) {
			return nil, Corrupt("load", "duplicate edge", e.From, e.To)
		}
		g.out[e.From] = append(g.out[e.From], e.To)
		g.in[e.To] = append(g.in[e.To], e.From)
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// FromAdjacency builds a graph from per-node ordered successor lists, the
// shape the persistence layer stores.
func FromAdjacency(nodes []NodeID, adjacency map[NodeID][]NodeID) (*Graph, error) {
	froms := make([]NodeID, 0, len(adjacency))
	for from := range adjacency {
		froms = append(froms, from)
	}
	slices.Sort(froms)

	var edges []Edge
	for _, from := range froms {
		for _, to := range adjacency[from] {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return FromEdges(nodes, edges)
}

func (g *Graph) ensure(id NodeID) {
	if _, ok := g.out[id]; !ok {
		g.out[id] = nil
		g.in[id] = nil
	}
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.out[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.out)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, succ := range g.out {
		n += len(succ)
	}
	return n
}

// Nodes returns all node ids in ascending order.
func (g *Graph) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(g.out))
	for id := range g.out {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Successors returns a copy of id's out-list in insertion order.
func (g *Graph) Successors(id NodeID) []NodeID {
	return slices.Clone(g.out[id])
}

// Predecessors returns a copy of id's in-list.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	return slices.Clone(g.in[id])
}

// InDegree returns the number of incoming links.
func (g *Graph) InDegree(id NodeID) int {
	return len(g.in[id])
}

// OutDegree returns the number of outgoing links.
func (g *Graph) OutDegree(id NodeID) int {
	return len(g.out[id])
}

// HasEdge reports whether the link u→v exists.
func (g *Graph) HasEdge(u, v NodeID) bool {
	return slices.Contains(g.out[u], v)
}

// Edges returns every edge, grouped by source in ascending id order and
// by out-list order within a source.
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, g.EdgeCount())
	for _, from := range g.Nodes() {
		for _, to := range g.out[from] {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// Adjacency returns a copy of the ordered successor lists of every node
// that has at least one outgoing link.
func (g *Graph) Adjacency() map[NodeID][]NodeID {
	adj := make(map[NodeID][]NodeID)
	for id, succ := range g.out {
		if len(succ) > 0 {
			adj[id] = slices.Clone(succ)
		}
	}
	return adj
}

// Clone returns a deep copy. Mutations are applied to clones so a failed
// commit never leaves the cached graph half-applied.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		out: make(map[NodeID][]NodeID, len(g.out)),
		in:  make(map[NodeID][]NodeID, len(g.in)),
	}
	for id, succ := range g.out {
		c.out[id] = slices.Clone(succ)
	}
	for id, pred := range g.in {
		c.in[id] = slices.Clone(pred)
	}
	return c
}

// checkAcyclic runs Kahn's algorithm over the whole graph.
func (g *Graph) checkAcyclic() error {
	indeg := make(map[NodeID]int, len(g.in))
	queue := make([]NodeID, 0)
	for _, id := range g.Nodes() {
		indeg[id] = len(g.in[id])
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, s := range g.out[id] {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if visited != len(g.out) {
		var stuck []NodeID
		for _, id := range g.Nodes() {
			if indeg[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return Corrupt("load", "edge set contains a cycle", stuck...)
	}
	return nil
}
