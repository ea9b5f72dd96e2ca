// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"slices"
)

// AddNode adds an isolated node.
func (g *Graph) AddNode(id NodeID) error {
	if id == 0 {
		return Invalid("add_node", "zero node id")
	}
	if g.Has(id) {
		return Invalid("add_node", "node already exists", id)
	}
	g.ensure(id)
	return nil
}

// AddLink adds the link u→v if it keeps the graph acyclic.
//
// Description:
//
//	Returns false without touching the graph when u == v, when either
//	endpoint is unknown, when the link already exists, or when u is
//	reachable from v. On success v is appended to the end of u's out-list,
//	so it becomes the last alternative explored from u.
//
// Inputs:
//
//	u - Source node.
//	v - Target node.
//
// Outputs:
//
//	bool - True if the link was added.
func (g *Graph) AddLink(u, v NodeID) bool {
	return g.Link(u, v) == nil
}

// Link is AddLink with a typed reason for rejection.
func (g *Graph) Link(u, v NodeID) error {
	const op = "link"
	if u == 0 || v == 0 {
		return Invalid(op, "zero node id", u, v)
	}
	if u == v {
		return Invalid(op, "self loop", u)
	}
	var missing []NodeID
	for _, id := range []NodeID{u, v} {
		if !g.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return NotFound(op, "unknown node", missing...)
	}
	if g.HasEdge(u, v) {
		return Conflict(op, "link already exists", u, v)
	}
	if Reachable(g, v).Has(u) {
		return Conflict(op, "link would create a cycle", u, v)
	}
	g.out[u] = append(g.out[u], v)
	g.in[v] = append(g.in[v], u)
	return nil
}

// RemoveLink removes the link u→v.
func (g *Graph) RemoveLink(u, v NodeID) error {
	if !g.HasEdge(u, v) {
		return NotFound("unlink", "link does not exist", u, v)
	}
	g.unlink(u, v)
	return nil
}

func (g *Graph) unlink(u, v NodeID) {
	g.out[u] = slices.DeleteFunc(g.out[u], func(x NodeID) bool { return x == v })
	g.in[v] = slices.DeleteFunc(g.in[v], func(x NodeID) bool { return x == u })
}

// InsertNode adds id with links from every previous node and to every next
// node.
//
// Description:
//
//	Existing previous→next links are kept, so the new node becomes a
//	variant alongside them. Every check runs before anything is applied.
//
// Inputs:
//
//	id - The new node. Must be non-zero and absent from the graph.
//	previous - Predecessors of the new node. May be empty.
//	next - Successors of the new node. May be empty.
//
// Outputs:
//
//	error - INVALID_INPUT for a zero, duplicate or repeated id, NOT_FOUND
//	        for unknown anchors, STRUCTURAL_CONFLICT if some next node
//	        already reaches some previous node.
func (g *Graph) InsertNode(id NodeID, previous, next []NodeID) error {
	const op = "insert_node"
	if id == 0 {
		return Invalid(op, "zero node id")
	}
	if g.Has(id) {
		return Invalid(op, "node already exists", id)
	}
	if err := checkAnchors(op, previous); err != nil {
		return err
	}
	if err := checkAnchors(op, next); err != nil {
		return err
	}

	var missing []NodeID
	for _, a := range slices.Concat(previous, next) {
		if !g.Has(a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return NotFound(op, "unknown anchor", missing...)
	}

	for _, n := range next {
		if slices.Contains(previous, n) {
			return Conflict(op, "node is both previous and next", n)
		}
		reach := Reachable(g, n)
		for _, p := range previous {
			if reach.Has(p) {
				return Conflict(op, "splice would create a cycle", p, n)
			}
		}
	}

	g.ensure(id)
	for _, p := range previous {
		g.out[p] = append(g.out[p], id)
		g.in[id] = append(g.in[id], p)
	}
	for _, n := range next {
		g.out[id] = append(g.out[id], n)
		g.in[n] = append(g.in[n], id)
	}
	return nil
}

func checkAnchors(op string, ids []NodeID) error {
	seen := make(NodeSet, len(ids))
	for _, a := range ids {
		if a == 0 {
			return Invalid(op, "zero anchor id")
		}
		if seen.Has(a) {
			return Invalid(op, "anchor listed twice", a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

// DeleteNode removes id and reconnects every predecessor to every
// successor.
//
// Description:
//
//	In each predecessor's out-list the successors of id replace id at its
//	position, in id's out-list order. Successors already linked from that
//	predecessor are skipped. Reconnecting cannot create a cycle because
//	each new link shortcuts an existing path.
func (g *Graph) DeleteNode(id NodeID) error {
	if !g.Has(id) {
		return NotFound("delete_node", "unknown node", id)
	}
	succ := g.out[id]
	for _, p := range g.in[id] {
		var spliced []NodeID
		for _, x := range g.out[p] {
			if x != id {
				spliced = append(spliced, x)
				continue
			}
			for _, s := range succ {
				if slices.Contains(g.out[p], s) {
					continue
				}
				spliced = append(spliced, s)
				g.in[s] = append(g.in[s], p)
			}
		}
		g.out[p] = spliced
	}
	g.drop(id)
	return nil
}

// DetachNode removes id and its links without reconnecting, leaving a gap
// in every path that ran through it.
func (g *Graph) DetachNode(id NodeID) error {
	if !g.Has(id) {
		return NotFound("detach_node", "unknown node", id)
	}
	g.drop(id)
	return nil
}

func (g *Graph) drop(id NodeID) {
	for _, p := range g.in[id] {
		g.out[p] = slices.DeleteFunc(g.out[p], func(x NodeID) bool { return x == id })
	}
	for _, s := range g.out[id] {
		g.in[s] = slices.DeleteFunc(g.in[s], func(x NodeID) bool { return x == id })
	}
	delete(g.out, id)
	delete(g.in, id)
}
