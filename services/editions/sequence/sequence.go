// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sequence orders text fragments and lines.
//
// A sequence is a stream graph restricted to a single chain: every element
// has at most one predecessor and at most one successor. Elements are
// positioned relative to anchors rather than by index, so concurrent
// editors never fight over numeric positions.
package sequence

import (
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

// NoAnchor marks an absent previous or next anchor.
const NoAnchor graph.NodeID = 0

// Sequence is an ordered chain of elements.
//
// Thread Safety:
//
//	Not safe for concurrent use. Callers hold the scope lock.
type Sequence struct {
	g *graph.Graph
}

// New wraps g after checking that it is a chain shape.
//
// Outputs:
//
//	*Sequence - The sequence. It owns g from now on.
//	error - CORRUPT_STATE if any element has more than one neighbour on a side.
func New(g *graph.Graph) (*Sequence, error) {
	for _, id := range g.Nodes() {
		if g.InDegree(id) > 1 || g.OutDegree(id) > 1 {
			return nil, graph.Corrupt("sequence", "element has more than one neighbour", id)
		}
	}
	return &Sequence{g: g}, nil
}

// FromOrder builds a sequence from ids in order.
func FromOrder(ids ...graph.NodeID) (*Sequence, error) {
	var edges []graph.Edge
	for i := 1; i < len(ids); i++ {
		edges = append(edges, graph.Edge{From: ids[i-1], To: ids[i]})
	}
	g, err := graph.FromEdges(ids, edges)
	if err != nil {
		return nil, err
	}
	return New(g)
}

// Graph returns the underlying chain. Callers must not mutate it.
func (s *Sequence) Graph() *graph.Graph {
	return s.g
}

// Len returns the number of elements.
func (s *Sequence) Len() int {
	return s.g.Len()
}

// Has reports whether id is an element.
func (s *Sequence) Has(id graph.NodeID) bool {
	return s.g.Has(id)
}

// Clone returns an independent copy.
func (s *Sequence) Clone() *Sequence {
	return &Sequence{g: s.g.Clone()}
}

// InsertBetween places a new element relative to its anchors.
//
// Description:
//
//	With both anchors, previous must link directly to next and the element
//	is spliced between them. With only previous, the element takes over
//	previous's old successor. With only next, it takes over next's old
//	predecessor. With neither, it is appended after the tail, or becomes
//	the only element of an empty sequence. Nothing changes on error.
//
// Inputs:
//
//	id - The new element.
//	previous - Element that should precede id, or NoAnchor.
//	next - Element that should follow id, or NoAnchor.
//
// Outputs:
//
//	error - INVALID_INPUT, NOT_FOUND or STRUCTURAL_CONFLICT.
func (s *Sequence) InsertBetween(id, previous, next graph.NodeID) error {
	const op = "insert_between"
	if id == NoAnchor {
		return graph.Invalid(op, "zero element id")
	}
	if s.g.Has(id) {
		return graph.Invalid(op, "element already exists", id)
	}
	return s.apply(func(g *graph.Graph) error {
		return insert(op, g, id, previous, next)
	})
}

// MoveBetween detaches id, reconnects its old neighbours and re-inserts it
// between the given anchors under the InsertBetween rules.
func (s *Sequence) MoveBetween(id, previous, next graph.NodeID) error {
	const op = "move_between"
	if id == NoAnchor {
		return graph.Invalid(op, "zero element id")
	}
	if previous == id || next == id {
		return graph.Invalid(op, "element cannot be its own anchor", id)
	}
	if !s.g.Has(id) {
		return graph.NotFound(op, "unknown element", id)
	}
	return s.apply(func(g *graph.Graph) error {
		if err := g.DeleteNode(id); err != nil {
			return err
		}
		return insert(op, g, id, previous, next)
	})
}

// Remove detaches id and links its former neighbours to each other.
func (s *Sequence) Remove(id graph.NodeID) error {
	if !s.g.Has(id) {
		return graph.NotFound("remove", "unknown element", id)
	}
	return s.apply(func(g *graph.Graph) error {
		return g.DeleteNode(id)
	})
}

// Linearize returns the elements from head to tail.
//
// Outputs:
//
//	[]graph.NodeID - The order. Empty for an empty sequence.
//	error - CORRUPT_STATE if the elements form more than one chain.
func (s *Sequence) Linearize() ([]graph.NodeID, error) {
	if s.g.Len() == 0 {
		return []graph.NodeID{}, nil
	}
	roots := graph.Roots(s.g)
	if len(roots) != 1 {
		return nil, graph.Corrupt("linearize", "sequence has more than one chain", roots...)
	}

	order := make([]graph.NodeID, 0, s.g.Len())
	for cur := roots[0]; ; {
		order = append(order, cur)
		succ := s.g.Successors(cur)
		if len(succ) == 0 {
			break
		}
		cur = succ[0]
	}
	if len(order) != s.g.Len() {
		return nil, graph.Corrupt("linearize", "elements unreachable from head")
	}
	return order, nil
}

// apply runs fn against a clone and keeps the clone only on success.
func (s *Sequence) apply(fn func(g *graph.Graph) error) error {
	work := s.g.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.g = work
	return nil
}

func insert(op string, g *graph.Graph, id, previous, next graph.NodeID) error {
	var missing []graph.NodeID
	for _, a := range []graph.NodeID{previous, next} {
		if a != NoAnchor && !g.Has(a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return graph.NotFound(op, "unknown anchor", missing...)
	}
	if previous != NoAnchor && previous == next {
		return graph.Invalid(op, "previous and next are the same element", previous)
	}

	switch {
	case previous != NoAnchor && next != NoAnchor:
		if !g.HasEdge(previous, next) {
			return graph.Conflict(op, "anchors are not adjacent", previous, next)
		}
		return splice(g, id, previous, next)

	case previous != NoAnchor:
		if succ := g.Successors(previous); len(succ) == 1 {
			return splice(g, id, previous, succ[0])
		}
		return g.InsertNode(id, []graph.NodeID{previous}, nil)

	case next != NoAnchor:
		if pred := g.Predecessors(next); len(pred) == 1 {
			return splice(g, id, pred[0], next)
		}
		return g.InsertNode(id, nil, []graph.NodeID{next})

	default:
		tail, err := tailOf(g)
		if err != nil {
			return err
		}
		if tail == NoAnchor {
			return g.AddNode(id)
		}
		return g.InsertNode(id, []graph.NodeID{tail}, nil)
	}
}

func splice(g *graph.Graph, id, previous, next graph.NodeID) error {
	if err := g.RemoveLink(previous, next); err != nil {
		return err
	}
	return g.InsertNode(id, []graph.NodeID{previous}, []graph.NodeID{next})
}

func tailOf(g *graph.Graph) (graph.NodeID, error) {
	var tails []graph.NodeID
	for _, id := range g.Nodes() {
		if g.OutDegree(id) == 0 {
			tails = append(tails, id)
		}
	}
	switch len(tails) {
	case 0:
		if g.Len() > 0 {
			return NoAnchor, graph.Corrupt("append", "sequence has no tail")
		}
		return NoAnchor, nil
	case 1:
		return tails[0], nil
	default:
		return NoAnchor, graph.Corrupt("append", "sequence has more than one tail", tails...)
	}
}
