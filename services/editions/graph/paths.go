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
	"context"
	"slices"
)

// cancelCheckInterval is how many DFS steps run between context checks.
const cancelCheckInterval = 1024

// Roots returns every node without incoming links, in ascending id order.
// An empty graph has no roots.
func Roots(t Topology) []NodeID {
	var roots []NodeID
	for _, id := range t.Nodes() {
		if t.InDegree(id) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Reachable returns every node reachable from `from`, including `from`
// itself. Shared descendants are visited once.
func Reachable(t Topology, from NodeID) NodeSet {
	seen := make(NodeSet)
	if !t.Has(from) {
		return seen
	}
	stack := []NodeID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen.Has(id) {
			continue
		}
		seen[id] = struct{}{}
		for _, s := range t.Successors(id) {
			if !seen.Has(s) {
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// AllPaths enumerates every maximal path starting at from.
//
// Description:
//
//	A maximal path ends at a node with no outgoing links. Branches are
//	explored depth first in out-list order, so the result is deterministic
//	for a given link history. The number of paths can grow exponentially
//	with the number of variant branches.
//
// Inputs:
//
//	t - The graph to walk.
//	from - The start node.
//
// Outputs:
//
//	[][]NodeID - Paths in enumeration order. Each path starts with from.
//	error - NOT_FOUND if from is unknown, CORRUPT_STATE if a cycle is met.
func AllPaths(t Topology, from NodeID) ([][]NodeID, error) {
	return AllPathsContext(context.Background(), t, from)
}

// AllPathsContext is AllPaths with cancellation.
func AllPathsContext(ctx context.Context, t Topology, from NodeID) ([][]NodeID, error) {
	if !t.Has(from) {
		return nil, NotFound("all_paths", "unknown start node", from)
	}

	type frame struct {
		id   NodeID
		succ []NodeID
		next int
	}

	var paths [][]NodeID
	path := []NodeID{from}
	onPath := NodeSet{from: {}}
	stack := []frame{{id: from, succ: t.Successors(from)}}

	steps := 0
	for len(stack) > 0 {
		steps++
		if steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		top := &stack[len(stack)-1]
		if len(top.succ) == 0 {
			paths = append(paths, slices.Clone(path))
		}
		if top.next >= len(top.succ) {
			delete(onPath, top.id)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
			continue
		}

		s := top.succ[top.next]
		top.next++
		if onPath.Has(s) {
			return nil, Corrupt("all_paths", "cycle on current path", s)
		}
		onPath[s] = struct{}{}
		path = append(path, s)
		stack = append(stack, frame{id: s, succ: t.Successors(s)})
	}
	return paths, nil
}

// PathsFromRoots enumerates the paths of every root in ascending root
// order. Disconnected components each contribute their own paths.
func PathsFromRoots(ctx context.Context, t Topology) ([][]NodeID, error) {
	var all [][]NodeID
	for _, r := range Roots(t) {
		paths, err := AllPathsContext(ctx, t, r)
		if err != nil {
			return nil, err
		}
		all = append(all, paths...)
	}
	return all, nil
}

// ChangedSuccessors returns the out-lists that differ between before and
// after. A node present in before but absent or without successors in
// after maps to an empty slice, which persistence treats as a delete.
func ChangedSuccessors(before, after *Graph) map[NodeID][]NodeID {
	changed := make(map[NodeID][]NodeID)
	for id, succ := range after.out {
		if !slices.Equal(before.out[id], succ) {
			changed[id] = slices.Clone(succ)
		}
	}
	for id, succ := range before.out {
		if _, ok := after.out[id]; !ok && len(succ) > 0 {
			changed[id] = []NodeID{}
		}
	}
	for id, succ := range changed {
		if succ == nil {
			changed[id] = []NodeID{}
		}
	}
	return changed
}
