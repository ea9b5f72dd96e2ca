// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

type pathsOptions struct {
	from  uint64
	json  bool
	nodes []uint64
}

type pathsOutput struct {
	Roots []graph.NodeID   `json:"roots"`
	Paths [][]graph.NodeID `json:"paths"`
}

func runPaths(cmd *cobra.Command, file string, opts pathsOptions) error {
	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	edges, err := parseEdges(r)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	nodes := make([]graph.NodeID, len(opts.nodes))
	for i, n := range opts.nodes {
		nodes[i] = graph.NodeID(n)
	}
	g, err := graph.FromEdges(nodes, edges)
	if err != nil {
		return err
	}

	out := pathsOutput{Roots: graph.Roots(g)}
	if opts.from != 0 {
		out.Paths, err = graph.AllPathsContext(cmd.Context(), g, graph.NodeID(opts.from))
	} else {
		out.Paths, err = graph.PathsFromRoots(cmd.Context(), g)
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "roots: %s\n", joinIDs(out.Roots))
	for _, p := range out.Paths {
		fmt.Fprintln(w, joinIDs(p))
	}
	return nil
}

func joinIDs(ids []graph.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, " ")
}

// parseEdges reads a JSON array of [from, to] pairs or whitespace
// separated pairs.
func parseEdges(r io.Reader) ([]graph.Edge, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pairs [][2]uint64
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, fmt.Errorf("parse JSON edge list: %w", err)
		}
		edges := make([]graph.Edge, len(pairs))
		for i, p := range pairs {
			edges[i] = graph.Edge{From: graph.NodeID(p[0]), To: graph.NodeID(p[1])}
		}
		return edges, nil
	}

	var (
		fields []string
		lineNo int
	)
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, f := range strings.Fields(line) {
			if _, err := strconv.ParseUint(f, 10, 64); err != nil {
				return nil, fmt.Errorf("line %d: %q is not a sign id", lineNo, f)
			}
			fields = append(fields, f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd number of ids (%d); edges need a from and a to", len(fields))
	}
	edges := make([]graph.Edge, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		from, _ := strconv.ParseUint(fields[i], 10, 64)
		to, _ := strconv.ParseUint(fields[i+1], 10, 64)
		edges = append(edges, graph.Edge{From: graph.NodeID(from), To: graph.NodeID(to)})
	}
	return edges, nil
}
