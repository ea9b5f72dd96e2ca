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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseEdges(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []graph.Edge
		wantErr string
	}{
		{
			name:  "json pairs",
			input: `[[1,2],[1,3],[2,4]]`,
			want:  []graph.Edge{{From: 1, To: 2}, {From: 1, To: 3}, {From: 2, To: 4}},
		},
		{
			name:  "whitespace pairs with comments",
			input: "# scroll 4Q51\n1 2\n\n1 3 2 4\n",
			want:  []graph.Edge{{From: 1, To: 2}, {From: 1, To: 3}, {From: 2, To: 4}},
		},
		{name: "empty", input: "  \n", want: []graph.Edge{}},
		{name: "odd count", input: "1 2 3", wantErr: "odd number of ids"},
		{name: "not a number", input: "1 x", wantErr: `line 1: "x" is not a sign id`},
		{name: "bad json", input: `[[1,"a"]]`, wantErr: "parse JSON edge list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEdges(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathsCommand_Text(t *testing.T) {
	file := filepath.Join(t.TempDir(), "edges.txt")
	// Two readings diverge after 1 and rejoin at 4; 10 -> 11 is a second
	// component.
	require.NoError(t, os.WriteFile(file, []byte("1 2\n1 3\n2 4\n3 4\n10 11\n"), 0o600))

	out, err := execute(t, "", "paths", file)
	require.NoError(t, err)
	assert.Equal(t, "roots: 1 10\n1 2 4\n1 3 4\n10 11\n", out)

	out, err = execute(t, "", "paths", file, "--from", "3")
	require.NoError(t, err)
	assert.Equal(t, "roots: 1 10\n3 4\n", out)
}

func TestPathsCommand_JSONFromStdin(t *testing.T) {
	out, err := execute(t, `[[5,6]]`, "paths", "-", "--json", "--node", "9")
	require.NoError(t, err)

	var got pathsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []graph.NodeID{5, 9}, got.Roots)
	assert.Equal(t, [][]graph.NodeID{{5, 6}, {9}}, got.Paths)
}

func TestPathsCommand_Errors(t *testing.T) {
	_, err := execute(t, "1 2 2 1", "paths", "-")
	assert.ErrorIs(t, err, graph.ErrCorruptGraph)

	_, err = execute(t, "1 2", "paths", "-", "--from", "7")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = execute(t, "", "paths", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = execute(t, "", "paths")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "sqe "+editions.ServiceVersion+"\n", out)

	_, err = execute(t, "", "version", "--require", "v0.1")
	assert.NoError(t, err)

	_, err = execute(t, "", "version", "--require", "v99.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older than required v99.0.0")

	_, err = execute(t, "", "version", "--require", "latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqe.toml")

	out, err := execute(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "", "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	yamlPath := filepath.Join(t.TempDir(), "sqe.yaml")
	_, err = execute(t, "", "config", "init", yamlPath)
	require.NoError(t, err)
	out, err = execute(t, "", "config", "check", "--config", yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Configuration OK (backend badger, port 12310)\n", out)

	_, err = execute(t, "", "--config", filepath.Join(t.TempDir(), "sqe.ini"), "config", "check")
	assert.Error(t, err)
}
