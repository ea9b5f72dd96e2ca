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
	"fmt"
	"strings"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
)

// Include selects optional sign data returned by queries.
type Include uint8

const (
	IncludeAttributes Include = 1 << iota
	IncludeCommentary
	IncludeRegions

	IncludeNone Include = 0
	IncludeAll          = IncludeAttributes | IncludeCommentary | IncludeRegions
)

// Has reports whether every flag in f is set.
func (i Include) Has(f Include) bool {
	return i&f == f
}

// ParseInclude parses a comma separated list such as
// "attributes,commentary". Empty input selects nothing.
func ParseInclude(s string) (Include, error) {
	var inc Include
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "":
		case "attributes":
			inc |= IncludeAttributes
		case "commentary":
			inc |= IncludeCommentary
		case "regions":
			inc |= IncludeRegions
		case "all":
			inc |= IncludeAll
		default:
			return 0, fmt.Errorf("include: %w: unknown option %q", graph.ErrInvalidInput, part)
		}
	}
	return inc, nil
}

// project returns a copy of si carrying only the selected optional data.
func project(si *overlay.SignInterpretation, inc Include) *overlay.SignInterpretation {
	out := si.Clone()
	if !inc.Has(IncludeAttributes) {
		out.Attributes = nil
	}
	if !inc.Has(IncludeCommentary) {
		out.Commentary = nil
		for i := range out.Attributes {
			out.Attributes[i].Commentary = nil
		}
	}
	if !inc.Has(IncludeRegions) {
		out.Regions = nil
	}
	return out
}
