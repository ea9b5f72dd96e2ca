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
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/cache"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
)

// =============================================================================
// Service inputs
// =============================================================================

// NewSign describes a sign interpretation to create. Previous and Next
// name the neighbours it is linked between; either may be empty.
type NewSign struct {
	SignID     uint64                        `json:"sign_id"`
	Character  string                        `json:"character"`
	IsVariant  bool                          `json:"is_variant"`
	Commentary *string                       `json:"commentary,omitempty"`
	Attributes []overlay.AttributeAttachment `json:"attributes,omitempty"`
	Previous   []graph.NodeID                `json:"previous,omitempty"`
	Next       []graph.NodeID                `json:"next,omitempty"`
}

// =============================================================================
// Results
// =============================================================================

// SignResult is a sign interpretation with its links.
type SignResult struct {
	Sign     *overlay.SignInterpretation `json:"sign"`
	Previous []graph.NodeID              `json:"previous"`
	Next     []graph.NodeID              `json:"next"`
	Version  string                      `json:"version"`
}

// VersionResult is returned by mutations that have nothing else to report.
type VersionResult struct {
	Version string `json:"version"`
}

// RootsResult lists the entry points of an edition's stream.
type RootsResult struct {
	Roots   []graph.NodeID `json:"roots"`
	Version string         `json:"version"`
}

// PathsResult lists reading paths in exploration order.
type PathsResult struct {
	Paths   [][]*overlay.SignInterpretation `json:"paths"`
	Version string                          `json:"version"`
}

// AttributeResult is one catalog entry.
type AttributeResult struct {
	Attribute overlay.Attribute `json:"attribute"`
	Version   string            `json:"version"`
}

// AttributesResult lists the catalog.
type AttributesResult struct {
	Attributes []overlay.Attribute `json:"attributes"`
	Version    string              `json:"version"`
}

// ElementResult is one fragment or line.
type ElementResult struct {
	Element Element `json:"element"`
	Version string  `json:"version"`
}

// ElementsResult lists fragments or lines in order.
type ElementsResult struct {
	Elements []Element `json:"elements"`
	Version  string    `json:"version"`
}

// =============================================================================
// HTTP requests
// =============================================================================

// CommentaryRequest is the body of PUT .../commentary. A null or missing
// commentary clears it.
type CommentaryRequest struct {
	Commentary *string `json:"commentary"`
}

// AttributeRequest is the body of PUT .../attributes/:value_id.
type AttributeRequest struct {
	AttributeID uint64  `json:"attribute_id" binding:"required"`
	Sequence    *int    `json:"sequence,omitempty"`
	Commentary  *string `json:"commentary,omitempty"`
}

// RegionRequest is the body of POST .../regions.
type RegionRequest struct {
	ArtefactID uint64 `json:"artefact_id" binding:"required"`
	WKT        string `json:"wkt" binding:"required"`
}

// LinkRequest is the body of POST and DELETE /links.
type LinkRequest struct {
	From graph.NodeID `json:"from" binding:"required"`
	To   graph.NodeID `json:"to" binding:"required"`
}

// ElementRequest is the body of POST /fragments and POST .../lines.
type ElementRequest struct {
	Name     string       `json:"name" binding:"required"`
	Previous graph.NodeID `json:"previous,omitempty"`
	Next     graph.NodeID `json:"next,omitempty"`
}

// PositionRequest is the body of PUT .../position.
type PositionRequest struct {
	Previous graph.NodeID `json:"previous,omitempty"`
	Next     graph.NodeID `json:"next,omitempty"`
}

// =============================================================================
// Common responses
// =============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// IDs lists the nodes involved, when known.
	IDs []graph.NodeID `json:"ids,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready        bool                   `json:"ready"`
	Backend      string                 `json:"backend"`
	CircuitState string                 `json:"circuit_state,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Caches       map[string]cache.Stats `json:"caches,omitempty"`
}
