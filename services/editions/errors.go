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
	"errors"
	"net/http"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/geometry"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// Sentinel errors for the editions service. Structural errors come from
// the graph package and are shared by every layer.
var (
	// ErrPermissionDenied indicates the caller may not perform the action
	// on the edition.
	ErrPermissionDenied = errors.New("permission denied")
)

// Error codes returned to clients.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeStructuralConflict = "STRUCTURAL_CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeTransientStorage   = "TRANSIENT_STORAGE"
	CodeCorruptState       = "CORRUPT_STATE"
	CodeInternal           = "INTERNAL"
)

// ErrorCode classifies err into one of the client error codes.
func ErrorCode(err error) string {
	var invalidGeometry *geometry.InvalidError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, graph.ErrCorruptGraph):
		return CodeCorruptState
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, graph.ErrInvalidInput), errors.As(err, &invalidGeometry):
		return CodeInvalidInput
	case errors.Is(err, graph.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, graph.ErrStructuralConflict):
		return CodeStructuralConflict
	case errors.Is(err, storage.ErrTransient), errors.Is(err, resilience.ErrCircuitOpen):
		return CodeTransientStorage
	}
	return CodeInternal
}

// HTTPStatus maps an error code to its response status.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeStructuralConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeTransientStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
