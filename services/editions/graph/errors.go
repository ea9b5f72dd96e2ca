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
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds shared by the graph, sequence and service layers.
//
// Callers classify with errors.Is; every error returned by this package
// wraps exactly one of them.
var (
	// ErrInvalidInput indicates a malformed request (zero id, self loop,
	// duplicate id, anchor equal to the moved element).
	ErrInvalidInput = errors.New("invalid input")

	// ErrStructuralConflict indicates the mutation would violate acyclicity
	// or the simple-path constraint of an ordered sequence.
	ErrStructuralConflict = errors.New("structural conflict")

	// ErrNotFound indicates a referenced node or edge is absent from the scope.
	ErrNotFound = errors.New("not found")

	// ErrCorruptGraph indicates an invariant that should always hold was
	// found violated. It is never retried.
	ErrCorruptGraph = errors.New("corrupt graph")
)

// Error describes a rejected operation and the ids that caused it.
type Error struct {
	// Op is the operation that failed, e.g. "link" or "insert_between".
	Op string

	// Kind is one of the sentinel errors above.
	Kind error

	// IDs lists the violating node ids in the order they were supplied.
	IDs []NodeID

	// Detail is a short human-readable reason.
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.IDs) > 0 {
		b.WriteString(" (ids ")
		for i, id := range e.IDs {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d", id)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the sentinel kind so errors.Is works.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(op string, kind error, detail string, ids ...NodeID) *Error {
	return &Error{Op: op, Kind: kind, IDs: ids, Detail: detail}
}

// Conflict builds a STRUCTURAL_CONFLICT error. Exported for the sequence
// adapter and service layer, which report conflicts in the same shape.
func Conflict(op, detail string, ids ...NodeID) error {
	return newError(op, ErrStructuralConflict, detail, ids...)
}

// NotFound builds a NOT_FOUND error naming the missing ids.
func NotFound(op, detail string, ids ...NodeID) error {
	return newError(op, ErrNotFound, detail, ids...)
}

// Invalid builds an INVALID_INPUT error.
func Invalid(op, detail string, ids ...NodeID) error {
	return newError(op, ErrInvalidInput, detail, ids...)
}

// Corrupt builds a CORRUPT_STATE error.
func Corrupt(op, detail string, ids ...NodeID) error {
	return newError(op, ErrCorruptGraph, detail, ids...)
}

// IDsOf extracts the violating ids from err, or nil if err carries none.
func IDsOf(err error) []NodeID {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.IDs
	}
	return nil
}
