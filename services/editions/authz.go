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
	"context"
	"fmt"
	"strings"
	"sync"
)

// Access is the level of access an action needs.
type Access int

const (
	// AccessRead allows queries.
	AccessRead Access = iota

	// AccessWrite allows mutations.
	AccessWrite

	// AccessAdmin allows changing the attribute catalog and deleting
	// fragments.
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessAdmin:
		return "admin"
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// ParseAccess parses "read", "write" or "admin".
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return AccessRead, nil
	case "write":
		return AccessWrite, nil
	case "admin":
		return AccessAdmin, nil
	}
	return AccessRead, fmt.Errorf("unknown access level %q", s)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored in ctx. The zero Principal is
// anonymous.
func PrincipalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// Authorizer decides whether a caller may act on an edition.
type Authorizer interface {
	// Authorize returns nil when allowed and an error wrapping
	// ErrPermissionDenied otherwise.
	Authorize(ctx context.Context, p Principal, edition uint64, need Access) error
}

// AllowAll permits everything.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, Principal, uint64, Access) error {
	return nil
}

// EditorList grants access per edition and user. Reading is open to
// everyone, including anonymous callers.
//
// Thread Safety: Safe for concurrent use.
type EditorList struct {
	mu      sync.RWMutex
	editors map[uint64]map[string]Access
}

// NewEditorList creates an empty list.
func NewEditorList() *EditorList {
	return &EditorList{editors: make(map[uint64]map[string]Access)}
}

// Grant gives user the access level on edition.
func (l *EditorList) Grant(edition uint64, user string, level Access) {
	l.mu.Lock()
	defer l.mu.Unlock()
	users := l.editors[edition]
	if users == nil {
		users = make(map[string]Access)
		l.editors[edition] = users
	}
	users[user] = level
}

// Revoke removes the user's access to edition.
func (l *EditorList) Revoke(edition uint64, user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.editors[edition], user)
}

// Authorize implements Authorizer.
func (l *EditorList) Authorize(_ context.Context, p Principal, edition uint64, need Access) error {
	if need == AccessRead {
		return nil
	}
	l.mu.RLock()
	level, ok := l.editors[edition][p.UserID]
	l.mu.RUnlock()
	if p.UserID == "" || !ok || level < need {
		return fmt.Errorf("%w: user %q lacks %s access to edition %d", ErrPermissionDenied, p.UserID, need, edition)
	}
	return nil
}
