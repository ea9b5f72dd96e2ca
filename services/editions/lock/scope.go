// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serializes edits to an edition.
//
// ScopeLocks orders writers within one process. DirLock keeps a second
// process from opening the same storage directory.
package lock

import (
	"sync"
)

// ScopeLocks hands out one RWMutex per edition.
//
// Description:
//
//	Structural and overlay mutations take the write lock, so they apply
//	one at a time in arrival order. Queries take the read lock and never
//	see a half-applied change. Locks are created on first use and kept for
//	the life of the process; the map grows with the number of editions
//	touched, not with traffic.
//
// Thread Safety: Safe for concurrent use.
type ScopeLocks struct {
	locks sync.Map // map[uint64]*sync.RWMutex
}

// NewScopeLocks returns an empty lock table.
func NewScopeLocks() *ScopeLocks {
	return &ScopeLocks{}
}

func (s *ScopeLocks) get(edition uint64) *sync.RWMutex {
	if mu, ok := s.locks.Load(edition); ok {
		return mu.(*sync.RWMutex)
	}
	mu, _ := s.locks.LoadOrStore(edition, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// Lock takes the write lock for edition and returns its release func.
func (s *ScopeLocks) Lock(edition uint64) func() {
	mu := s.get(edition)
	mu.Lock()
	return mu.Unlock
}

// RLock takes the read lock for edition and returns its release func.
func (s *ScopeLocks) RLock(edition uint64) func() {
	mu := s.get(edition)
	mu.RLock()
	return mu.RUnlock
}
