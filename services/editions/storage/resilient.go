// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
)

// ObserveFunc receives the outcome of every store call.
type ObserveFunc func(op string, attempts int, elapsed time.Duration, err error)

// Resilient wraps a Store with retry and circuit breaking.
//
// Description:
//
//	Errors wrapping ErrRetryable are retried with backoff. Other backend
//	failures are counted by the breaker and surface as ErrTransient.
//	Domain errors and context cancellation pass through untouched and do
//	not count against the store.
//
// Thread Safety: Safe for concurrent use.
type Resilient struct {
	inner   Store
	policy  *resilience.Policy
	observe ObserveFunc
}

// ResilientOption customizes Resilient.
type ResilientOption func(*Resilient)

// WithObserver registers fn for every call.
func WithObserver(fn ObserveFunc) ResilientOption {
	return func(r *Resilient) { r.observe = fn }
}

// NewResilient wraps inner.
func NewResilient(inner Store, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker, opts ...ResilientOption) *Resilient {
	r := &Resilient{inner: inner}
	r.policy = resilience.NewPolicy(retry, breaker, Classify)
	r.policy.OnRetry(func(attempt int, err error) {
		slog.Warn("retrying storage call",
			slog.String("backend", inner.Backend()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify maps backend errors onto retry classes.
func Classify(err error) resilience.Class {
	switch {
	case errors.Is(err, ErrRetryable):
		return resilience.ClassRetryable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ClassPermanent
	case errors.Is(err, graph.ErrInvalidInput), errors.Is(err, graph.ErrNotFound),
		errors.Is(err, graph.ErrStructuralConflict), errors.Is(err, graph.ErrCorruptGraph):
		return resilience.ClassPermanent
	case errors.Is(err, ErrClosed):
		return resilience.ClassPermanent
	default:
		return resilience.ClassFailure
	}
}

// Breaker exposes the circuit breaker for readiness checks.
func (r *Resilient) Breaker() *resilience.CircuitBreaker {
	return r.policy.Breaker()
}

// Backend implements Store.
func (r *Resilient) Backend() string {
	return r.inner.Backend()
}

// LoadScope implements Store.
func (r *Resilient) LoadScope(ctx context.Context, key ScopeKey) (*Snapshot, error) {
	var snap *Snapshot
	err := r.do(ctx, "load_scope", func(ctx context.Context) error {
		var err error
		snap, err = r.inner.LoadScope(ctx, key)
		return err
	})
	return snap, err
}

// NextID implements Store.
func (r *Resilient) NextID(ctx context.Context) (graph.NodeID, error) {
	var id graph.NodeID
	err := r.do(ctx, "next_id", func(ctx context.Context) error {
		var err error
		id, err = r.inner.NextID(ctx)
		return err
	})
	return id, err
}

// Commit implements Store. A conflicting transaction is retried as a
// whole, which is safe because the change set is absolute, not relative.
func (r *Resilient) Commit(ctx context.Context, cs *ChangeSet) error {
	return r.do(ctx, "commit", func(ctx context.Context) error {
		return r.inner.Commit(ctx, cs)
	})
}

// Ping implements Store. It bypasses retry so readiness reflects the
// store's current state.
func (r *Resilient) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

// Close implements Store.
func (r *Resilient) Close() error {
	return r.inner.Close()
}

func (r *Resilient) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	res, err := r.policy.Do(ctx, func(ctx context.Context, _ int) error {
		return fn(ctx)
	})
	if r.observe != nil {
		r.observe(op, res.Attempts, res.TotalDuration, err)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	if Classify(err) == resilience.ClassPermanent {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}
