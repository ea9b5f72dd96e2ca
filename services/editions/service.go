// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editions is the edition editing service: the sign
// interpretation stream of every edition, the ordering of its fragments
// and lines, and the attribute catalog, exposed over HTTP.
//
// The service exposes endpoints for:
//   - Creating, updating and deleting sign interpretations
//   - Linking interpretations into alternative reading paths
//   - Enumerating roots and reading paths
//   - Ordering fragments and lines
//   - Defining the attributes signs may carry
package editions

import (
	"context"
	"log/slog"
	"time"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/cache"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/geometry"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/lock"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/observability"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/realtime"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// ServiceVersion is the editions service version.
const ServiceVersion = "0.3.0"

// ServiceConfig configures the editions service.
type ServiceConfig struct {
	// CacheCapacity is the number of scopes kept in memory per scope
	// type. Default: 256
	CacheCapacity int `yaml:"cache_capacity" toml:"cache_capacity" validate:"gte=1"`
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{CacheCapacity: 256}
}

// Service implements the edition operations.
//
// Description:
//
//	Every mutation takes the edition's write lock, applies the change to
//	a clone of the cached scope, commits the resulting delta in one store
//	transaction, swaps the clone into the cache and publishes an event.
//	A rejected or failed mutation leaves both the cache and the store as
//	they were. Queries take the read lock.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg   ServiceConfig
	store storage.Store
	locks *lock.ScopeLocks

	streams   *cache.ScopeCache[*streamState]
	sequences *cache.ScopeCache[*sequenceState]
	catalogs  *cache.ScopeCache[*catalogState]

	authz   Authorizer
	geom    geometry.Validator
	events  realtime.Broadcaster
	metrics *observability.Metrics
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithAuthorizer sets the access check. Default: AllowAll.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) { s.authz = a }
}

// WithBroadcaster sets where change events go. Default: discarded.
func WithBroadcaster(b realtime.Broadcaster) Option {
	return func(s *Service) { s.events = b }
}

// WithGeometry sets the region validator. Default: geometry.RingValidator.
func WithGeometry(v geometry.Validator) Option {
	return func(s *Service) { s.geom = v }
}

// WithMetrics sets the Prometheus metrics. Default: none.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the service on top of store. The caller owns store
// and closes it after the service is no longer used.
func NewService(store storage.Store, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultServiceConfig().CacheCapacity
	}
	s := &Service{
		cfg:       cfg,
		store:     store,
		locks:     lock.NewScopeLocks(),
		streams:   cache.NewScopeCache[*streamState](cfg.CacheCapacity),
		sequences: cache.NewScopeCache[*sequenceState](cfg.CacheCapacity),
		catalogs:  cache.NewScopeCache[*catalogState](cfg.CacheCapacity),
		authz:     AllowAll{},
		geom:      geometry.NewRingValidator(),
		events:    realtime.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend names the storage backend.
func (s *Service) Backend() string {
	return s.store.Backend()
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CheckAccess verifies the caller in ctx may access edition at level need.
func (s *Service) CheckAccess(ctx context.Context, edition uint64, need Access) error {
	if edition == 0 {
		return graph.Invalid("check_access", "zero edition id")
	}
	return s.authz.Authorize(ctx, PrincipalFrom(ctx), edition, need)
}

// CacheStats reports the scope caches.
func (s *Service) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"stream":   s.streams.Stats(),
		"sequence": s.sequences.Stats(),
		"catalog":  s.catalogs.Stats(),
	}
}

// =============================================================================
// Operation plumbing
// =============================================================================

func (s *Service) write(ctx context.Context, op string, edition uint64, need Access, fn func(ctx context.Context) error) error {
	return s.run(ctx, op, edition, need, true, fn)
}

func (s *Service) read(ctx context.Context, op string, edition uint64, fn func(ctx context.Context) error) error {
	return s.run(ctx, op, edition, AccessRead, false, fn)
}

func (s *Service) run(ctx context.Context, op string, edition uint64, need Access, exclusive bool, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := startSpan(ctx, op, edition)

	err := func() error {
		if edition == 0 {
			return graph.Invalid(op, "zero edition id")
		}
		if err := s.authz.Authorize(ctx, PrincipalFrom(ctx), edition, need); err != nil {
			return err
		}
		if exclusive {
			defer s.locks.Lock(edition)()
		} else {
			defer s.locks.RLock(edition)()
		}
		return fn(ctx)
	}()

	if ErrorCode(err) == CodeCorruptState {
		slog.Error("edition state is corrupt",
			slog.String("op", op),
			slog.Uint64("edition_id", edition),
			slog.String("error", err.Error()))
	}
	s.finish(span, op, start, err)
	return err
}

// scope couples a scope cache with its decoder.
type scope[S scopeState[S]] struct {
	cache  *cache.ScopeCache[S]
	decode func(*storage.Snapshot) (S, error)
}

func (s *Service) streamScope() scope[*streamState] {
	return scope[*streamState]{cache: s.streams, decode: decodeStream}
}

func (s *Service) sequenceScope() scope[*sequenceState] {
	return scope[*sequenceState]{cache: s.sequences, decode: decodeSequence}
}

func (s *Service) catalogScope() scope[*catalogState] {
	return scope[*catalogState]{cache: s.catalogs, decode: decodeCatalog}
}

// load returns the cached scope state, loading it from the store on a
// miss. The caller holds the edition lock.
func load[S scopeState[S]](ctx context.Context, s *Service, sc scope[S], key storage.ScopeKey) (S, error) {
	missed := false
	st, err := sc.cache.GetOrLoad(ctx, key.String(), func(ctx context.Context) (S, error) {
		missed = true
		var zero S
		snap, err := s.store.LoadScope(ctx, key)
		if err != nil {
			return zero, err
		}
		st, err := sc.decode(snap)
		if err != nil {
			return zero, err
		}
		v, err := fingerprint(st)
		if err != nil {
			return zero, err
		}
		st.setVersion(v)
		return st, nil
	})
	if err == nil {
		s.metrics.RecordCacheLookup(!missed)
	}
	return st, err
}

// change describes what a mutation did beyond its topology.
type change struct {
	// touched lists nodes whose records must be rewritten.
	touched []graph.NodeID

	// drop lists whole scopes removed in the same transaction.
	drop []storage.ScopeKey

	event   string
	payload any
}

// mutate applies fn to a clone of the scope and commits the result. The
// caller holds the edition write lock.
func mutate[S scopeState[S]](ctx context.Context, s *Service, sc scope[S], key storage.ScopeKey, fn func(st S) (change, error)) (S, error) {
	var zero S
	before, err := load(ctx, s, sc, key)
	if err != nil {
		return zero, err
	}

	after := before.clone()
	ch, err := fn(after)
	if err != nil {
		return zero, err
	}

	records := make(map[graph.NodeID][]byte, len(ch.touched))
	for _, id := range ch.touched {
		if !after.topology().Has(id) {
			continue
		}
		rec, err := after.encode(id)
		if err != nil {
			return zero, err
		}
		records[id] = rec
	}
	version, err := fingerprint(after)
	if err != nil {
		return zero, err
	}
	after.setVersion(version)

	cs := &storage.ChangeSet{
		Changes: []storage.ScopeChange{storage.Diff(key, before.topology(), after.topology(), records)},
		Drop:    ch.drop,
	}
	if !cs.Empty() {
		if err := s.store.Commit(ctx, cs); err != nil {
			sc.cache.Invalidate(key.String())
			return zero, err
		}
	}
	sc.cache.Put(key.String(), after)
	recordScopeSize(ctx, key.Kind.String(), after.topology().Len())

	if ch.event != "" {
		s.events.Publish(realtime.Event{
			EditionID: key.Edition,
			Kind:      ch.event,
			Payload:   ch.payload,
			Version:   version,
			At:        s.now().UTC(),
		})
	}
	return after, nil
}

func (s *Service) user(ctx context.Context) string {
	return PrincipalFrom(ctx).UserID
}
