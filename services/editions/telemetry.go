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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for edition operations.
var (
	tracer = otel.Tracer("sqe.editions")
	meter  = otel.Meter("sqe.editions")
)

var (
	pathsEnumerated metric.Int64Histogram
	scopeSize       metric.Int64Histogram

	otelOnce sync.Once
	otelErr  error
)

// initOtelMetrics initializes the instruments. Safe to call multiple times.
func initOtelMetrics() error {
	otelOnce.Do(func() {
		var err error

		pathsEnumerated, err = meter.Int64Histogram(
			"sqe_stream_paths_enumerated",
			metric.WithDescription("Number of reading paths returned per path query"),
		)
		if err != nil {
			otelErr = err
			return
		}

		scopeSize, err = meter.Int64Histogram(
			"sqe_scope_nodes",
			metric.WithDescription("Number of nodes in a scope after a mutation"),
		)
		if err != nil {
			otelErr = err
			return
		}
	})
	return otelErr
}

func startSpan(ctx context.Context, op string, edition uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "editions."+op,
		trace.WithAttributes(
			attribute.String("sqe.operation", op),
			attribute.Int64("sqe.edition_id", int64(edition)),
		))
}

// finish ends the span and records the outcome in both the span and the
// Prometheus metrics.
func (s *Service) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
	s.metrics.RecordOperation(op, outcome, time.Since(start))
}

func recordPaths(ctx context.Context, kind string, n int) {
	if err := initOtelMetrics(); err != nil {
		return
	}
	pathsEnumerated.Record(ctx, int64(n), metric.WithAttributes(attribute.String("query", kind)))
}

func recordScopeSize(ctx context.Context, scope string, n int) {
	if err := initOtelMetrics(); err != nil {
		return
	}
	scopeSize.Record(ctx, int64(n), metric.WithAttributes(attribute.String("scope", scope)))
}
