// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geometry validates the WKT polygons that place sign
// interpretations on artefact images.
package geometry

import (
	"context"
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Result is the outcome of a successful validation.
type Result struct {
	// WKT is the input unchanged, or the repaired polygon text.
	WKT string

	// Repaired is true when WKT is not the input.
	Repaired bool
}

// InvalidError reports a polygon that could not be accepted or repaired.
type InvalidError struct {
	Value  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid polygon: %s", e.Reason)
}

// Validator checks and, where possible, repairs polygons.
type Validator interface {
	Validate(ctx context.Context, wkt string) (Result, error)
}

// RingValidator accepts two dimensional POLYGON and MULTIPOLYGON text.
//
// Repairs: unclosed rings are closed by repeating the first point and
// repeated consecutive points are dropped. Rings with fewer than three
// distinct points, zero area or crossing edges are rejected.
type RingValidator struct{}

// NewRingValidator returns the default validator.
func NewRingValidator() *RingValidator {
	return &RingValidator{}
}

// Validate implements Validator.
func (v *RingValidator) Validate(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	invalid := func(reason string) (Result, error) {
		return Result{}, &InvalidError{Value: text, Reason: reason}
	}

	g, err := wkt.Unmarshal(strings.ToUpper(strings.TrimSpace(text)))
	if err != nil {
		return invalid(err.Error())
	}
	if g.Layout() != geom.XY {
		return invalid("coordinates must be two dimensional")
	}

	var (
		out      geom.T
		repaired bool
	)
	switch t := g.(type) {
	case *geom.Polygon:
		coords, fixed, err := checkPolygon(t.Coords())
		if err != nil {
			return invalid(err.Error())
		}
		if fixed {
			if out, err = geom.NewPolygon(geom.XY).SetCoords(coords); err != nil {
				return invalid(err.Error())
			}
			repaired = true
		}
	case *geom.MultiPolygon:
		polys := t.Coords()
		if len(polys) == 0 {
			return invalid("multipolygon has no polygons")
		}
		for i, poly := range polys {
			coords, fixed, err := checkPolygon(poly)
			if err != nil {
				return invalid(fmt.Sprintf("polygon %d: %v", i+1, err))
			}
			polys[i] = coords
			repaired = repaired || fixed
		}
		if repaired {
			if out, err = geom.NewMultiPolygon(geom.XY).SetCoords(polys); err != nil {
				return invalid(err.Error())
			}
		}
	default:
		return invalid("expected POLYGON or MULTIPOLYGON")
	}

	if !repaired {
		return Result{WKT: text}, nil
	}
	encoded, err := wkt.Marshal(out)
	if err != nil {
		return Result{}, fmt.Errorf("encode repaired polygon: %w", err)
	}
	return Result{WKT: encoded, Repaired: true}, nil
}

// checkPolygon repairs and checks every ring of one polygon.
func checkPolygon(rings [][]geom.Coord) ([][]geom.Coord, bool, error) {
	if len(rings) == 0 {
		return nil, false, fmt.Errorf("polygon has no rings")
	}
	repaired := false
	for i, ring := range rings {
		fixed, changed := repairRing(ring)
		if len(fixed) < 4 || distinct(fixed) < 3 {
			return nil, false, fmt.Errorf("ring %d needs at least three distinct points", i+1)
		}
		if a, b, ok := crossing(fixed); ok {
			return nil, false, fmt.Errorf("ring %d intersects itself between edges %d and %d", i+1, a+1, b+1)
		}
		if geom.NewLinearRing(geom.XY).MustSetCoords(fixed).Area() == 0 {
			return nil, false, fmt.Errorf("ring %d has zero area", i+1)
		}
		rings[i] = fixed
		repaired = repaired || changed
	}
	return rings, repaired, nil
}

// repairRing drops repeated consecutive points and closes the ring.
func repairRing(ring []geom.Coord) ([]geom.Coord, bool) {
	out := make([]geom.Coord, 0, len(ring)+1)
	changed := false
	for _, c := range ring {
		if len(out) > 0 && same(out[len(out)-1], c) {
			changed = true
			continue
		}
		out = append(out, c)
	}
	if len(out) > 0 && !same(out[0], out[len(out)-1]) {
		out = append(out, out[0])
		changed = true
	}
	// A ring that collapsed to one point was closed onto itself.
	if len(out) == 1 {
		out = append(out, out[0])
	}
	return out, changed
}

func same(a, b geom.Coord) bool {
	return a.X() == b.X() && a.Y() == b.Y()
}

// distinct counts the points of a closed ring, excluding the closing one.
func distinct(ring []geom.Coord) int {
	seen := make(map[[2]float64]struct{}, len(ring))
	for _, c := range ring[:len(ring)-1] {
		seen[[2]float64{c.X(), c.Y()}] = struct{}{}
	}
	return len(seen)
}

// crossing reports the first pair of non-adjacent edges of a closed ring
// that touch or cross.
func crossing(ring []geom.Coord) (int, int, bool) {
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsMeet(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func segmentsMeet(p1, p2, q1, q2 geom.Coord) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && within(q1, q2, p1)) ||
		(d2 == 0 && within(q1, q2, p2)) ||
		(d3 == 0 && within(p1, p2, q1)) ||
		(d4 == 0 && within(p1, p2, q2))
}

// orient is the cross product (b-a)x(c-a).
func orient(a, b, c geom.Coord) float64 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}

// within reports whether c, collinear with a and b, lies on segment ab.
func within(a, b, c geom.Coord) bool {
	return min(a.X(), b.X()) <= c.X() && c.X() <= max(a.X(), b.X()) &&
		min(a.Y(), b.Y()) <= c.Y() && c.Y() <= max(a.Y(), b.Y())
}
