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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/geometry"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/realtime"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage/badger"
)

const testEdition = 42

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) last() realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, opts ...Option) (*Service, storage.Store) {
	t.Helper()
	store := newTestStore(t)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(store, DefaultServiceConfig(), opts...), store
}

// sign creates a sign interpretation and returns its id.
func sign(t *testing.T, svc *Service, char string, previous, next []graph.NodeID) graph.NodeID {
	t.Helper()
	res, err := svc.CreateSign(context.Background(), testEdition, NewSign{
		Character: char,
		Previous:  previous,
		Next:      next,
	})
	require.NoError(t, err)
	return res.Sign.ID
}

func ids(ns ...graph.NodeID) []graph.NodeID { return ns }

func pathChars(res *PathsResult) [][]string {
	out := make([][]string, len(res.Paths))
	for i, p := range res.Paths {
		for _, si := range p {
			out[i] = append(out[i], si.Character)
		}
	}
	return out
}

func TestService_CreateSignsAndVariants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := sign(t, svc, "ו", nil, nil)
	b := sign(t, svc, "י", ids(a), nil)
	c := sign(t, svc, "ה", ids(b), nil)

	// A variant between a and c sits alongside b.
	variant, err := svc.CreateSign(ctx, testEdition, NewSign{
		Character: "א",
		IsVariant: true,
		Previous:  ids(a),
		Next:      ids(c),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(a), variant.Previous)
	assert.Equal(t, ids(c), variant.Next)
	assert.Equal(t, fixedNow, variant.Sign.CreatedAt)
	assert.NotEmpty(t, variant.Version)

	roots, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, ids(a), roots.Roots)
	assert.Equal(t, variant.Version, roots.Version)

	paths, err := svc.Paths(ctx, testEdition, a, IncludeNone)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ו", "י", "ה"}, {"ו", "א", "ה"}}, pathChars(paths))

	all, err := svc.Paths(ctx, testEdition, 0, IncludeNone)
	require.NoError(t, err)
	assert.Equal(t, pathChars(paths), pathChars(all))
}

func TestService_CreateSignRejectsCycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := sign(t, svc, "a", nil, nil)
	b := sign(t, svc, "b", ids(a), nil)

	before, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)

	_, err = svc.CreateSign(ctx, testEdition, NewSign{Character: "x", Previous: ids(b), Next: ids(a)})
	require.ErrorIs(t, err, graph.ErrStructuralConflict)

	_, err = svc.CreateSign(ctx, testEdition, NewSign{Character: "x", Previous: ids(999)})
	require.ErrorIs(t, err, graph.ErrNotFound)

	after, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_LinkAndUnlink(t *testing.T) {
	rec := &recorder{}
	svc, _ := newTestService(t, WithBroadcaster(rec))
	ctx := context.Background()

	a := sign(t, svc, "a", nil, nil)
	b := sign(t, svc, "b", nil, nil)
	c := sign(t, svc, "c", nil, nil)

	res, err := svc.Link(ctx, testEdition, a, b)
	require.NoError(t, err)
	assert.Equal(t, "link_added", rec.last().Kind)
	assert.Equal(t, res.Version, rec.last().Version)
	assert.Equal(t, graph.Edge{From: a, To: b}, rec.last().Payload)

	_, err = svc.Link(ctx, testEdition, b, c)
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to graph.NodeID
		want     error
	}{
		{"self link", a, a, graph.ErrInvalidInput},
		{"duplicate", a, b, graph.ErrStructuralConflict},
		{"cycle", c, a, graph.ErrStructuralConflict},
		{"unknown", a, 777, graph.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := len(rec.kinds())
			_, err := svc.Link(ctx, testEdition, tt.from, tt.to)
			assert.ErrorIs(t, err, tt.want)
			assert.Len(t, rec.kinds(), events, "rejected links publish nothing")
		})
	}

	_, err = svc.Unlink(ctx, testEdition, a, b)
	require.NoError(t, err)
	_, err = svc.Unlink(ctx, testEdition, a, b)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	roots, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, ids(a, b), roots.Roots)
}

func TestService_DeleteSign(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := sign(t, svc, "a", nil, nil)
	b := sign(t, svc, "b", ids(a), nil)
	c := sign(t, svc, "c", ids(b), nil)
	d := sign(t, svc, "d", ids(c), nil)

	_, err := svc.DeleteSign(ctx, testEdition, b, false)
	require.NoError(t, err)
	paths, err := svc.Paths(ctx, testEdition, a, IncludeNone)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "c", "d"}}, pathChars(paths))

	_, err = svc.DeleteSign(ctx, testEdition, c, true)
	require.NoError(t, err)
	roots, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, ids(a, d), roots.Roots)

	_, err = svc.GetSign(ctx, testEdition, b, IncludeAll)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = svc.DeleteSign(ctx, testEdition, b, false)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestService_StatePersistsAcrossInstances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	clock := WithClock(func() time.Time { return fixedNow })

	first := NewService(store, DefaultServiceConfig(), clock)
	a := sign(t, first, "a", nil, nil)
	b := sign(t, first, "b", ids(a), nil)
	v := sign(t, first, "v", ids(a), nil)
	sign(t, first, "c", ids(b, v), nil)
	_, err := first.SetCommentary(ctx, testEdition, b, strPtr("ink faded"))
	require.NoError(t, err)
	want, err := first.Paths(ctx, testEdition, 0, IncludeAll)
	require.NoError(t, err)

	second := NewService(store, DefaultServiceConfig(), clock)
	got, err := second.Paths(ctx, testEdition, 0, IncludeAll)
	require.NoError(t, err)

	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, pathChars(want), pathChars(got))
	assert.Equal(t, "ink faded", *got.Paths[0][1].Commentary)
}

func TestService_CommentaryAndInclude(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := sign(t, svc, "a", nil, nil)

	res, err := svc.SetCommentary(ctx, testEdition, a, strPtr("damaged"))
	require.NoError(t, err)
	assert.Equal(t, "damaged", *res.Sign.Commentary)

	plain, err := svc.GetSign(ctx, testEdition, a, IncludeNone)
	require.NoError(t, err)
	assert.Nil(t, plain.Sign.Commentary)

	res, err = svc.SetCommentary(ctx, testEdition, a, strPtr("  "))
	require.NoError(t, err)
	assert.Nil(t, res.Sign.Commentary)

	_, err = svc.SetCommentary(ctx, testEdition, 999, nil)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func defineDamage(t *testing.T, svc *Service) overlay.Attribute {
	t.Helper()
	res, err := svc.DefineAttribute(context.Background(), testEdition, overlay.Attribute{
		Name:     "damage",
		Editable: true,
		Values: []overlay.AttributeValue{
			{Value: "probable"},
			{Value: "possible"},
		},
	})
	require.NoError(t, err)
	return res.Attribute
}

func TestService_Attributes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	damage := defineDamage(t, svc)
	require.NotZero(t, damage.ID)
	require.Len(t, damage.Values, 2)
	probable := damage.Values[0].ID
	require.NotZero(t, probable)

	a := sign(t, svc, "a", nil, nil)
	res, err := svc.SetAttribute(ctx, testEdition, a, overlay.AttributeAttachment{
		AttributeID: damage.ID, AttributeValueID: probable,
	})
	require.NoError(t, err)
	require.Len(t, res.Sign.Attributes, 1)

	_, err = svc.SetAttribute(ctx, testEdition, a, overlay.AttributeAttachment{
		AttributeID: damage.ID, AttributeValueID: 123456,
	})
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
	_, err = svc.SetAttribute(ctx, testEdition, a, overlay.AttributeAttachment{
		AttributeID: 123456, AttributeValueID: probable,
	})
	assert.ErrorIs(t, err, graph.ErrNotFound)

	// Values in use can be neither dropped nor deleted.
	_, err = svc.DefineAttribute(ctx, testEdition, overlay.Attribute{
		ID: damage.ID, Name: "damage", Values: damage.Values[1:],
	})
	assert.ErrorIs(t, err, graph.ErrStructuralConflict)
	_, err = svc.DeleteAttribute(ctx, testEdition, damage.ID)
	assert.ErrorIs(t, err, graph.ErrStructuralConflict)

	_, err = svc.RemoveAttribute(ctx, testEdition, a, probable)
	require.NoError(t, err)
	_, err = svc.RemoveAttribute(ctx, testEdition, a, probable)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = svc.DeleteAttribute(ctx, testEdition, damage.ID)
	require.NoError(t, err)
	list, err := svc.Attributes(ctx, testEdition)
	require.NoError(t, err)
	assert.Empty(t, list.Attributes)
}

func TestService_CreateSignWithAttributes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	damage := defineDamage(t, svc)

	res, err := svc.CreateSign(ctx, testEdition, NewSign{
		Character: "ש",
		Attributes: []overlay.AttributeAttachment{
			{AttributeID: damage.ID, AttributeValueID: damage.Values[1].ID},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, damage.Values[1].ID, res.Sign.Attributes[0].AttributeValueID)

	_, err = svc.CreateSign(ctx, testEdition, NewSign{
		Character:  "ש",
		Attributes: []overlay.AttributeAttachment{{AttributeID: damage.ID, AttributeValueID: 424242}},
	})
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestService_Regions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := sign(t, svc, "a", nil, nil)

	res, err := svc.AddRegion(ctx, testEdition, a, 7, "POLYGON((0 0, 10 0, 10 10))")
	require.NoError(t, err)
	require.Len(t, res.Sign.Regions, 1)
	region := res.Sign.Regions[0]
	assert.True(t, region.Repaired)
	g, err := wkt.Unmarshal(region.WKT)
	require.NoError(t, err)
	assert.Equal(t, [][]geom.Coord{{{0, 0}, {10, 0}, {10, 10}, {0, 0}}}, g.(*geom.Polygon).Coords())

	res, err = svc.AddRegion(ctx, testEdition, a, 7, "POLYGON ((1 1, 2 1, 2 2, 1 1))")
	require.NoError(t, err)
	require.Len(t, res.Sign.Regions, 2)
	assert.Equal(t, "POLYGON ((1 1, 2 1, 2 2, 1 1))", res.Sign.Regions[1].WKT)
	assert.False(t, res.Sign.Regions[1].Repaired)
	assert.Equal(t, uint64(7), region.ArtefactID)

	_, err = svc.AddRegion(ctx, testEdition, a, 7, "POINT(1 2)")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, ErrorCode(err))

	_, err = svc.AddRegion(ctx, testEdition, a, 0, "POLYGON((0 0,1 0,1 1,0 0))")
	assert.ErrorIs(t, err, graph.ErrInvalidInput)

	res, err = svc.RemoveRegion(ctx, testEdition, a, region.ID)
	require.NoError(t, err)
	assert.Len(t, res.Sign.Regions, 1)
	_, err = svc.RemoveRegion(ctx, testEdition, a, region.ID)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

type countingValidator struct {
	mu    sync.Mutex
	calls int
}

func (v *countingValidator) Validate(ctx context.Context, text string) (geometry.Result, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return geometry.NewRingValidator().Validate(ctx, text)
}

func TestService_AddRegionUnknownSign(t *testing.T) {
	geo := &countingValidator{}
	svc, _ := newTestService(t, WithGeometry(geo))
	ctx := context.Background()
	a := sign(t, svc, "a", nil, nil)

	_, err := svc.AddRegion(ctx, testEdition, a+100, 7, "POLYGON((0 0,1 0,1 1,0 0))")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	assert.Zero(t, geo.calls)

	// No id was handed out for the rejected region.
	b := sign(t, svc, "b", ids(a), nil)
	assert.Equal(t, a+1, b)
}

func fragmentNames(res *ElementsResult) []string {
	out := make([]string, len(res.Elements))
	for i, el := range res.Elements {
		out[i] = el.Name
	}
	return out
}

func TestService_FragmentsAndLines(t *testing.T) {
	rec := &recorder{}
	svc, store := newTestService(t, WithBroadcaster(rec))
	ctx := context.Background()

	f1, err := svc.CreateFragment(ctx, testEdition, "frg. 1", 0, 0)
	require.NoError(t, err)
	f3, err := svc.CreateFragment(ctx, testEdition, "frg. 3", 0, 0)
	require.NoError(t, err)
	f2, err := svc.CreateFragment(ctx, testEdition, "frg. 2", f1.Element.ID, f3.Element.ID)
	require.NoError(t, err)
	assert.Equal(t, KindFragment, f2.Element.Kind)

	list, err := svc.Fragments(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, []string{"frg. 1", "frg. 2", "frg. 3"}, fragmentNames(list))

	_, err = svc.MoveFragment(ctx, testEdition, f3.Element.ID, 0, f1.Element.ID)
	require.NoError(t, err)
	list, err = svc.Fragments(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, []string{"frg. 3", "frg. 1", "frg. 2"}, fragmentNames(list))

	_, err = svc.MoveFragment(ctx, testEdition, f3.Element.ID, f1.Element.ID, f1.Element.ID)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
	_, err = svc.CreateFragment(ctx, testEdition, "frg. 4", f3.Element.ID, f2.Element.ID)
	assert.ErrorIs(t, err, graph.ErrStructuralConflict)
	_, err = svc.CreateFragment(ctx, testEdition, " ", 0, 0)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)

	fid := f1.Element.ID
	l1, err := svc.CreateLine(ctx, testEdition, fid, "line 1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(fid), l1.Element.ParentID)
	l2, err := svc.CreateLine(ctx, testEdition, fid, "line 2", 0, 0)
	require.NoError(t, err)
	_, err = svc.MoveLine(ctx, testEdition, fid, l2.Element.ID, 0, l1.Element.ID)
	require.NoError(t, err)
	lines, err := svc.Lines(ctx, testEdition, fid)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 2", "line 1"}, fragmentNames(lines))

	_, err = svc.CreateLine(ctx, testEdition, 9999, "orphan", 0, 0)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = svc.DeleteLine(ctx, testEdition, fid, l2.Element.ID)
	require.NoError(t, err)
	assert.Equal(t, "line_deleted", rec.last().Kind)

	// Deleting a fragment drops its lines with it.
	_, err = svc.DeleteFragment(ctx, testEdition, fid)
	require.NoError(t, err)
	_, err = svc.Lines(ctx, testEdition, fid)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	snap, err := store.LoadScope(ctx, storage.Lines(testEdition, uint64(fid)))
	require.NoError(t, err)
	assert.Empty(t, snap.Records)

	list, err = svc.Fragments(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, []string{"frg. 3", "frg. 2"}, fragmentNames(list))
}

func TestService_Permissions(t *testing.T) {
	acl := NewEditorList()
	acl.Grant(testEdition, "editor", AccessWrite)
	svc, _ := newTestService(t, WithAuthorizer(acl))

	editor := WithPrincipal(context.Background(), Principal{UserID: "editor"})
	reader := WithPrincipal(context.Background(), Principal{UserID: "reader"})

	res, err := svc.CreateSign(editor, testEdition, NewSign{Character: "a"})
	require.NoError(t, err)
	assert.Equal(t, "editor", res.Sign.CreatedBy)

	_, err = svc.CreateSign(reader, testEdition, NewSign{Character: "b"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = svc.DefineAttribute(editor, testEdition, overlay.Attribute{Name: "x"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = svc.GetSign(reader, testEdition, res.Sign.ID, IncludeAll)
	assert.NoError(t, err)
	assert.NoError(t, svc.CheckAccess(reader, testEdition, AccessRead))
}

func TestService_ZeroEdition(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Roots(context.Background(), 0)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

// failingStore fails commits on demand.
type failingStore struct {
	storage.Store
	fail atomic.Bool
}

var errDiskGone = errors.New("disk gone")

func (f *failingStore) Commit(ctx context.Context, cs *storage.ChangeSet) error {
	if f.fail.Load() {
		return errDiskGone
	}
	return f.Store.Commit(ctx, cs)
}

func TestService_TransientStorageKeepsState(t *testing.T) {
	inner := &failingStore{Store: newTestStore(t)}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenMaxRequests: 1, SuccessThreshold: 1,
	})
	store := storage.NewResilient(inner, retry, breaker)
	rec := &recorder{}
	svc := NewService(store, DefaultServiceConfig(), WithBroadcaster(rec))
	ctx := context.Background()

	a := sign(t, svc, "a", nil, nil)
	b := sign(t, svc, "b", nil, nil)
	before, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)
	events := len(rec.kinds())

	inner.fail.Store(true)

	// Domain errors are reported as such and never reach the store.
	_, err = svc.Link(ctx, testEdition, a, a)
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
	assert.Equal(t, resilience.CircuitClosed, breaker.State())

	_, err = svc.Link(ctx, testEdition, a, b)
	require.Error(t, err)
	assert.Equal(t, CodeTransientStorage, ErrorCode(err))
	assert.ErrorIs(t, err, errDiskGone)
	assert.Equal(t, resilience.CircuitOpen, breaker.State())

	// With the circuit open the store is not called at all.
	_, err = svc.Link(ctx, testEdition, a, b)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, CodeTransientStorage, ErrorCode(err))

	inner.fail.Store(false)
	breaker.Reset()
	after, err := svc.Roots(ctx, testEdition)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, rec.kinds(), events)
}

func TestService_ConcurrentWritersStayConsistent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	root := sign(t, svc, "root", nil, nil)

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := root
			for i := 0; i < 5; i++ {
				res, err := svc.CreateSign(ctx, testEdition, NewSign{Character: "x", Previous: ids(prev)})
				if !assert.NoError(t, err) {
					return
				}
				prev = res.Sign.ID
			}
		}()
	}
	wg.Wait()

	paths, err := svc.Paths(ctx, testEdition, root, IncludeNone)
	require.NoError(t, err)
	assert.Len(t, paths.Paths, writers)
	for _, p := range paths.Paths {
		assert.Len(t, p, 6)
	}

	fresh := NewService(store, DefaultServiceConfig())
	reloaded, err := fresh.Paths(ctx, testEdition, root, IncludeNone)
	require.NoError(t, err)
	assert.Equal(t, paths.Version, reloaded.Version)
}

func TestParseInclude(t *testing.T) {
	inc, err := ParseInclude("attributes, Regions")
	require.NoError(t, err)
	assert.True(t, inc.Has(IncludeAttributes))
	assert.True(t, inc.Has(IncludeRegions))
	assert.False(t, inc.Has(IncludeCommentary))

	inc, err = ParseInclude("")
	require.NoError(t, err)
	assert.Equal(t, IncludeNone, inc)

	inc, err = ParseInclude("all")
	require.NoError(t, err)
	assert.Equal(t, IncludeAll, inc)

	_, err = ParseInclude("images")
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{graph.Invalid("op", "x"), CodeInvalidInput, 400},
		{graph.Conflict("op", "x"), CodeStructuralConflict, 409},
		{graph.NotFound("op", "x"), CodeNotFound, 404},
		{ErrPermissionDenied, CodePermissionDenied, 403},
		{storage.ErrTransient, CodeTransientStorage, 503},
		{resilience.ErrCircuitOpen, CodeTransientStorage, 503},
		{graph.Corrupt("op", "x"), CodeCorruptState, 500},
		{errors.New("boom"), CodeInternal, 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), "%v", tt.err)
		assert.Equal(t, tt.status, HTTPStatus(ErrorCode(tt.err)), "%v", tt.err)
	}
	assert.Empty(t, ErrorCode(nil))
}

func strPtr(s string) *string { return &s }
