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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/realtime"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	RegisterHealthRoutes(router, h)
	v1 := router.Group("/v1", PrincipalMiddleware())
	RegisterRoutes(v1, h)
	return router
}

type apiClient struct {
	t      *testing.T
	router http.Handler
	user   string
}

func (a *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.user != "" {
		req.Header.Set(UserHeader, a.user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const base = "/v1/editions/42"

func (a *apiClient) createSign(char string, previous ...graph.NodeID) graph.NodeID {
	a.t.Helper()
	w := a.do(http.MethodPost, base+"/sign-interpretations", NewSign{Character: char, Previous: previous})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[SignResult](a.t, w).Sign.ID
}

func newAPI(t *testing.T, opts ...Option) (*apiClient, *Handlers) {
	t.Helper()
	svc, _ := newTestService(t, opts...)
	h := NewHandlers(svc)
	return &apiClient{t: t, router: setupTestRouter(h)}, h
}

func idStr(n graph.NodeID) string { return strconv.FormatUint(uint64(n), 10) }

func TestHandlers_SignLifecycle(t *testing.T) {
	api, _ := newAPI(t)

	a := api.createSign("a")
	b := api.createSign("b", a)
	c := api.createSign("c", b)

	w := api.do(http.MethodGet, base+"/sign-interpretations/"+idStr(b), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[SignResult](t, w)
	assert.Equal(t, []graph.NodeID{a}, got.Previous)
	assert.Equal(t, []graph.NodeID{c}, got.Next)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = api.do(http.MethodPut, base+"/sign-interpretations/"+idStr(b)+"/commentary", CommentaryRequest{Commentary: strPtr("uncertain")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "uncertain", *decode[SignResult](t, w).Sign.Commentary)

	w = api.do(http.MethodGet, base+"/sign-interpretations/"+idStr(b)+"?include=attributes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[SignResult](t, w).Sign.Commentary)

	w = api.do(http.MethodDelete, base+"/sign-interpretations/"+idStr(b), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[VersionResult](t, w).Version)

	w = api.do(http.MethodGet, base+"/stream/paths?include=commentary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	paths := decode[PathsResult](t, w)
	require.Len(t, paths.Paths, 1)
	assert.Equal(t, []string{"a", "c"}, pathChars(&paths)[0])

	w = api.do(http.MethodDelete, base+"/sign-interpretations/"+idStr(c)+"?leave_gap=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodGet, base+"/stream/roots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []graph.NodeID{a}, decode[RootsResult](t, w).Roots)
}

func TestHandlers_ErrorMapping(t *testing.T) {
	api, _ := newAPI(t)
	a := api.createSign("a")
	b := api.createSign("b", a)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"cycle", http.MethodPost, base + "/links", LinkRequest{From: b, To: a}, http.StatusConflict, CodeStructuralConflict},
		{"duplicate link", http.MethodPost, base + "/links", LinkRequest{From: a, To: b}, http.StatusConflict, CodeStructuralConflict},
		{"self link", http.MethodPost, base + "/links", LinkRequest{From: a, To: a}, http.StatusBadRequest, CodeInvalidInput},
		{"unknown sign", http.MethodGet, base + "/sign-interpretations/999", nil, http.StatusNotFound, CodeNotFound},
		{"missing link", http.MethodDelete, base + "/links", LinkRequest{From: b, To: a}, http.StatusNotFound, CodeNotFound},
		{"bad edition", http.MethodGet, "/v1/editions/abc/stream/roots", nil, http.StatusBadRequest, CodeInvalidInput},
		{"bad include", http.MethodGet, base + "/stream/paths?include=pixels", nil, http.StatusBadRequest, CodeInvalidInput},
		{"bad from", http.MethodGet, base + "/stream/paths?from=x", nil, http.StatusBadRequest, CodeInvalidInput},
		{"bad leave_gap", http.MethodDelete, base + "/sign-interpretations/" + idStr(a) + "?leave_gap=maybe", nil, http.StatusBadRequest, CodeInvalidInput},
		{"missing body", http.MethodPost, base + "/links", nil, http.StatusBadRequest, CodeInvalidInput},
		{"bad attribute name", http.MethodPost, base + "/attributes", map[string]any{"name": "x;color:red"}, http.StatusBadRequest, CodeInvalidInput},
		{"bad polygon", http.MethodPost, base + "/sign-interpretations/" + idStr(a) + "/regions", RegionRequest{ArtefactID: 1, WKT: "LINESTRING(0 0,1 1)"}, http.StatusBadRequest, CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}

	w := api.do(http.MethodPost, base+"/links", LinkRequest{From: b, To: a})
	assert.ElementsMatch(t, []graph.NodeID{b, a}, decode[ErrorResponse](t, w).IDs)
}

func TestHandlers_PermissionDenied(t *testing.T) {
	acl := NewEditorList()
	acl.Grant(42, "scribe", AccessWrite)
	api, _ := newAPI(t, WithAuthorizer(acl))

	w := api.do(http.MethodPost, base+"/sign-interpretations", NewSign{Character: "a"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodePermissionDenied, decode[ErrorResponse](t, w).Code)

	api.user = "scribe"
	w = api.do(http.MethodPost, base+"/sign-interpretations", NewSign{Character: "a"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "scribe", decode[SignResult](t, w).Sign.CreatedBy)

	api.user = ""
	w = api.do(http.MethodGet, base+"/stream/roots", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_AttributesAndRegions(t *testing.T) {
	api, _ := newAPI(t)
	a := api.createSign("a")

	w := api.do(http.MethodPost, base+"/attributes", map[string]any{
		"name":   "sign_type",
		"values": []map[string]any{{"value": "letter"}, {"value": "space"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	attr := decode[AttributeResult](t, w).Attribute
	letter := attr.Values[0].ID

	path := base + "/sign-interpretations/" + idStr(a) + "/attributes/" + strconv.FormatUint(letter, 10)
	w = api.do(http.MethodPut, path, AttributeRequest{AttributeID: attr.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, decode[SignResult](t, w).Sign.Attributes, 1)

	w = api.do(http.MethodDelete, base+"/attributes/"+strconv.FormatUint(attr.ID, 10), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodDelete, base+"/attributes/"+strconv.FormatUint(attr.ID, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, base+"/attributes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[AttributesResult](t, w).Attributes)

	w = api.do(http.MethodPost, base+"/sign-interpretations/"+idStr(a)+"/regions", RegionRequest{ArtefactID: 3, WKT: "POLYGON((0 0,4 0,4 4,0 0))"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	region := decode[SignResult](t, w).Sign.Regions[0]
	assert.False(t, region.Repaired)
	assert.Equal(t, "POLYGON((0 0,4 0,4 4,0 0))", region.WKT)

	w = api.do(http.MethodDelete, base+"/sign-interpretations/"+idStr(a)+"/regions/"+strconv.FormatUint(region.ID, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_FragmentsAndLines(t *testing.T) {
	api, _ := newAPI(t)

	create := func(path, name string, previous, next graph.NodeID) graph.NodeID {
		w := api.do(http.MethodPost, path, ElementRequest{Name: name, Previous: previous, Next: next})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		return decode[ElementResult](t, w).Element.ID
	}
	names := func(path string) []string {
		w := api.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decode[ElementsResult](t, w)
		return fragmentNames(&res)
	}

	f1 := create(base+"/fragments", "col. I", 0, 0)
	f2 := create(base+"/fragments", "col. II", 0, 0)
	assert.Equal(t, []string{"col. I", "col. II"}, names(base+"/fragments"))

	w := api.do(http.MethodPut, base+"/fragments/"+idStr(f2)+"/position", PositionRequest{Next: f1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"col. II", "col. I"}, names(base+"/fragments"))

	lines := base + "/fragments/" + idStr(f1) + "/lines"
	l1 := create(lines, "1", 0, 0)
	l2 := create(lines, "2", l1, 0)
	assert.Equal(t, []string{"1", "2"}, names(lines))

	w = api.do(http.MethodPut, lines+"/"+idStr(l1)+"/position", PositionRequest{Previous: l2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"2", "1"}, names(lines))

	w = api.do(http.MethodPut, lines+"/"+idStr(l1)+"/position", PositionRequest{Previous: l1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodDelete, lines+"/"+idStr(l2), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"1"}, names(lines))

	w = api.do(http.MethodDelete, base+"/fragments/"+idStr(f1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodGet, lines, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_HealthAndReady(t *testing.T) {
	api, h := newAPI(t)

	w := api.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, ServiceVersion, health.Version)

	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 1, ResetTimeout: time.Hour, HalfOpenMaxRequests: 1, SuccessThreshold: 1,
	})
	h.WithBreaker(breaker)

	w = api.do(http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ready := decode[ReadyResponse](t, w)
	assert.True(t, ready.Ready)
	assert.Equal(t, "badger", ready.Backend)
	assert.Equal(t, "closed", ready.CircuitState)

	breaker.RecordFailure()
	w = api.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "open", decode[ReadyResponse](t, w).CircuitState)
}

func TestHandlers_RealtimeDisabled(t *testing.T) {
	api, _ := newAPI(t)
	w := api.do(http.MethodGet, base+"/realtime", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHandlers_RealtimeReceivesChanges(t *testing.T) {
	hub := realtime.NewHub(realtime.DefaultConfig(), nil)
	defer hub.Close()
	svc, _ := newTestService(t, WithBroadcaster(hub))
	router := setupTestRouter(NewHandlers(svc).WithHub(hub))
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + base + "/realtime"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(42) == 1 }, 2*time.Second, 10*time.Millisecond)

	api := &apiClient{t: t, router: router}
	created := api.createSign("a")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		EditionID uint64         `json:"edition_id"`
		Kind      string         `json:"kind"`
		Payload   map[string]any `json:"payload"`
		Version   string         `json:"version"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, uint64(42), ev.EditionID)
	assert.Equal(t, "sign_created", ev.Kind)
	assert.Equal(t, float64(created), ev.Payload["id"])

	w := api.do(http.MethodGet, base+"/stream/roots", nil)
	assert.Equal(t, decode[RootsResult](t, w).Version, ev.Version)
}
