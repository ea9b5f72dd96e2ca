// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/observability"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		edition, err := strconv.ParseUint(r.URL.Query().Get("edition"), 10, 64)
		if err != nil {
			http.Error(w, "bad edition", http.StatusBadRequest)
			return
		}
		_ = hub.Serve(w, r, edition)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, edition uint64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?edition=" + strconv.FormatUint(edition, 10)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishReachesOnlyEditionSubscribers(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	defer hub.Close()
	srv := newTestServer(t, hub)

	a := dial(t, srv, 1)
	b := dial(t, srv, 1)
	other := dial(t, srv, 2)
	require.Eventually(t, func() bool {
		return hub.Subscribers(1) == 2 && hub.Subscribers(2) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Publish(Event{EditionID: 1, Kind: "link_added", Payload: map[string]uint64{"from": 3, "to": 4}, Version: "abc"})

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, uint64(1), ev.EditionID)
		assert.Equal(t, "link_added", ev.Kind)
		assert.Equal(t, "abc", ev.Version)
		assert.False(t, ev.At.IsZero())
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := other.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(DefaultConfig(), m)
	defer hub.Close()
	srv := newTestServer(t, hub)

	conn := dial(t, srv, 5)
	require.Eventually(t, func() bool { return hub.Subscribers(5) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RealtimeSubscribers))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(5) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RealtimeSubscribers))
}

func TestHub_InboundRateLimit(t *testing.T) {
	hub := NewHub(Config{InboundRate: 0.001, InboundBurst: 1}, nil)
	defer hub.Close()
	srv := newTestServer(t, hub)

	conn := dial(t, srv, 9)
	require.Eventually(t, func() bool { return hub.Subscribers(9) == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)); err != nil {
			break
		}
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var readErr error
	for readErr == nil {
		_, _, readErr = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(readErr, websocket.ClosePolicyViolation), "got %v", readErr)
	require.Eventually(t, func() bool { return hub.Subscribers(9) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseRejectsNewSubscribers(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, 1)
	require.Eventually(t, func() bool { return hub.Subscribers(1) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Subscribers(1))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?edition=1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(Config{AllowedOrigins: []string{"https://sqe.example"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "https://sqe.example")
	assert.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(r))
}

func TestNop(t *testing.T) {
	var b Broadcaster = Nop{}
	b.Publish(Event{Kind: "ignored"})
}
