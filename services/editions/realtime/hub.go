// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package realtime pushes edition changes to websocket subscribers.
//
// # Description
//
// A Hub holds the subscribers of every edition. Publishing an event for an
// edition delivers it to each subscriber of that edition and no one else.
// Slow subscribers whose queue is full are disconnected rather than
// blocking the publisher.
package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

// ErrHubClosed is returned by Serve after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Event is one change notification.
type Event struct {
	EditionID uint64    `json:"edition_id"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Version   string    `json:"version"`
	At        time.Time `json:"at"`
}

// Broadcaster publishes events. The editions service depends on this
// interface, not on Hub.
type Broadcaster interface {
	Publish(ev Event)
}

// Nop discards events.
type Nop struct{}

// Publish implements Broadcaster.
func (Nop) Publish(Event) {}

// Config controls subscriber connections.
type Config struct {
	// InboundRate is the number of client messages allowed per second
	// before the connection is closed. Default: 5.
	InboundRate float64 `yaml:"inbound_rate" toml:"inbound_rate" validate:"gt=0"`

	// InboundBurst is the limiter burst. Default: 10.
	InboundBurst int `yaml:"inbound_burst" toml:"inbound_burst" validate:"gte=1"`

	// AllowedOrigins lists accepted Origin headers. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{InboundRate: 5, InboundBurst: 10}
}

type client struct {
	id      string
	edition uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
}

// Hub tracks subscribers per edition.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	metrics  *observability.Metrics

	mu       sync.RWMutex
	editions map[uint64]map[*client]struct{}
	closed   bool
}

// NewHub creates a hub. metrics may be nil.
func NewHub(cfg Config, metrics *observability.Metrics) *Hub {
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = 5
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 10
	}
	h := &Hub{
		cfg:      cfg,
		metrics:  metrics,
		editions: make(map[uint64]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Serve upgrades the request and subscribes the connection to edition. It
// returns once the connection is registered; the pumps run in their own
// goroutines.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, edition uint64) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return ErrHubClosed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		id:      uuid.New().String(),
		edition: edition,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst),
	}
	if !h.register(c) {
		conn.Close()
		return ErrHubClosed
	}
	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	subs := h.editions[c.edition]
	if subs == nil {
		subs = make(map[*client]struct{})
		h.editions[c.edition] = subs
	}
	subs[c] = struct{}{}
	h.metrics.SubscriberJoined()
	slog.Debug("realtime subscriber joined",
		slog.String("client_id", c.id),
		slog.Uint64("edition_id", c.edition),
		slog.Int("subscribers", len(subs)))
	return true
}

// unregister removes c and closes its queue. Safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	subs := h.editions[c.edition]
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.editions, c.edition)
	}
	close(c.send)
	h.metrics.SubscriberLeft()
	slog.Debug("realtime subscriber left",
		slog.String("client_id", c.id),
		slog.Uint64("edition_id", c.edition))
}

// Publish implements Broadcaster.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode realtime event",
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.editions[ev.EditionID] {
		select {
		case c.send <- data:
		default:
			slog.Warn("realtime subscriber too slow, disconnecting",
				slog.String("client_id", c.id),
				slog.Uint64("edition_id", c.edition))
			h.removeLocked(c)
		}
	}
	h.metrics.RecordEvent(ev.Kind)
}

// Subscribers returns the number of subscribers of edition.
func (h *Hub) Subscribers(edition uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.editions[edition])
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.editions {
		for c := range subs {
			h.removeLocked(c)
		}
	}
}

// readPump drains client messages. Subscribers only listen, so any
// payload is discarded, but a client that floods the socket is dropped.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("realtime connection closed unexpectedly",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()))
			}
			return
		}
		if !c.limiter.Allow() {
			slog.Warn("realtime client exceeded inbound rate",
				slog.String("client_id", c.id),
				slog.Uint64("edition_id", c.edition))
			deadline := time.Now().Add(writeWait)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"), deadline)
			return
		}
	}
}

// writePump sends queued events and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
