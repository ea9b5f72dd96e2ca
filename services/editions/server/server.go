// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server assembles the editions HTTP server from a config.Config:
// store, resilience wrapper, service, realtime hub, telemetry and router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/pkg/logging"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/config"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/geometry"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/lock"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/observability"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/realtime"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage/badger"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage/sqlite"
)

// Server is a fully wired editions server.
//
// Thread Safety: Serve and Close may be called from different goroutines.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	dirLock *lock.DirLock
	store   *storage.Resilient
	service *editions.Service
	hub     *realtime.Hub
	router  *gin.Engine

	telemetry shutdownFunc
}

// New builds a server. Nothing listens until Serve or Run is called.
//
// Description:
//
//	Opens the configured store under an exclusive directory lock, wraps
//	it with retry and circuit breaking, and wires the service, realtime
//	hub and HTTP routes. Metrics are collected in a private registry
//	served on /metrics.
//
// Outputs:
//
//	*Server - Call Close when done, even if Serve was never called.
//	error - Non-nil if telemetry or the store could not be opened.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	shutdown, err := initTelemetry(ctx, cfg.Telemetry, s.registry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.telemetry = shutdown

	inner, err := s.openStore()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	backend := inner.Backend()
	breaker := resilience.NewCircuitBreaker(cfg.Breaker,
		resilience.WithStateChange(func(from, to resilience.CircuitState) {
			s.metrics.SetBreakerState(backend, int(to))
			slog.Warn("Storage circuit changed state",
				"backend", backend, "from", from.String(), "to", to.String())
		}))
	s.store = storage.NewResilient(inner, cfg.Retry, breaker,
		storage.WithObserver(func(op string, attempts int, elapsed time.Duration, err error) {
			s.metrics.RecordStorage(backend, op, attempts, elapsed, err)
		}))

	s.hub = realtime.NewHub(cfg.Realtime, s.metrics)
	s.service = editions.NewService(s.store, cfg.Editions,
		editions.WithAuthorizer(cfg.Authorizer()),
		editions.WithBroadcaster(s.hub),
		editions.WithGeometry(geometry.NewRingValidator()),
		editions.WithMetrics(s.metrics),
	)
	s.router = s.buildRouter(breaker)

	logger.Info("Editions server ready",
		"backend", backend,
		"path", cfg.Storage.Path(),
		"auth", cfg.Auth.Mode,
		"version", editions.ServiceVersion)
	return s, nil
}

func (s *Server) openStore() (storage.Store, error) {
	sc := s.cfg.Storage
	switch sc.Backend {
	case config.BackendBadger:
		bcfg := sc.Badger
		if !bcfg.InMemory {
			dl, err := lock.AcquireDir(bcfg.Path)
			if err != nil {
				return nil, err
			}
			s.dirLock = dl
		}
		bcfg.Logger = s.logger.Slog()
		store, err := badger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return store, nil

	case config.BackendSQLite:
		if p := sc.SQLite.Path; p != "" && p != ":memory:" {
			dl, err := lock.AcquireDir(filepath.Dir(p))
			if err != nil {
				return nil, err
			}
			s.dirLock = dl
		}
		store, err := sqlite.Open(sc.SQLite)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

func (s *Server) buildRouter(breaker *resilience.CircuitBreaker) *gin.Engine {
	if s.logger.Level() > logging.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(s.cfg.Telemetry.ServiceName), accessLog())

	handlers := editions.NewHandlers(s.service).WithHub(s.hub).WithBreaker(breaker)
	editions.RegisterHealthRoutes(router, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})))

	v1 := router.Group("/v1", editions.PrincipalMiddleware())
	editions.RegisterRoutes(v1, handlers)
	return router
}

// accessLog logs one line per request at debug level, or warn for 5xx.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Writer.Header().Get("X-Request-ID"))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Service returns the editions service.
func (s *Server) Service() *editions.Service {
	return s.service
}

// Run listens on the configured port and serves until ctx is done. When
// configPath is set, changes to it are applied while running.
func (s *Server) Run(ctx context.Context, configPath string) error {
	addr := ":" + strconv.Itoa(s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, configPath)
}

// Serve serves on ln until ctx is done, then shuts down gracefully
// within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, configPath string) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting the editions server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.hub.Close()
		s.logger.Info("Shutting down the editions server")
		return srv.Shutdown(shutdownCtx)
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, s.applyReload)
		})
	}
	return g.Wait()
}

// applyReload applies the settings that can change without a restart.
// Everything else needs a restart and is reported as ignored.
func (s *Server) applyReload(next *config.Config) {
	if level, err := logging.ParseLevel(next.Logging.Level); err == nil && level != s.logger.Level() {
		s.logger.SetLevel(level)
		s.logger.Info("Log level changed", "level", level.String())
	}
	if next.Storage != s.cfg.Storage || next.Server.Port != s.cfg.Server.Port {
		s.logger.Warn("Storage and port changes need a restart; ignoring them")
	}
}

// Close releases the store, the directory lock and telemetry. Safe to
// call after a failed New.
func (s *Server) Close() error {
	var errs []error
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.dirLock != nil {
		errs = append(errs, s.dirLock.Release())
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.telemetry(ctx))
	}
	return errors.Join(errs...)
}
