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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/realtime"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/resilience"
)

// UserHeader carries the authenticated user id, set by the gateway in
// front of the service.
const UserHeader = "X-User-ID"

// Handlers contains the HTTP handlers for the editions service.
type Handlers struct {
	svc     *Service
	hub     *realtime.Hub
	breaker *resilience.CircuitBreaker
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// WithHub enables the realtime endpoint.
func (h *Handlers) WithHub(hub *realtime.Hub) *Handlers {
	h.hub = hub
	return h
}

// WithBreaker reports the storage circuit state on /ready.
func (h *Handlers) WithBreaker(cb *resilience.CircuitBreaker) *Handlers {
	h.breaker = cb
	return h
}

// PrincipalMiddleware stores the caller named by UserHeader in the
// request context.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := c.GetHeader(UserHeader); user != "" {
			c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), Principal{UserID: user}))
		}
		c.Next()
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func requestLogger(c *gin.Context, handler string) *slog.Logger {
	return slog.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

// respondError writes the error response for err.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	code := ErrorCode(err)
	status := HTTPStatus(code)
	switch {
	case status == http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
		logger.Warn("Storage unavailable", "error", err)
	case status >= http.StatusInternalServerError:
		logger.Error("Request failed", "error", err, "code", code)
	default:
		logger.Info("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Code:  code,
		IDs:   graph.IDsOf(err),
	})
}

func badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: msg,
		Code:  CodeInvalidInput,
	})
}

// uintParam parses a positive path parameter.
func uintParam(c *gin.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, graph.Invalid("parse", "path parameter "+name+" must be a positive integer")
	}
	return v, nil
}

// params parses the named path parameters in order.
func params(c *gin.Context, names ...string) ([]uint64, error) {
	out := make([]uint64, len(names))
	for i, n := range names {
		v, err := uintParam(c, n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// =============================================================================
// Sign interpretations
// =============================================================================

// HandleCreateSign handles POST /v1/editions/:edition_id/sign-interpretations.
//
// Request Body:
//
//	NewSign
//
// Response:
//
//	201 Created: SignResult
//	400 Bad Request: Validation error
//	404 Not Found: Unknown neighbour or attribute
//	409 Conflict: Links would close a cycle
func (h *Handlers) HandleCreateSign(c *gin.Context) {
	logger := requestLogger(c, "HandleCreateSign")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req NewSign
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.CreateSign(c.Request.Context(), edition, req)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Sign interpretation created", "edition_id", edition, "id", resp.Sign.ID)
	c.JSON(http.StatusCreated, resp)
}

// HandleGetSign handles GET /v1/editions/:edition_id/sign-interpretations/:sign_id.
//
// Query Parameters:
//
//	include: comma separated attributes, commentary, regions (default all)
func (h *Handlers) HandleGetSign(c *gin.Context) {
	logger := requestLogger(c, "HandleGetSign")

	ids, err := params(c, "edition_id", "sign_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	inc := IncludeAll
	if raw, ok := c.GetQuery("include"); ok {
		if inc, err = ParseInclude(raw); err != nil {
			respondError(c, logger, err)
			return
		}
	}

	resp, err := h.svc.GetSign(c.Request.Context(), ids[0], graph.NodeID(ids[1]), inc)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteSign handles DELETE /v1/editions/:edition_id/sign-interpretations/:sign_id.
//
// Query Parameters:
//
//	leave_gap: "true" removes the sign without joining its neighbours
func (h *Handlers) HandleDeleteSign(c *gin.Context) {
	logger := requestLogger(c, "HandleDeleteSign")

	ids, err := params(c, "edition_id", "sign_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	leaveGap := false
	if raw := c.Query("leave_gap"); raw != "" {
		if leaveGap, err = strconv.ParseBool(raw); err != nil {
			badRequest(c, logger, "leave_gap must be a boolean", err)
			return
		}
	}

	resp, err := h.svc.DeleteSign(c.Request.Context(), ids[0], graph.NodeID(ids[1]), leaveGap)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Sign interpretation deleted", "edition_id", ids[0], "id", ids[1], "leave_gap", leaveGap)
	c.JSON(http.StatusOK, resp)
}

// HandleSetCommentary handles PUT .../sign-interpretations/:sign_id/commentary.
func (h *Handlers) HandleSetCommentary(c *gin.Context) {
	logger := requestLogger(c, "HandleSetCommentary")

	ids, err := params(c, "edition_id", "sign_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req CommentaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.SetCommentary(c.Request.Context(), ids[0], graph.NodeID(ids[1]), req.Commentary)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSetAttribute handles PUT .../sign-interpretations/:sign_id/attributes/:value_id.
func (h *Handlers) HandleSetAttribute(c *gin.Context) {
	logger := requestLogger(c, "HandleSetAttribute")

	ids, err := params(c, "edition_id", "sign_id", "value_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req AttributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.SetAttribute(c.Request.Context(), ids[0], graph.NodeID(ids[1]), overlay.AttributeAttachment{
		AttributeID:      req.AttributeID,
		AttributeValueID: ids[2],
		Sequence:         req.Sequence,
		Commentary:       req.Commentary,
	})
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRemoveAttribute handles DELETE .../sign-interpretations/:sign_id/attributes/:value_id.
func (h *Handlers) HandleRemoveAttribute(c *gin.Context) {
	logger := requestLogger(c, "HandleRemoveAttribute")

	ids, err := params(c, "edition_id", "sign_id", "value_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.RemoveAttribute(c.Request.Context(), ids[0], graph.NodeID(ids[1]), ids[2])
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleAddRegion handles POST .../sign-interpretations/:sign_id/regions.
func (h *Handlers) HandleAddRegion(c *gin.Context) {
	logger := requestLogger(c, "HandleAddRegion")

	ids, err := params(c, "edition_id", "sign_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req RegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.AddRegion(c.Request.Context(), ids[0], graph.NodeID(ids[1]), req.ArtefactID, req.WKT)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleRemoveRegion handles DELETE .../sign-interpretations/:sign_id/regions/:region_id.
func (h *Handlers) HandleRemoveRegion(c *gin.Context) {
	logger := requestLogger(c, "HandleRemoveRegion")

	ids, err := params(c, "edition_id", "sign_id", "region_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.RemoveRegion(c.Request.Context(), ids[0], graph.NodeID(ids[1]), ids[2])
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Links and paths
// =============================================================================

// HandleLink handles POST /v1/editions/:edition_id/links.
//
// Response:
//
//	200 OK: VersionResult
//	400 Bad Request: Self link
//	404 Not Found: Unknown sign
//	409 Conflict: Link exists or would close a cycle
func (h *Handlers) HandleLink(c *gin.Context) {
	h.handleLink(c, "HandleLink", h.svc.Link)
}

// HandleUnlink handles DELETE /v1/editions/:edition_id/links.
func (h *Handlers) HandleUnlink(c *gin.Context) {
	h.handleLink(c, "HandleUnlink", h.svc.Unlink)
}

func (h *Handlers) handleLink(c *gin.Context, name string, apply func(ctx context.Context, edition uint64, from, to graph.NodeID) (*VersionResult, error)) {
	logger := requestLogger(c, name)

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := apply(c.Request.Context(), edition, req.From, req.To)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Links updated", "edition_id", edition, "from", req.From, "to", req.To)
	c.JSON(http.StatusOK, resp)
}

// HandleRoots handles GET /v1/editions/:edition_id/stream/roots.
func (h *Handlers) HandleRoots(c *gin.Context) {
	logger := requestLogger(c, "HandleRoots")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.Roots(c.Request.Context(), edition)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePaths handles GET /v1/editions/:edition_id/stream/paths.
//
// Query Parameters:
//
//	from: start sign (optional, every root when absent)
//	include: comma separated attributes, commentary, regions
func (h *Handlers) HandlePaths(c *gin.Context) {
	logger := requestLogger(c, "HandlePaths")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var from uint64
	if raw := c.Query("from"); raw != "" {
		if from, err = strconv.ParseUint(raw, 10, 64); err != nil || from == 0 {
			badRequest(c, logger, "from must be a positive integer", err)
			return
		}
	}
	inc, err := ParseInclude(c.Query("include"))
	if err != nil {
		respondError(c, logger, err)
		return
	}

	resp, err := h.svc.Paths(c.Request.Context(), edition, graph.NodeID(from), inc)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Debug("Paths enumerated", "edition_id", edition, "from", from, "paths", len(resp.Paths))
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Attribute catalog
// =============================================================================

// HandleListAttributes handles GET /v1/editions/:edition_id/attributes.
func (h *Handlers) HandleListAttributes(c *gin.Context) {
	logger := requestLogger(c, "HandleListAttributes")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.Attributes(c.Request.Context(), edition)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDefineAttribute handles POST /v1/editions/:edition_id/attributes.
func (h *Handlers) HandleDefineAttribute(c *gin.Context) {
	logger := requestLogger(c, "HandleDefineAttribute")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req overlay.Attribute
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.DefineAttribute(c.Request.Context(), edition, req)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Attribute defined", "edition_id", edition, "attribute_id", resp.Attribute.ID)
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteAttribute handles DELETE /v1/editions/:edition_id/attributes/:attribute_id.
func (h *Handlers) HandleDeleteAttribute(c *gin.Context) {
	logger := requestLogger(c, "HandleDeleteAttribute")

	ids, err := params(c, "edition_id", "attribute_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.DeleteAttribute(c.Request.Context(), ids[0], ids[1])
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Fragments and lines
// =============================================================================

// HandleListFragments handles GET /v1/editions/:edition_id/fragments.
func (h *Handlers) HandleListFragments(c *gin.Context) {
	logger := requestLogger(c, "HandleListFragments")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.Fragments(c.Request.Context(), edition)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCreateFragment handles POST /v1/editions/:edition_id/fragments.
func (h *Handlers) HandleCreateFragment(c *gin.Context) {
	logger := requestLogger(c, "HandleCreateFragment")

	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req ElementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.CreateFragment(c.Request.Context(), edition, req.Name, req.Previous, req.Next)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleMoveFragment handles PUT /v1/editions/:edition_id/fragments/:fragment_id/position.
func (h *Handlers) HandleMoveFragment(c *gin.Context) {
	logger := requestLogger(c, "HandleMoveFragment")

	ids, err := params(c, "edition_id", "fragment_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.MoveFragment(c.Request.Context(), ids[0], graph.NodeID(ids[1]), req.Previous, req.Next)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteFragment handles DELETE /v1/editions/:edition_id/fragments/:fragment_id.
func (h *Handlers) HandleDeleteFragment(c *gin.Context) {
	logger := requestLogger(c, "HandleDeleteFragment")

	ids, err := params(c, "edition_id", "fragment_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.DeleteFragment(c.Request.Context(), ids[0], graph.NodeID(ids[1]))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListLines handles GET .../fragments/:fragment_id/lines.
func (h *Handlers) HandleListLines(c *gin.Context) {
	logger := requestLogger(c, "HandleListLines")

	ids, err := params(c, "edition_id", "fragment_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.Lines(c.Request.Context(), ids[0], graph.NodeID(ids[1]))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCreateLine handles POST .../fragments/:fragment_id/lines.
func (h *Handlers) HandleCreateLine(c *gin.Context) {
	logger := requestLogger(c, "HandleCreateLine")

	ids, err := params(c, "edition_id", "fragment_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req ElementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.CreateLine(c.Request.Context(), ids[0], graph.NodeID(ids[1]), req.Name, req.Previous, req.Next)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleMoveLine handles PUT .../fragments/:fragment_id/lines/:line_id/position.
func (h *Handlers) HandleMoveLine(c *gin.Context) {
	logger := requestLogger(c, "HandleMoveLine")

	ids, err := params(c, "edition_id", "fragment_id", "line_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}

	resp, err := h.svc.MoveLine(c.Request.Context(), ids[0], graph.NodeID(ids[1]), graph.NodeID(ids[2]), req.Previous, req.Next)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteLine handles DELETE .../fragments/:fragment_id/lines/:line_id.
func (h *Handlers) HandleDeleteLine(c *gin.Context) {
	logger := requestLogger(c, "HandleDeleteLine")

	ids, err := params(c, "edition_id", "fragment_id", "line_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	resp, err := h.svc.DeleteLine(c.Request.Context(), ids[0], graph.NodeID(ids[1]), graph.NodeID(ids[2]))
	if err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Realtime and health
// =============================================================================

// HandleRealtime handles GET /v1/editions/:edition_id/realtime.
//
// Description:
//
//	Upgrades to a websocket that receives one JSON realtime.Event per
//	accepted change to the edition.
func (h *Handlers) HandleRealtime(c *gin.Context) {
	logger := requestLogger(c, "HandleRealtime")

	if h.hub == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "realtime disabled", Code: "REALTIME_DISABLED"})
		return
	}
	edition, err := uintParam(c, "edition_id")
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if err := h.svc.CheckAccess(c.Request.Context(), edition, AccessRead); err != nil {
		respondError(c, logger, err)
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, edition); err != nil {
		logger.Warn("Realtime subscription failed", "edition_id", edition, "error", err)
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /ready.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: store unreachable or circuit open
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		Ready:   true,
		Backend: h.svc.Backend(),
		Caches:  h.svc.CacheStats(),
	}
	if err := h.svc.Ping(c.Request.Context()); err != nil {
		resp.Ready = false
		resp.Error = err.Error()
	}
	if h.breaker != nil {
		state := h.breaker.State()
		resp.CircuitState = state.String()
		if state == resilience.CircuitOpen {
			resp.Ready = false
		}
	}

	if !resp.Ready {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
