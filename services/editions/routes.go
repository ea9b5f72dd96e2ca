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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all edition routes with the router.
//
// Description:
//
//	Registers all /v1/editions/:edition_id/* endpoints with the given Gin
//	router group. The group should already have PrincipalMiddleware and
//	any tracing middleware applied.
//
// Sign Interpretation Endpoints:
//
//	POST   /v1/editions/:edition_id/sign-interpretations
//	GET    /v1/editions/:edition_id/sign-interpretations/:sign_id
//	DELETE /v1/editions/:edition_id/sign-interpretations/:sign_id?leave_gap=true
//	PUT    /v1/editions/:edition_id/sign-interpretations/:sign_id/commentary
//	PUT    /v1/editions/:edition_id/sign-interpretations/:sign_id/attributes/:value_id
//	DELETE /v1/editions/:edition_id/sign-interpretations/:sign_id/attributes/:value_id
//	POST   /v1/editions/:edition_id/sign-interpretations/:sign_id/regions
//	DELETE /v1/editions/:edition_id/sign-interpretations/:sign_id/regions/:region_id
//
// Stream Endpoints:
//
//	POST   /v1/editions/:edition_id/links
//	DELETE /v1/editions/:edition_id/links
//	GET    /v1/editions/:edition_id/stream/roots
//	GET    /v1/editions/:edition_id/stream/paths?from=&include=
//
// Catalog Endpoints:
//
//	GET    /v1/editions/:edition_id/attributes
//	POST   /v1/editions/:edition_id/attributes
//	DELETE /v1/editions/:edition_id/attributes/:attribute_id
//
// Fragment and Line Endpoints:
//
//	GET    /v1/editions/:edition_id/fragments
//	POST   /v1/editions/:edition_id/fragments
//	PUT    /v1/editions/:edition_id/fragments/:fragment_id/position
//	DELETE /v1/editions/:edition_id/fragments/:fragment_id
//	GET    /v1/editions/:edition_id/fragments/:fragment_id/lines
//	POST   /v1/editions/:edition_id/fragments/:fragment_id/lines
//	PUT    /v1/editions/:edition_id/fragments/:fragment_id/lines/:line_id/position
//	DELETE /v1/editions/:edition_id/fragments/:fragment_id/lines/:line_id
//
// Realtime:
//
//	GET    /v1/editions/:edition_id/realtime (websocket)
//
// Example:
//
//	service := editions.NewService(store, editions.DefaultServiceConfig())
//	handlers := editions.NewHandlers(service)
//
//	v1 := router.Group("/v1", editions.PrincipalMiddleware())
//	editions.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	edition := rg.Group("/editions/:edition_id")
	{
		signs := edition.Group("/sign-interpretations")
		{
			signs.POST("", handlers.HandleCreateSign)
			signs.GET("/:sign_id", handlers.HandleGetSign)
			signs.DELETE("/:sign_id", handlers.HandleDeleteSign)
			signs.PUT("/:sign_id/commentary", handlers.HandleSetCommentary)
			signs.PUT("/:sign_id/attributes/:value_id", handlers.HandleSetAttribute)
			signs.DELETE("/:sign_id/attributes/:value_id", handlers.HandleRemoveAttribute)
			signs.POST("/:sign_id/regions", handlers.HandleAddRegion)
			signs.DELETE("/:sign_id/regions/:region_id", handlers.HandleRemoveRegion)
		}

		edition.POST("/links", handlers.HandleLink)
		edition.DELETE("/links", handlers.HandleUnlink)
		edition.GET("/stream/roots", handlers.HandleRoots)
		edition.GET("/stream/paths", handlers.HandlePaths)

		edition.GET("/attributes", handlers.HandleListAttributes)
		edition.POST("/attributes", handlers.HandleDefineAttribute)
		edition.DELETE("/attributes/:attribute_id", handlers.HandleDeleteAttribute)

		fragments := edition.Group("/fragments")
		{
			fragments.GET("", handlers.HandleListFragments)
			fragments.POST("", handlers.HandleCreateFragment)
			fragments.PUT("/:fragment_id/position", handlers.HandleMoveFragment)
			fragments.DELETE("/:fragment_id", handlers.HandleDeleteFragment)
			fragments.GET("/:fragment_id/lines", handlers.HandleListLines)
			fragments.POST("/:fragment_id/lines", handlers.HandleCreateLine)
			fragments.PUT("/:fragment_id/lines/:line_id/position", handlers.HandleMoveLine)
			fragments.DELETE("/:fragment_id/lines/:line_id", handlers.HandleDeleteLine)
		}

		edition.GET("/realtime", handlers.HandleRealtime)
	}
}

// RegisterHealthRoutes registers GET /health and GET /ready on the root
// router.
func RegisterHealthRoutes(r gin.IRoutes, handlers *Handlers) {
	r.GET("/health", handlers.HandleHealth)
	r.GET("/ready", handlers.HandleReady)
}
