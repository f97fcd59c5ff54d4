package server

import (
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Document routes
	apiRoutes.POST("/documents", routes.InsertDocumentHandler, middleware.RequirePermission(middleware.PermGraphWrite))

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler, middleware.RequirePermission(middleware.PermGraphRead))

	// Graph routes
	apiRoutes.GET("/entities/:key", routes.GetEntityHandler, middleware.RequirePermission(middleware.PermGraphRead))
	apiRoutes.GET("/entities/:key/neighbors", routes.GetEntityNeighborsHandler, middleware.RequirePermission(middleware.PermGraphRead))
	apiRoutes.GET("/stats", routes.GetStatsHandler, middleware.RequirePermission(middleware.PermGraphRead))
	apiRoutes.POST("/export/neo4j", routes.ExportNeo4jHandler, middleware.RequirePermission(middleware.PermGraphExport))
}
