package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ExportNeo4jHandler copies the graph into the configured Neo4j database.
func ExportNeo4jHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Exporter == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "Neo4j export is not configured"})
	}

	report, err := app.Exporter.Export(c.Request().Context(), app.Store)
	if err != nil {
		logger.Error("[Server] Neo4j export failed", "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Export failed"})
	}
	return c.JSON(http.StatusOK, report)
}
