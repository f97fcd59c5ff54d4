package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"

	"github.com/labstack/echo/v4"
)

func GetStatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	stats, err := app.Store.Stats(c.Request().Context())
	if err != nil {
		logger.Error("[Server] Failed to get stats", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, stats)
}
