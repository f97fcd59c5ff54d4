package routes

import (
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/query"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a question from the graph. only_context skips the
// answer model; budget overrides the configured context budget.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Question    string        `json:"question" validate:"required"`
		OnlyContext bool          `json:"only_context"`
		Budget      *query.Budget `json:"budget"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	var opts []graph.QueryOption
	if data.OnlyContext {
		opts = append(opts, graph.WithOnlyContext())
	}
	if data.Budget != nil {
		opts = append(opts, graph.WithBudget(*data.Budget))
	}

	app := c.(*middleware.AppContext).App
	resp, err := app.Graph.Query(c.Request().Context(), data.Question, opts...)
	if err != nil {
		logger.Error("[Server] Query failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	resp.Context = contextWithoutEmbeddings(resp.Context)
	return c.JSON(http.StatusOK, resp)
}

func contextWithoutEmbeddings(qc *common.QueryContext) *common.QueryContext {
	if qc == nil {
		return nil
	}
	out := *qc
	out.Entities = slices.Clone(qc.Entities)
	for i := range out.Entities {
		out.Entities[i].Entity.Embedding = nil
		out.Entities[i].Entity.Sources = withoutEmbeddings(out.Entities[i].Entity.Sources)
	}
	out.Relationships = slices.Clone(qc.Relationships)
	for i := range out.Relationships {
		out.Relationships[i].Relationship.Sources = withoutEmbeddings(out.Relationships[i].Relationship.Sources)
	}
	return &out
}
