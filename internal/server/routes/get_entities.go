package routes

import (
	"context"
	"net/http"
	"net/url"
	"slices"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/canon"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"

	"github.com/labstack/echo/v4"
)

type entityResponse struct {
	common.Entity
	Description string   `json:"description"`
	ChunkIDs    []string `json:"chunk_ids"`
}

type relationshipResponse struct {
	common.Relationship
	Description string   `json:"description"`
	ChunkIDs    []string `json:"chunk_ids"`
}

// lookupEntity accepts either a stored key or a name that canonicalizes to
// one.
func lookupEntity(ctx context.Context, r store.Reader, raw string) (common.Entity, bool, error) {
	key, err := url.PathUnescape(raw)
	if err != nil {
		key = raw
	}
	e, ok, err := r.GetEntity(ctx, key)
	if err != nil || ok {
		return e, ok, err
	}
	return r.GetEntity(ctx, canon.Canonicalize(key, ""))
}

// withoutEmbeddings copies sources without their vectors, which clients
// never need.
func withoutEmbeddings(sources []common.Source) []common.Source {
	out := slices.Clone(sources)
	for i := range out {
		out[i].Embedding = nil
	}
	return out
}

func newEntityResponse(e common.Entity) entityResponse {
	e.Embedding = nil
	e.Sources = withoutEmbeddings(e.Sources)
	return entityResponse{Entity: e, Description: e.Description(), ChunkIDs: e.ChunkIDs()}
}

// GetEntityHandler returns one entity with its provenance.
func GetEntityHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	e, ok, err := lookupEntity(c.Request().Context(), app.Store, c.Param("key"))
	if err != nil {
		logger.Error("[Server] Failed to get entity", "key", c.Param("key"), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}
	return c.JSON(http.StatusOK, newEntityResponse(e))
}

// GetEntityNeighborsHandler returns the relationships touching an entity.
func GetEntityNeighborsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	e, ok, err := lookupEntity(ctx, app.Store, c.Param("key"))
	if err != nil {
		logger.Error("[Server] Failed to get entity", "key", c.Param("key"), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
	}

	rels, err := app.Store.Neighbors(ctx, e.Key)
	if err != nil {
		logger.Error("[Server] Failed to get neighbors", "key", e.Key, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	out := make([]relationshipResponse, len(rels))
	for i, r := range rels {
		out[i] = relationshipResponse{Relationship: r, Description: r.Description(), ChunkIDs: r.ChunkIDs()}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"entity":        e.Key,
		"relationships": out,
	})
}
