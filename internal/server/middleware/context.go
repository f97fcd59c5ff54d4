package middleware

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/queue"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/neo4j"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// ObjectStore keeps uploaded document text for the queue worker.
type ObjectStore interface {
	PutText(ctx context.Context, key string, text []byte) error
}

// Exporter copies the graph to an external database.
type Exporter interface {
	Export(ctx context.Context, r store.Reader) (*neo4j.ExportReport, error)
}

// App holds everything the handlers share. Queue, Objects and Exporter are
// optional; without a queue documents are inserted synchronously.
type App struct {
	Graph       *graph.GraphClient
	Store       store.GraphStorage
	Queue       queue.Publisher
	Objects     ObjectStore
	Exporter    Exporter
	AfterInsert func() error

	// Keyfunc verifies bearer tokens. It is nil when only the master key
	// is accepted.
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
}

// AuthEnabled reports whether requests need a bearer token.
func (a *App) AuthEnabled() bool {
	return a.Keyfunc != nil || a.MasterAPIKey != ""
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app, nil})
		}
	}
}
