package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/config"
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/queue"
	mid "github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader/s3"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/neo4j"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho builds the HTTP server for app with all routes registered.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("[Server] Request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e)
	return e
}

// NewApp wires the graph engine and the optional collaborators described by
// cfg. The returned cleanup releases everything that was opened.
func NewApp(ctx context.Context, cfg *config.Config) (*mid.App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*mid.App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	backend, err := cfg.OpenBackend(ctx)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if err := backend.Close(); err != nil {
			logger.Error("[Server] Failed to close store", "err", err)
		}
	})

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		return fail(err)
	}
	g, err := graph.NewGraphClient(cfg.GraphParams(backend.Store, aiClient))
	if err != nil {
		return fail(err)
	}

	kf, err := mid.NewKeyfunc(cfg.Auth.JWKSURL, cfg.Auth.Secret)
	if err != nil {
		return fail(err)
	}

	app := &mid.App{
		Graph:        g,
		Store:        backend.Store,
		AfterInsert:  backend.Save,
		Keyfunc:      kf,
		MasterAPIKey: cfg.Auth.MasterAPIKey,
	}
	if !app.AuthEnabled() {
		logger.Warn("[Server] No authentication configured, every request acts as admin")
	}

	if url := cfg.Queue.URL(); url != "" {
		conn, err := queue.Init(url)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { conn.Close() })

		ch, err := conn.Channel()
		if err != nil {
			return fail(fmt.Errorf("failed to open channel: %w", err))
		}
		if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
			return fail(err)
		}
		app.Queue = ch
	}

	if cfg.S3.Bucket != "" {
		objects, err := s3.NewS3GraphFileLoader(ctx, s3.NewS3GraphFileLoaderParams{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return fail(err)
		}
		app.Objects = objects
	}

	if cfg.Store.Neo4jURI != "" {
		exporter, err := neo4j.NewExporter(ctx, neo4j.NewExporterParams{
			URI:      cfg.Store.Neo4jURI,
			User:     cfg.Store.Neo4jUser,
			Password: cfg.Store.Neo4jPass,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { exporter.Close(context.Background()) })
		app.Exporter = exporter
	}

	return app, cleanup, nil
}

// Init runs the HTTP server until SIGINT or SIGTERM.
func Init(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := NewApp(ctx, cfg)
	if err != nil {
		logger.Fatal("[Server] Failed to initialize", "err", err)
	}
	defer cleanup()

	e := NewEcho(app)

	go func() {
		logger.Info("[Server] Starting server", "port", cfg.Port, "store", cfg.Store.Backend)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("[Server] Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] Failed to shutdown server", "err", err)
	}
}
