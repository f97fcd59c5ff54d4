package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/config"
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/queue"
	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader/s3"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger/console"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	if cfg.Queue.URL() == "" {
		logger.Fatal("RABBITMQ_HOST is required for the worker")
	}

	backend, err := cfg.OpenBackend(ctx)
	if err != nil {
		logger.Fatal("Failed to open store", "err", err)
	}
	defer backend.Close()

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}
	g, err := graph.NewGraphClient(cfg.GraphParams(backend.Store, aiClient))
	if err != nil {
		logger.Fatal("Failed to create graph client", "err", err)
	}

	var files loader.GraphFileLoader
	if cfg.S3.Bucket != "" {
		files, err = s3.NewS3GraphFileLoader(ctx, s3.NewS3GraphFileLoaderParams{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			logger.Fatal("Failed to create S3 loader", "err", err)
		}
	}

	// Leases only matter when several workers share one database.
	var leases *leaselock.Client
	if backend.Pool != nil {
		leases = leaselock.New(backend.Pool)
	}

	worker := queue.NewIngestWorker(queue.NewIngestWorkerParams{
		Graph:       g,
		Files:       files,
		Leases:      leases,
		LeaseTTL:    cfg.Graph.TaskTimeout,
		AfterInsert: backend.Save,
	})

	conn, err := queue.Init(cfg.Queue.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	// One message at a time per worker.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.IngestQueue, "store", cfg.Store.Backend)

	err = queue.Consume(ctx, ch, queue.IngestQueue, func(ctx context.Context, body []byte) error {
		start := time.Now()
		_, err := worker.Process(ctx, body)
		logMetrics(aiClient, time.Since(start))
		return err
	})
	if err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

func logMetrics(aiClient ai.GraphAIClient, processing time.Duration) {
	metrics := aiClient.GetMetrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	logger.Info("Processing time", "duration", clock(processing))
	aiClient.ResetMetrics()
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
