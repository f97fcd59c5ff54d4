package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// IngestMessage asks a worker to insert one document. The text is either
// inline or stored under ObjectKey.
type IngestMessage struct {
	DocumentID    string `json:"document_id"`
	ObjectKey     string `json:"object_key,omitempty"`
	Text          string `json:"text,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (m IngestMessage) validate() error {
	if m.DocumentID == "" {
		return errors.New("ingest message without document id")
	}
	if m.ObjectKey == "" && m.Text == "" {
		return fmt.Errorf("ingest message for %s carries no text", m.DocumentID)
	}
	return nil
}

// Inserter is the part of the graph client the worker needs.
type Inserter interface {
	Insert(ctx context.Context, doc graph.Document) (*graph.InsertReport, error)
}

// IngestWorker inserts queued documents.
type IngestWorker struct {
	graph       Inserter
	files       loader.GraphFileLoader
	leases      *leaselock.Client
	leaseTTL    time.Duration
	afterInsert func() error
}

// NewIngestWorkerParams configures an IngestWorker. Files loads documents
// referenced by object key. With Leases set, a document is inserted by one
// worker at a time. AfterInsert runs after every successful insertion.
type NewIngestWorkerParams struct {
	Graph       Inserter
	Files       loader.GraphFileLoader
	Leases      *leaselock.Client
	LeaseTTL    time.Duration
	AfterInsert func() error
}

func NewIngestWorker(params NewIngestWorkerParams) *IngestWorker {
	return &IngestWorker{
		graph:       params.Graph,
		files:       params.Files,
		leases:      params.Leases,
		leaseTTL:    params.LeaseTTL,
		afterInsert: params.AfterInsert,
	}
}

// Process decodes and inserts one message body.
func (w *IngestWorker) Process(ctx context.Context, body []byte) (*graph.InsertReport, error) {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode ingest message: %w", err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}

	file := loader.NewGraphTextFile(msg.DocumentID, msg.Text)
	if msg.Text == "" {
		file = loader.NewGraphFile(loader.NewGraphFileParams{
			ID:       msg.DocumentID,
			FilePath: msg.ObjectKey,
			Loader:   w.files,
		})
	}

	var report *graph.InsertReport
	insert := func(ctx context.Context) error {
		text, err := file.GetText(ctx)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", msg.DocumentID, err)
		}
		report, err = w.graph.Insert(ctx, graph.Document{ID: msg.DocumentID, Text: string(text)})
		if err != nil {
			return err
		}
		if w.afterInsert != nil {
			return w.afterInsert()
		}
		return nil
	}

	var err error
	if w.leases != nil {
		err = w.leases.WithLease(ctx, leaselock.DocumentKey(msg.DocumentID), leaselock.Options{TTL: w.leaseTTL}, insert)
	} else {
		err = insert(ctx)
	}
	if err != nil {
		return report, err
	}

	logger.Info(
		"[Queue] Document ingested",
		"document_id", msg.DocumentID,
		"correlation_id", msg.CorrelationID,
		"merged", report.Merged,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
	return report, nil
}

// Consume delivers messages of queueName to handle one at a time until ctx
// is done or the channel closes. Failed messages go through
// HandleProcessingError.
func Consume(ctx context.Context, ch *amqp091.Channel, queueName string, handle func(ctx context.Context, body []byte) error) error {
	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("[Queue] Message channel closed", "queue", queueName)
				return nil
			}
			handleDelivery(ctx, ch, msg, queueName, handle)
		}
	}
}

func handleDelivery(ctx context.Context, p Publisher, msg amqp091.Delivery, queueName string, handle func(ctx context.Context, body []byte) error) {
	start := time.Now()
	logger.Info("[Queue] Received message", "queue", queueName)

	if err := handle(ctx, msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
		HandleProcessingError(p, msg, queueName)
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
		return
	}
	logger.Info("[Queue] Message processed", "queue", queueName, "duration", time.Since(start))
}
