// Package neo4j copies a stored graph into Neo4j for exploration with
// Cypher and the Neo4j browser. Export is idempotent: nodes and edges are
// merged by key, so exporting twice leaves one copy.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultBatchSize = 500

const constraintCypher = `
CREATE CONSTRAINT entity_key IF NOT EXISTS
FOR (e:Entity) REQUIRE e.key IS UNIQUE
`

const mergeEntitiesCypher = `
UNWIND $rows AS row
MERGE (e:Entity {key: row.key})
SET e.name = row.name,
    e.type = row.type,
    e.generic = row.generic,
    e.description = row.description,
    e.chunk_ids = row.chunk_ids
`

const mergeRelationshipsCypher = `
UNWIND $rows AS row
MATCH (s:Entity {key: row.source})
MATCH (t:Entity {key: row.target})
MERGE (s)-[r:RELATED_TO]->(t)
SET r.weight = row.weight,
    r.description = row.description,
    r.chunk_ids = row.chunk_ids
`

type writeFunc func(ctx context.Context, cypher string, params map[string]any) error

// Exporter writes graphs to one Neo4j database.
type Exporter struct {
	driver    neo4j.DriverWithContext
	write     writeFunc
	batchSize int
}

type NewExporterParams struct {
	URI      string
	User     string
	Password string
	Database string

	BatchSize int
}

// ExportReport counts what was written.
type ExportReport struct {
	Entities      int           `json:"entities"`
	Relationships int           `json:"relationships"`
	Duration      time.Duration `json:"duration"`
}

// NewExporter connects to Neo4j and verifies the connection.
func NewExporter(ctx context.Context, params NewExporterParams) (*Exporter, error) {
	if params.URI == "" {
		return nil, errors.New("neo4j uri is empty")
	}
	driver, err := neo4j.NewDriverWithContext(
		params.URI,
		neo4j.BasicAuth(params.User, params.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	e := &Exporter{driver: driver, batchSize: params.BatchSize}
	e.write = func(ctx context.Context, cypher string, p map[string]any) error {
		session := driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeWrite,
			DatabaseName: params.Database,
		})
		defer session.Close(ctx)

		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, cypher, p)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		return err
	}
	return e, nil
}

// Close releases the driver.
func (e *Exporter) Close(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

// Export copies every entity and relationship readable from r. Entities are
// written before relationships so that every edge finds its endpoints.
func (e *Exporter) Export(ctx context.Context, r store.Reader) (*ExportReport, error) {
	start := time.Now()

	entities, err := r.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	rels, err := r.Relationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	if err := e.write(ctx, constraintCypher, nil); err != nil {
		return nil, fmt.Errorf("failed to create constraint: %w", err)
	}

	batch := e.batchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	err = store.ChunkRange(len(entities), batch, func(start, end int) error {
		return e.write(ctx, mergeEntitiesCypher, map[string]any{"rows": entityRows(entities[start:end])})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export entities: %w", err)
	}

	err = store.ChunkRange(len(rels), batch, func(start, end int) error {
		return e.write(ctx, mergeRelationshipsCypher, map[string]any{"rows": relationshipRows(rels[start:end])})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export relationships: %w", err)
	}

	report := &ExportReport{
		Entities:      len(entities),
		Relationships: len(rels),
		Duration:      time.Since(start),
	}
	logger.Info("[Neo4j] Exported graph", "entities", report.Entities, "relationships", report.Relationships, "duration", report.Duration)
	return report, nil
}

func entityRows(entities []common.Entity) []map[string]any {
	rows := make([]map[string]any, len(entities))
	for i, ent := range entities {
		rows[i] = map[string]any{
			"key":         ent.Key,
			"name":        ent.Name,
			"type":        ent.Type,
			"generic":     ent.Generic,
			"description": ent.Description(),
			"chunk_ids":   ent.ChunkIDs(),
		}
	}
	return rows
}

func relationshipRows(rels []common.Relationship) []map[string]any {
	rows := make([]map[string]any, len(rels))
	for i, rel := range rels {
		rows[i] = map[string]any{
			"source":      rel.Source,
			"target":      rel.Target,
			"weight":      rel.Weight,
			"description": rel.Description(),
			"chunk_ids":   rel.ChunkIDs(),
		}
	}
	return rows
}
