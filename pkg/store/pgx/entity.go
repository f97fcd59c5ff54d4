package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// reader implements store.Reader on either the pool or a transaction.
type reader struct {
	q querier
}

const selectEntitiesSQL = `
SELECT key, name, type, generic, embedding
FROM entities
`

const selectEntitySourcesSQL = `
SELECT entity_key, chunk_id, description, embedding
FROM entity_sources
WHERE entity_key = ANY($1)
ORDER BY entity_key, position
`

const similarEntitiesSQL = `
SELECT key, 1 - (embedding <=> $1) AS score
FROM entities
WHERE embedding IS NOT NULL
  AND vector_dims(embedding) = vector_dims($1)
  AND ($2 = '' OR type = $2)
  AND (NOT $3 OR NOT generic)
  AND 1 - (embedding <=> $1) >= $4
ORDER BY score DESC, key
LIMIT $5
`

const upsertEntitySQL = `
INSERT INTO entities (key, name, type, generic, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (key) DO UPDATE
SET name       = EXCLUDED.name,
    type       = EXCLUDED.type,
    generic    = EXCLUDED.generic,
    embedding  = EXCLUDED.embedding,
    updated_at = now()
`

const insertEntitySourceSQL = `
INSERT INTO entity_sources (entity_key, position, chunk_id, description, embedding)
VALUES ($1, $2, $3, $4, $5)
`

type sourceRow struct {
	owner  string
	source common.Source
}

func vectorOrNil(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func sliceOrNil(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

// attachSources distributes rows ordered by owner onto the items whose key
// matches, preserving the stored order.
func attachSources[T any](items []T, key func(*T) string, set func(*T, []common.Source), rows []sourceRow) {
	byOwner := make(map[string][]common.Source, len(items))
	for _, r := range rows {
		byOwner[r.owner] = append(byOwner[r.owner], r.source)
	}
	for i := range items {
		if sources, ok := byOwner[key(&items[i])]; ok {
			set(&items[i], sources)
		}
	}
}

func (r reader) queryEntities(ctx context.Context, where string, args ...any) ([]common.Entity, error) {
	rows, err := r.q.Query(ctx, selectEntitiesSQL+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	entities, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Entity, error) {
		var e common.Entity
		var emb *pgvector.Vector
		if err := row.Scan(&e.Key, &e.Name, &e.Type, &e.Generic, &emb); err != nil {
			return e, err
		}
		e.Embedding = sliceOrNil(emb)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}
	if len(entities) == 0 {
		return nil, nil
	}

	keys := make([]string, len(entities))
	for i, e := range entities {
		keys[i] = e.Key
	}
	sources, err := r.entitySources(ctx, keys)
	if err != nil {
		return nil, err
	}
	attachSources(entities,
		func(e *common.Entity) string { return e.Key },
		func(e *common.Entity, s []common.Source) { e.Sources = s },
		sources,
	)
	return entities, nil
}

func (r reader) entitySources(ctx context.Context, keys []string) ([]sourceRow, error) {
	var out []sourceRow
	err := store.ChunkRange(len(keys), 500, func(start, end int) error {
		rows, err := r.q.Query(ctx, selectEntitySourcesSQL, keys[start:end])
		if err != nil {
			return err
		}
		batch, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (sourceRow, error) {
			var s sourceRow
			var emb *pgvector.Vector
			if err := row.Scan(&s.owner, &s.source.ChunkID, &s.source.Description, &emb); err != nil {
				return s, err
			}
			s.source.Embedding = sliceOrNil(emb)
			return s, nil
		})
		if err != nil {
			return err
		}
		out = append(out, batch...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entity sources: %w", err)
	}
	return out, nil
}

func (r reader) GetEntity(ctx context.Context, key string) (common.Entity, bool, error) {
	entities, err := r.queryEntities(ctx, "WHERE key = $1", key)
	if err != nil {
		return common.Entity{}, false, err
	}
	if len(entities) == 0 {
		return common.Entity{}, false, nil
	}
	return entities[0], true, nil
}

func (r reader) EntitiesByType(ctx context.Context, typ string) ([]common.Entity, error) {
	return r.queryEntities(ctx, "WHERE type = $1 ORDER BY key", typ)
}

func (r reader) Entities(ctx context.Context) ([]common.Entity, error) {
	return r.queryEntities(ctx, "ORDER BY key")
}

func (r reader) SimilarEntities(ctx context.Context, q store.SimilarityQuery) ([]common.ScoredEntity, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}

	// A NULL limit is LIMIT ALL.
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	rows, err := r.q.Query(ctx, similarEntitiesSQL, pgvector.NewVector(q.Embedding), q.Type, q.NamedOnly, q.MinScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar entities: %w", err)
	}
	type hit struct {
		key   string
		score float64
	}
	hits, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (hit, error) {
		var h hit
		err := row.Scan(&h.key, &h.score)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read similar entities: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	keys := make([]string, len(hits))
	for i, h := range hits {
		keys[i] = h.key
	}
	entities, err := r.queryEntities(ctx, "WHERE key = ANY($1)", keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		byKey[e.Key] = e
	}

	out := make([]common.ScoredEntity, 0, len(hits))
	for _, h := range hits {
		e, ok := byKey[h.key]
		if !ok {
			continue
		}
		out = append(out, common.ScoredEntity{Entity: e, Score: h.score})
	}
	store.SortScoredEntities(out)
	return out, nil
}

func (t *graphTx) UpsertEntity(ctx context.Context, entity common.Entity) error {
	if entity.Key == "" {
		return fmt.Errorf("upsert entity: empty key")
	}

	if _, err := t.q.Exec(
		ctx,
		upsertEntitySQL,
		entity.Key,
		util.SanitizePostgresText(entity.Name),
		entity.Type,
		entity.Generic,
		vectorOrNil(entity.Embedding),
	); err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", entity.Key, err)
	}

	b := &pgxv5.Batch{}
	b.Queue("DELETE FROM entity_sources WHERE entity_key = $1", entity.Key)
	for i, s := range entity.Sources {
		b.Queue(
			insertEntitySourceSQL,
			entity.Key,
			i,
			s.ChunkID,
			util.SanitizePostgresText(s.Description),
			vectorOrNil(s.Embedding),
		)
	}
	if err := t.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("failed to store sources of entity %s: %w", entity.Key, err)
	}
	return nil
}
