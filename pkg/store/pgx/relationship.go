package pgx

import (
	"context"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const selectRelationshipsSQL = `
SELECT source_key, target_key, weight
FROM relationships
`

const selectRelationshipSourcesSQL = `
SELECT source_key || E'\x1f' || target_key, chunk_id, description, weight
FROM relationship_sources
WHERE source_key || E'\x1f' || target_key = ANY($1)
ORDER BY source_key, target_key, position
`

const upsertRelationshipSQL = `
INSERT INTO relationships (source_key, target_key, weight, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (source_key, target_key) DO UPDATE
SET weight     = EXCLUDED.weight,
    updated_at = now()
`

const insertRelationshipSourceSQL = `
INSERT INTO relationship_sources (source_key, target_key, position, chunk_id, description, weight)
VALUES ($1, $2, $3, $4, $5, $6)
`

// pairID joins a pair into one value. The unit separator cannot appear in
// canonical keys.
func pairID(p common.PairKey) string {
	return p.Source + "\x1f" + p.Target
}

func (r reader) queryRelationships(ctx context.Context, where string, args ...any) ([]common.Relationship, error) {
	rows, err := r.q.Query(ctx, selectRelationshipsSQL+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	rels, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Relationship, error) {
		var rel common.Relationship
		err := row.Scan(&rel.Source, &rel.Target, &rel.Weight)
		return rel, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	if len(rels) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rels))
	for i, rel := range rels {
		ids[i] = pairID(rel.Pair())
	}

	var sources []sourceRow
	err = store.ChunkRange(len(ids), 500, func(start, end int) error {
		rows, err := r.q.Query(ctx, selectRelationshipSourcesSQL, ids[start:end])
		if err != nil {
			return err
		}
		batch, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (sourceRow, error) {
			var s sourceRow
			err := row.Scan(&s.owner, &s.source.ChunkID, &s.source.Description, &s.source.Weight)
			return s, err
		})
		if err != nil {
			return err
		}
		sources = append(sources, batch...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship sources: %w", err)
	}

	attachSources(rels,
		func(rel *common.Relationship) string { return pairID(rel.Pair()) },
		func(rel *common.Relationship, s []common.Source) { rel.Sources = s },
		sources,
	)
	return rels, nil
}

func (r reader) GetRelationship(ctx context.Context, pair common.PairKey) (common.Relationship, bool, error) {
	rels, err := r.queryRelationships(ctx, "WHERE source_key = $1 AND target_key = $2", pair.Source, pair.Target)
	if err != nil {
		return common.Relationship{}, false, err
	}
	if len(rels) == 0 {
		return common.Relationship{}, false, nil
	}
	return rels[0], true, nil
}

func (r reader) Neighbors(ctx context.Context, key string) ([]common.Relationship, error) {
	return r.queryRelationships(ctx, "WHERE source_key = $1 OR target_key = $1 ORDER BY source_key, target_key", key)
}

func (r reader) Relationships(ctx context.Context) ([]common.Relationship, error) {
	return r.queryRelationships(ctx, "ORDER BY source_key, target_key")
}

func (t *graphTx) UpsertRelationship(ctx context.Context, rel common.Relationship) error {
	if rel.Source == "" || rel.Target == "" {
		return fmt.Errorf("upsert relationship: empty endpoint")
	}

	endpoints := slices.Compact([]string{rel.Source, rel.Target})
	rows, err := t.q.Query(ctx, "SELECT key FROM entities WHERE key = ANY($1)", endpoints)
	if err != nil {
		return fmt.Errorf("failed to look up endpoints of %s: %w", rel.Pair(), err)
	}
	found, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to look up endpoints of %s: %w", rel.Pair(), err)
	}
	for _, key := range endpoints {
		if !slices.Contains(found, key) {
			return fmt.Errorf("upsert relationship %s: %w: entity %q", rel.Pair(), store.ErrNotFound, key)
		}
	}

	if _, err := t.q.Exec(ctx, upsertRelationshipSQL, rel.Source, rel.Target, rel.Weight); err != nil {
		return fmt.Errorf("failed to upsert relationship %s: %w", rel.Pair(), err)
	}

	b := &pgxv5.Batch{}
	b.Queue("DELETE FROM relationship_sources WHERE source_key = $1 AND target_key = $2", rel.Source, rel.Target)
	for i, s := range rel.Sources {
		b.Queue(
			insertRelationshipSourceSQL,
			rel.Source,
			rel.Target,
			i,
			s.ChunkID,
			util.SanitizePostgresText(s.Description),
			s.Weight,
		)
	}
	if err := t.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("failed to store sources of relationship %s: %w", rel.Pair(), err)
	}
	return nil
}
