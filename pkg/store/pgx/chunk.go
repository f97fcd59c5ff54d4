package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const selectChunkSQL = `
SELECT id, document_id, chunk_index, start_offset, end_offset, content
FROM chunks
WHERE id = $1
`

// Chunks are content addressed, so an existing row never changes.
const putChunkSQL = `
INSERT INTO chunks (id, document_id, chunk_index, start_offset, end_offset, content)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`

const statsSQL = `
SELECT
    (SELECT count(*) FROM entities),
    (SELECT count(*) FROM relationships),
    (SELECT count(*) FROM chunks)
`

func (r reader) Chunk(ctx context.Context, id string) (common.Chunk, bool, error) {
	var c common.Chunk
	err := r.q.QueryRow(ctx, selectChunkSQL, id).Scan(&c.ID, &c.DocumentID, &c.Index, &c.Start, &c.End, &c.Content)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Chunk{}, false, nil
	}
	if err != nil {
		return common.Chunk{}, false, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	return c, true, nil
}

func (r reader) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	if err := r.q.QueryRow(ctx, statsSQL).Scan(&st.Entities, &st.Relationships, &st.Chunks); err != nil {
		return store.Stats{}, fmt.Errorf("failed to count graph: %w", err)
	}
	return st, nil
}

func (t *graphTx) PutChunk(ctx context.Context, chunk common.Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("put chunk: empty id")
	}
	_, err := t.q.Exec(
		ctx,
		putChunkSQL,
		chunk.ID,
		chunk.DocumentID,
		chunk.Index,
		chunk.Start,
		chunk.End,
		util.SanitizePostgresText(chunk.Content),
	)
	if err != nil {
		return fmt.Errorf("failed to put chunk %s: %w", chunk.ID, err)
	}
	return nil
}
