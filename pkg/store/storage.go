package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
)

// ErrNotFound is returned by lookups that address a single item by identity
// when the caller asked for a hard failure instead of the (value, ok) form.
var ErrNotFound = errors.New("not found")

// Stats summarizes the size of a graph.
type Stats struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Chunks        int `json:"chunks"`
}

// SimilarityQuery describes a nearest-neighbour lookup over entity embeddings.
// An empty Type matches every type. Results below MinScore are dropped.
type SimilarityQuery struct {
	Embedding []float32
	Type      string
	NamedOnly bool
	Limit     int
	MinScore  float64
}

// Reader is the read side of the graph. All returned values are copies, so
// callers may keep or mutate them freely.
//
// Listings are ordered deterministically: entities by key, relationships by
// pair key, similarity results by descending score and then key.
type Reader interface {
	GetEntity(ctx context.Context, key string) (common.Entity, bool, error)
	GetRelationship(ctx context.Context, pair common.PairKey) (common.Relationship, bool, error)
	Neighbors(ctx context.Context, key string) ([]common.Relationship, error)
	EntitiesByType(ctx context.Context, typ string) ([]common.Entity, error)
	SimilarEntities(ctx context.Context, q SimilarityQuery) ([]common.ScoredEntity, error)
	Chunk(ctx context.Context, id string) (common.Chunk, bool, error)
	Entities(ctx context.Context) ([]common.Entity, error)
	Relationships(ctx context.Context) ([]common.Relationship, error)
	Stats(ctx context.Context) (Stats, error)
}

// Tx is a write transaction. Reads through a Tx observe its own writes.
// Upserts replace the stored value for the item's identity.
type Tx interface {
	Reader
	UpsertEntity(ctx context.Context, entity common.Entity) error
	UpsertRelationship(ctx context.Context, rel common.Relationship) error
	PutChunk(ctx context.Context, chunk common.Chunk) error
}

// GraphStorage persists a knowledge graph.
//
// Update runs fn with exclusive write access. If fn returns an error none of
// its writes become visible. Readers never observe a partially applied
// update.
type GraphStorage interface {
	Reader
	Update(ctx context.Context, fn func(tx Tx) error) error
}
