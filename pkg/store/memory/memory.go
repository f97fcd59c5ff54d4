package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
)

// Store is an in-process GraphStorage. Entities and relationships live in
// append-only slices addressed through key indices, and adjacency is kept as
// relationship indices per entity key.
//
// A single writer holds the lock for the duration of Update. Writes go to an
// overlay that is applied only when the update function succeeds.
type Store struct {
	mu sync.RWMutex

	entities  []common.Entity
	entityIdx map[string]int

	relationships []common.Relationship
	relIdx        map[common.PairKey]int
	adjacency     map[string][]int

	chunks map[string]common.Chunk
}

var _ store.GraphStorage = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		entityIdx: make(map[string]int),
		relIdx:    make(map[common.PairKey]int),
		adjacency: make(map[string][]int),
		chunks:    make(map[string]common.Chunk),
	}
}

// Update runs fn inside a write transaction.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTxn(s)
	if err := fn(t); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *txn) {
	keys := make([]string, 0, len(t.entities))
	for k := range t.entities {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		e := t.entities[k]
		if idx, ok := s.entityIdx[k]; ok {
			s.entities[idx] = e
			continue
		}
		s.entityIdx[k] = len(s.entities)
		s.entities = append(s.entities, e)
	}

	pairs := make([]common.PairKey, 0, len(t.relationships))
	for p := range t.relationships {
		pairs = append(pairs, p)
	}
	slices.SortFunc(pairs, common.ComparePairKeys)
	for _, p := range pairs {
		r := t.relationships[p]
		if idx, ok := s.relIdx[p]; ok {
			s.relationships[idx] = r
			continue
		}
		idx := len(s.relationships)
		s.relIdx[p] = idx
		s.relationships = append(s.relationships, r)
		s.adjacency[p.Source] = append(s.adjacency[p.Source], idx)
		if p.Target != p.Source {
			s.adjacency[p.Target] = append(s.adjacency[p.Target], idx)
		}
	}

	for id, c := range t.chunks {
		s.chunks[id] = c
	}
}

func (s *Store) view() *txn {
	return &txn{store: s}
}

func (s *Store) GetEntity(ctx context.Context, key string) (common.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetEntity(ctx, key)
}

func (s *Store) GetRelationship(ctx context.Context, pair common.PairKey) (common.Relationship, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetRelationship(ctx, pair)
}

func (s *Store) Neighbors(ctx context.Context, key string) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Neighbors(ctx, key)
}

func (s *Store) EntitiesByType(ctx context.Context, typ string) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().EntitiesByType(ctx, typ)
}

func (s *Store) SimilarEntities(ctx context.Context, q store.SimilarityQuery) ([]common.ScoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().SimilarEntities(ctx, q)
}

func (s *Store) Chunk(ctx context.Context, id string) (common.Chunk, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Chunk(ctx, id)
}

func (s *Store) Entities(ctx context.Context) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Entities(ctx)
}

func (s *Store) Relationships(ctx context.Context) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Relationships(ctx)
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Stats(ctx)
}

// txn layers pending writes over the committed state. A txn without overlay
// maps is a plain read view; lookups on nil maps simply miss.
type txn struct {
	store *Store

	entities      map[string]common.Entity
	relationships map[common.PairKey]common.Relationship
	adjacency     map[string][]common.PairKey
	chunks        map[string]common.Chunk
}

func newTxn(s *Store) *txn {
	return &txn{
		store:         s,
		entities:      make(map[string]common.Entity),
		relationships: make(map[common.PairKey]common.Relationship),
		adjacency:     make(map[string][]common.PairKey),
		chunks:        make(map[string]common.Chunk),
	}
}

func (t *txn) entity(key string) (common.Entity, bool) {
	if e, ok := t.entities[key]; ok {
		return e, true
	}
	if idx, ok := t.store.entityIdx[key]; ok {
		return t.store.entities[idx], true
	}
	return common.Entity{}, false
}

func (t *txn) relationship(pair common.PairKey) (common.Relationship, bool) {
	if r, ok := t.relationships[pair]; ok {
		return r, true
	}
	if idx, ok := t.store.relIdx[pair]; ok {
		return t.store.relationships[idx], true
	}
	return common.Relationship{}, false
}

// eachEntity visits the committed entities in arena order, substituting
// pending versions, followed by entities that only exist in the overlay.
func (t *txn) eachEntity(fn func(common.Entity)) {
	for _, e := range t.store.entities {
		if pending, ok := t.entities[e.Key]; ok {
			fn(pending)
			continue
		}
		fn(e)
	}
	for k, e := range t.entities {
		if _, ok := t.store.entityIdx[k]; !ok {
			fn(e)
		}
	}
}

func (t *txn) eachRelationship(fn func(common.Relationship)) {
	for _, r := range t.store.relationships {
		if pending, ok := t.relationships[r.Pair()]; ok {
			fn(pending)
			continue
		}
		fn(r)
	}
	for p, r := range t.relationships {
		if _, ok := t.store.relIdx[p]; !ok {
			fn(r)
		}
	}
}

func (t *txn) GetEntity(_ context.Context, key string) (common.Entity, bool, error) {
	e, ok := t.entity(key)
	if !ok {
		return common.Entity{}, false, nil
	}
	return e.Clone(), true, nil
}

func (t *txn) GetRelationship(_ context.Context, pair common.PairKey) (common.Relationship, bool, error) {
	r, ok := t.relationship(pair)
	if !ok {
		return common.Relationship{}, false, nil
	}
	return r.Clone(), true, nil
}

func (t *txn) Neighbors(_ context.Context, key string) ([]common.Relationship, error) {
	pairs := make([]common.PairKey, 0, len(t.store.adjacency[key])+len(t.adjacency[key]))
	for _, idx := range t.store.adjacency[key] {
		pairs = append(pairs, t.store.relationships[idx].Pair())
	}
	pairs = append(pairs, t.adjacency[key]...)
	slices.SortFunc(pairs, common.ComparePairKeys)
	pairs = slices.Compact(pairs)

	out := make([]common.Relationship, 0, len(pairs))
	for _, p := range pairs {
		if r, ok := t.relationship(p); ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (t *txn) EntitiesByType(_ context.Context, typ string) ([]common.Entity, error) {
	var out []common.Entity
	t.eachEntity(func(e common.Entity) {
		if e.Type == typ {
			out = append(out, e.Clone())
		}
	})
	sortEntities(out)
	return out, nil
}

func (t *txn) SimilarEntities(_ context.Context, q store.SimilarityQuery) ([]common.ScoredEntity, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}
	var out []common.ScoredEntity
	t.eachEntity(func(e common.Entity) {
		if q.Type != "" && e.Type != q.Type {
			return
		}
		if q.NamedOnly && e.Generic {
			return
		}
		if len(e.Embedding) != len(q.Embedding) {
			return
		}
		score := common.CosineSimilarity(q.Embedding, e.Embedding)
		if score < q.MinScore {
			return
		}
		out = append(out, common.ScoredEntity{Entity: e.Clone(), Score: score})
	})
	store.SortScoredEntities(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (t *txn) Chunk(_ context.Context, id string) (common.Chunk, bool, error) {
	if c, ok := t.chunks[id]; ok {
		return c, true, nil
	}
	c, ok := t.store.chunks[id]
	return c, ok, nil
}

func (t *txn) Entities(_ context.Context) ([]common.Entity, error) {
	out := make([]common.Entity, 0, len(t.store.entities)+len(t.entities))
	t.eachEntity(func(e common.Entity) {
		out = append(out, e.Clone())
	})
	sortEntities(out)
	return out, nil
}

func (t *txn) Relationships(_ context.Context) ([]common.Relationship, error) {
	out := make([]common.Relationship, 0, len(t.store.relationships)+len(t.relationships))
	t.eachRelationship(func(r common.Relationship) {
		out = append(out, r.Clone())
	})
	slices.SortFunc(out, func(a, b common.Relationship) int {
		return common.ComparePairKeys(a.Pair(), b.Pair())
	})
	return out, nil
}

func (t *txn) Stats(_ context.Context) (store.Stats, error) {
	st := store.Stats{
		Entities:      len(t.store.entities),
		Relationships: len(t.store.relationships),
		Chunks:        len(t.store.chunks),
	}
	for k := range t.entities {
		if _, ok := t.store.entityIdx[k]; !ok {
			st.Entities++
		}
	}
	for p := range t.relationships {
		if _, ok := t.store.relIdx[p]; !ok {
			st.Relationships++
		}
	}
	for id := range t.chunks {
		if _, ok := t.store.chunks[id]; !ok {
			st.Chunks++
		}
	}
	return st, nil
}

func (t *txn) UpsertEntity(_ context.Context, entity common.Entity) error {
	if entity.Key == "" {
		return fmt.Errorf("upsert entity: empty key")
	}
	t.entities[entity.Key] = entity.Clone()
	return nil
}

func (t *txn) UpsertRelationship(_ context.Context, rel common.Relationship) error {
	if rel.Source == "" || rel.Target == "" {
		return fmt.Errorf("upsert relationship: empty endpoint")
	}
	for _, key := range []string{rel.Source, rel.Target} {
		if _, ok := t.entity(key); !ok {
			return fmt.Errorf("upsert relationship %s: %w: entity %q", rel.Pair(), store.ErrNotFound, key)
		}
	}

	pair := rel.Pair()
	_, existed := t.relationship(pair)
	t.relationships[pair] = rel.Clone()
	if !existed {
		t.adjacency[pair.Source] = append(t.adjacency[pair.Source], pair)
		if pair.Target != pair.Source {
			t.adjacency[pair.Target] = append(t.adjacency[pair.Target], pair)
		}
	}
	return nil
}

func (t *txn) PutChunk(_ context.Context, chunk common.Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("put chunk: empty id")
	}
	t.chunks[chunk.ID] = chunk
	return nil
}

func sortEntities(entities []common.Entity) {
	slices.SortFunc(entities, func(a, b common.Entity) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
}
