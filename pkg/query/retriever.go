package query

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
)

const (
	defaultDepth            = 2
	defaultHopDecay         = 0.5
	defaultGenericTopK      = 3
	defaultSimilarityWeight = 0.3

	namedSeedScore = 1.0
	typeSeedScore  = 0.5
)

// Retriever expands resolved entities into a ranked, budget-bounded subgraph.
type Retriever struct {
	embedder         ai.Embedder
	counter          chunk.TokenCounter
	depth            int
	hopDecay         float64
	genericTopK      int
	similarityWeight float64
}

// NewRetrieverParams configures a Retriever.
//
// Depth is the number of hops expanded from the seeds; zero selects the
// default of two and a negative value keeps only the seeds. SimilarityWeight
// in [0, 1] blends graph scores with the cosine similarity between an entity
// and the question, which needs an Embedder.
type NewRetrieverParams struct {
	Embedder         ai.Embedder
	TokenCounter     chunk.TokenCounter
	Depth            int
	HopDecay         float64
	GenericTopK      int
	SimilarityWeight float64
}

func NewRetriever(params NewRetrieverParams) *Retriever {
	r := &Retriever{
		embedder:         params.Embedder,
		counter:          params.TokenCounter,
		depth:            params.Depth,
		hopDecay:         params.HopDecay,
		genericTopK:      params.GenericTopK,
		similarityWeight: params.SimilarityWeight,
	}
	if r.counter == nil {
		r.counter = chunk.ApproxCounter{}
	}
	switch {
	case r.depth == 0:
		r.depth = defaultDepth
	case r.depth < 0:
		r.depth = 0
	}
	if r.hopDecay <= 0 || r.hopDecay > 1 {
		r.hopDecay = defaultHopDecay
	}
	if r.genericTopK <= 0 {
		r.genericTopK = defaultGenericTopK
	}
	if r.similarityWeight < 0 || r.similarityWeight > 1 {
		r.similarityWeight = defaultSimilarityWeight
	}
	return r
}

type retrieveOptions struct {
	tracer Tracer
}

type RetrieveOption func(*retrieveOptions)

// WithTracer records what the retrieval looked at and used.
func WithTracer(t Tracer) RetrieveOption {
	return func(o *retrieveOptions) {
		o.tracer = t
	}
}

type scoredPair struct {
	rel   common.Relationship
	score float64
}

// Retrieve builds the query context for res. Without any seed the context is
// empty. Running out of budget truncates the context and sets Truncated.
func (r *Retriever) Retrieve(
	ctx context.Context,
	s store.Reader,
	res *Resolution,
	budget Budget,
	opts ...RetrieveOption,
) (*common.QueryContext, error) {
	var o retrieveOptions
	for _, opt := range opts {
		opt(&o)
	}

	qc := &common.QueryContext{}
	if res == nil {
		return qc, nil
	}
	qc.Query = res.Query
	qc.Misses = slices.Clone(res.Misses)
	RecordResolutionMisses(o.tracer, res.Misses...)

	var queryEmbedding []float32
	if r.embedder != nil && r.similarityWeight > 0 && res.Query != "" {
		v, err := r.embedder.GenerateEmbedding(ctx, []byte(res.Query))
		if err != nil {
			logger.Warn("[Query] Failed to embed question, ranking by graph only", "err", err)
		} else {
			queryEmbedding = v
		}
	}

	seeds, err := r.seed(ctx, s, res, o.tracer)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		logger.Debug("[Query] No seed entities", "query", res.Query)
		return qc, nil
	}

	scores, depths, pairs, err := r.expand(ctx, s, seeds)
	if err != nil {
		return nil, err
	}

	entities := make([]common.ScoredEntity, 0, len(scores))
	for _, key := range slices.Sorted(maps.Keys(scores)) {
		e, ok, err := s.GetEntity(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s: %w", key, err)
		}
		if !ok {
			continue
		}
		score := scores[key]
		if queryEmbedding != nil && len(e.Embedding) > 0 {
			sim := common.CosineSimilarity(queryEmbedding, e.Embedding)
			score = (1-r.similarityWeight)*score + r.similarityWeight*sim
		}
		entities = append(entities, common.ScoredEntity{Entity: e, Score: score, Depth: depths[key]})
	}
	store.SortScoredEntities(entities)
	RecordQueriedEntityKeys(o.tracer, slices.Sorted(maps.Keys(scores))...)

	tokens := &tokenBudget{max: budget.MaxTokens}

	included := make(map[string]struct{})
	for _, e := range entities {
		if budget.MaxEntities > 0 && len(qc.Entities) >= budget.MaxEntities {
			qc.Truncated = true
			break
		}
		if !tokens.take(r.counter.Count(common.EntityLine(e.Entity))) {
			qc.Truncated = true
			break
		}
		qc.Entities = append(qc.Entities, e)
		included[e.Entity.Key] = struct{}{}
	}

	rels := make([]scoredPair, 0, len(pairs))
	for _, p := range pairs {
		_, okS := included[p.rel.Source]
		_, okT := included[p.rel.Target]
		if okS && okT {
			rels = append(rels, p)
		}
	}
	slices.SortFunc(rels, func(a, b scoredPair) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return common.ComparePairKeys(a.rel.Pair(), b.rel.Pair())
	})
	relKeys := make([]string, 0, len(rels))
	for _, p := range rels {
		relKeys = append(relKeys, p.rel.Pair().String())
	}
	RecordQueriedRelationshipKeys(o.tracer, relKeys...)

	for _, p := range rels {
		if budget.MaxRelationships > 0 && len(qc.Relationships) >= budget.MaxRelationships {
			qc.Truncated = true
			break
		}
		if !tokens.take(r.counter.Count(common.RelationshipLine(p.rel))) {
			qc.Truncated = true
			break
		}
		qc.Relationships = append(qc.Relationships, common.ScoredRelationship{Relationship: p.rel, Score: p.score})
	}

	chunks, err := r.rankChunks(ctx, s, qc)
	if err != nil {
		return nil, err
	}
	considered := make([]string, 0, len(chunks))
	for _, c := range chunks {
		considered = append(considered, c.Chunk.ID)
	}
	RecordConsideredChunkIDs(o.tracer, considered...)

	used := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if budget.MaxChunks > 0 && len(qc.Chunks) >= budget.MaxChunks {
			qc.Truncated = true
			break
		}
		if !tokens.take(r.counter.Count(common.ChunkLine(c.Chunk))) {
			qc.Truncated = true
			break
		}
		qc.Chunks = append(qc.Chunks, c)
		used = append(used, c.Chunk.ID)
	}
	RecordUsedChunkIDs(o.tracer, used...)

	logger.Debug(
		"[Query] Retrieved context",
		"entities", len(qc.Entities),
		"relationships", len(qc.Relationships),
		"chunks", len(qc.Chunks),
		"tokens", tokens.used,
		"truncated", qc.Truncated,
	)
	return qc, nil
}

// seed scores the starting entities. Named keys score 1. Generic candidates
// match by embedding similarity, or, without an embedder, seed the entities
// of the type they name ordered by degree.
func (r *Retriever) seed(ctx context.Context, s store.Reader, res *Resolution, tracer Tracer) (map[string]float64, error) {
	seeds := make(map[string]float64)
	raise := func(key string, score float64) {
		if cur, ok := seeds[key]; !ok || score > cur {
			seeds[key] = score
		}
	}
	for _, key := range res.Named {
		raise(key, namedSeedScore)
	}
	if len(res.Generic) == 0 {
		return seeds, nil
	}

	var vecs [][]float32
	if r.embedder != nil {
		texts := make([]string, len(res.Generic))
		for i, g := range res.Generic {
			texts[i] = g.Text()
		}
		v, err := ai.EmbedTexts(ctx, r.embedder, texts)
		if err != nil {
			logger.Warn("[Query] Failed to embed generic mentions, grouping by type", "err", err)
		} else {
			vecs = v
		}
	}

	var types []string
	for i, g := range res.Generic {
		if vecs != nil && len(vecs[i]) > 0 {
			matches, err := s.SimilarEntities(ctx, store.SimilarityQuery{
				Embedding: vecs[i],
				Type:      g.Type,
				Limit:     r.genericTopK,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to match %q: %w", g.Mention, err)
			}
			for _, m := range matches {
				if m.Score > 0 {
					raise(m.Entity.Key, m.Score)
				}
			}
			continue
		}
		if g.Type == "" {
			continue
		}
		types = append(types, g.Type)
		if err := r.seedType(ctx, s, g.Type, raise); err != nil {
			return nil, err
		}
	}
	RecordQueriedEntityTypes(tracer, types...)
	return seeds, nil
}

func (r *Retriever) seedType(ctx context.Context, s store.Reader, typ string, raise func(string, float64)) error {
	entities, err := s.EntitiesByType(ctx, typ)
	if err != nil {
		return fmt.Errorf("failed to list %s entities: %w", typ, err)
	}
	type ranked struct {
		key    string
		degree int
	}
	ranks := make([]ranked, 0, len(entities))
	for _, e := range entities {
		d, err := store.Degree(ctx, s, e.Key)
		if err != nil {
			return err
		}
		ranks = append(ranks, ranked{key: e.Key, degree: d})
	}
	slices.SortFunc(ranks, func(a, b ranked) int {
		if c := cmp.Compare(b.degree, a.degree); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	for i, rk := range ranks {
		if i >= r.genericTopK {
			break
		}
		raise(rk.key, typeSeedScore)
	}
	return nil
}

// expand runs a layered traversal from the seeds. After round d every entity
// carries the best score over paths of at most d hops, where a hop from u to
// v scores score(u) * hopDecay * w/(w+1). Relationships carry the best score
// of any hop across them.
func (r *Retriever) expand(
	ctx context.Context,
	s store.Reader,
	seeds map[string]float64,
) (map[string]float64, map[string]int, []scoredPair, error) {
	scores := maps.Clone(seeds)
	depths := make(map[string]int, len(seeds))
	for k := range seeds {
		depths[k] = 0
	}
	pairs := make(map[common.PairKey]scoredPair)
	neighbors := make(map[string][]common.Relationship)

	frontier := slices.Sorted(maps.Keys(seeds))
	for d := 1; d <= r.depth && len(frontier) > 0; d++ {
		prev := maps.Clone(scores)
		changed := make(map[string]struct{})

		for _, key := range frontier {
			rels, ok := neighbors[key]
			if !ok {
				var err error
				rels, err = s.Neighbors(ctx, key)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("failed to expand %s: %w", key, err)
				}
				neighbors[key] = rels
			}
			for _, rel := range rels {
				w := max(rel.Weight, 0)
				hop := prev[key] * r.hopDecay * w / (w + 1)
				pair := rel.Pair()
				if cur, ok := pairs[pair]; !ok || hop > cur.score {
					pairs[pair] = scoredPair{rel: rel, score: hop}
				}

				other := pair.Other(key)
				if _, ok := depths[other]; !ok {
					depths[other] = d
				}
				if cur, ok := scores[other]; !ok || hop > cur {
					scores[other] = hop
					changed[other] = struct{}{}
				}
			}
		}
		frontier = slices.Sorted(maps.Keys(changed))
	}

	return scores, depths, slices.Collect(maps.Values(pairs)), nil
}

// rankChunks scores every chunk cited by the selected items with the summed
// score of those items.
func (r *Retriever) rankChunks(ctx context.Context, s store.Reader, qc *common.QueryContext) ([]common.ScoredChunk, error) {
	sum := make(map[string]float64)
	for _, e := range qc.Entities {
		for _, id := range e.Entity.ChunkIDs() {
			sum[id] += e.Score
		}
	}
	for _, rel := range qc.Relationships {
		for _, id := range rel.Relationship.ChunkIDs() {
			sum[id] += rel.Score
		}
	}

	out := make([]common.ScoredChunk, 0, len(sum))
	for _, id := range slices.Sorted(maps.Keys(sum)) {
		c, ok, err := s.Chunk(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %s: %w", id, err)
		}
		if !ok {
			continue
		}
		out = append(out, common.ScoredChunk{Chunk: c, Score: sum[id]})
	}
	slices.SortStableFunc(out, func(a, b common.ScoredChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	return out, nil
}
