// Package upsert merges fragment graphs into a graph store.
//
// Merging only ever adds: entities gain sources, relationships gain sources
// and weight. Entity and relationship sources are kept as sorted multisets
// and weights are functions of those multisets, so the merged graph does not
// depend on the order in which fragments arrive. The two exceptions are
// generic mentions, which resolve against whatever named entities the store
// holds at merge time, and cross-type clashes, where the first type wins.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/canon"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
)

// Config controls how fragments are merged.
type Config struct {
	Aggregation      Aggregation
	Decay            float64
	Directed         bool
	AllowCrossType   bool
	GenericThreshold float64
	UseStrength      bool
}

// DefaultConfig returns the default merge configuration: undirected edges,
// summed weights, no cross-type aliasing.
func DefaultConfig() Config {
	return Config{
		Aggregation:      AggregateSum,
		Decay:            0.5,
		GenericThreshold: 0.8,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if _, err := ParseAggregation(string(c.Aggregation)); err != nil {
		return err
	}
	if c.Aggregation == AggregateDecay && (c.Decay <= 0 || c.Decay > 1) {
		return fmt.Errorf("decay must be in (0, 1], got %v", c.Decay)
	}
	if c.GenericThreshold < -1 || c.GenericThreshold > 1 {
		return fmt.Errorf("generic threshold must be a cosine similarity, got %v", c.GenericThreshold)
	}
	return nil
}

// MergeReport describes what a single merge changed.
type MergeReport struct {
	ChunkID              string                       `json:"chunk_id"`
	EntitiesCreated      []string                     `json:"entities_created"`
	EntitiesUpdated      []string                     `json:"entities_updated"`
	RelationshipsCreated []common.PairKey             `json:"relationships_created"`
	RelationshipsUpdated []common.PairKey             `json:"relationships_updated"`
	GenericResolved      map[string]string            `json:"generic_resolved,omitempty"`
	Conflicts            []*common.MergeConflictError `json:"-"`
	SkippedRelationships int                          `json:"skipped_relationships"`
}

// Policy merges fragments into a store.
type Policy struct {
	cfg      Config
	embedder ai.Embedder
}

// NewPolicyParams configures a Policy. Zero fields of Config take their
// default. Without an Embedder, generic mentions never resolve to named
// entities and entities carry no embeddings.
type NewPolicyParams struct {
	Config   Config
	Embedder ai.Embedder
}

func NewPolicy(params NewPolicyParams) (*Policy, error) {
	cfg := params.Config
	def := DefaultConfig()
	if cfg.Aggregation == "" {
		cfg.Aggregation = def.Aggregation
	}
	if cfg.Decay == 0 {
		cfg.Decay = def.Decay
	}
	if cfg.GenericThreshold == 0 {
		cfg.GenericThreshold = def.GenericThreshold
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merge config: %w", err)
	}
	return &Policy{cfg: cfg, embedder: params.Embedder}, nil
}

// Config returns the active configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

func entityText(e common.FragmentEntity) string {
	if e.Candidate != nil {
		return e.Candidate.Text()
	}
	if e.Description == "" {
		return e.Name
	}
	return e.Name + ": " + e.Description
}

// embed fills in fragment entity embeddings. It runs before the store lock is
// taken. Failures degrade to merging without embeddings.
func (p *Policy) embed(ctx context.Context, frag *common.FragmentGraph) {
	if p.embedder == nil || len(frag.Entities) == 0 {
		return
	}
	texts := make([]string, len(frag.Entities))
	for i, e := range frag.Entities {
		if len(e.Embedding) > 0 {
			continue
		}
		texts[i] = entityText(e)
	}
	vecs, err := ai.EmbedTexts(ctx, p.embedder, texts)
	if err != nil {
		logger.Warn("[Upsert] Embedding failed, merging without embeddings", "chunk_id", frag.Chunk.ID, "err", err)
		return
	}
	for i, v := range vecs {
		if v != nil {
			frag.Entities[i].Embedding = v
		}
	}
}

// Merge applies one fragment to the store in a single update. Cross-type
// clashes do not fail the merge; the clashing entity and its relationships
// are skipped and listed in the report. Any other error leaves the store
// untouched.
func (p *Policy) Merge(ctx context.Context, s store.GraphStorage, frag *common.FragmentGraph) (*MergeReport, error) {
	if frag == nil {
		return nil, errors.New("nil fragment")
	}
	p.embed(ctx, frag)

	var report *MergeReport
	err := s.Update(ctx, func(tx store.Tx) error {
		report = &MergeReport{ChunkID: frag.Chunk.ID}
		return p.apply(ctx, tx, frag, report)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge chunk %s: %w", frag.Chunk.ID, err)
	}

	for _, c := range report.Conflicts {
		logger.Warn("[Upsert] Skipped conflicting entity", "key", c.Key, "existing", c.ExistingType, "incoming", c.IncomingType, "chunk_id", c.ChunkID)
	}
	logger.Debug(
		"[Upsert] Merged fragment",
		"chunk_id", frag.Chunk.ID,
		"entities_created", len(report.EntitiesCreated),
		"entities_updated", len(report.EntitiesUpdated),
		"relationships_created", len(report.RelationshipsCreated),
		"relationships_updated", len(report.RelationshipsUpdated),
	)
	return report, nil
}

func (p *Policy) apply(ctx context.Context, tx store.Tx, frag *common.FragmentGraph, report *MergeReport) error {
	if frag.Chunk.ID != "" {
		if err := tx.PutChunk(ctx, frag.Chunk); err != nil {
			return err
		}
	}

	keys := make([]string, len(frag.Entities))
	for i, fe := range frag.Entities {
		key, err := p.mergeEntity(ctx, tx, frag.Chunk.ID, fe, report)
		if err != nil {
			return err
		}
		keys[i] = key
	}

	// A chunk contributes once per pair, so mentions that land on the same
	// stored pair (reverse directions, or generics resolved onto one key)
	// are folded together first.
	type mention struct {
		pair common.PairKey
		rel  common.FragmentRelationship
	}
	var mentions []mention
	byPair := make(map[common.PairKey]int)
	for _, fr := range frag.Relationships {
		if fr.Source < 0 || fr.Source >= len(keys) || fr.Target < 0 || fr.Target >= len(keys) {
			report.SkippedRelationships++
			continue
		}
		source, target := keys[fr.Source], keys[fr.Target]
		if source == "" || target == "" || source == target {
			report.SkippedRelationships++
			continue
		}
		pair := common.NewPairKey(source, target, p.cfg.Directed)
		if i, ok := byPair[pair]; ok {
			m := &mentions[i]
			m.rel.Description = common.AppendDescription(m.rel.Description, fr.Description)
			m.rel.Strength = max(m.rel.Strength, fr.Strength)
			continue
		}
		byPair[pair] = len(mentions)
		mentions = append(mentions, mention{pair: pair, rel: fr})
	}

	for _, m := range mentions {
		if err := p.mergeRelationship(ctx, tx, frag.Chunk.ID, m.pair, m.rel, report); err != nil {
			return err
		}
	}
	return nil
}

// resolveKey returns the store key for a fragment entity and whether it is a
// generic entity.
func (p *Policy) resolveKey(ctx context.Context, tx store.Tx, fe common.FragmentEntity, report *MergeReport) (string, bool, error) {
	if fe.Resolved() {
		return fe.Key, false, nil
	}
	if len(fe.Embedding) > 0 {
		matches, err := tx.SimilarEntities(ctx, store.SimilarityQuery{
			Embedding: fe.Embedding,
			Type:      fe.Type,
			NamedOnly: true,
			Limit:     1,
			MinScore:  p.cfg.GenericThreshold,
		})
		if err != nil {
			return "", false, err
		}
		if len(matches) > 0 {
			if report.GenericResolved == nil {
				report.GenericResolved = make(map[string]string)
			}
			report.GenericResolved[fe.Candidate.Mention] = matches[0].Entity.Key
			return matches[0].Entity.Key, false, nil
		}
	}
	return canon.GenericKey(fe.Type, fe.Candidate.Mention), true, nil
}

// mergeEntity returns the key the entity was merged under, or "" when it was
// skipped because of a type clash.
func (p *Policy) mergeEntity(
	ctx context.Context,
	tx store.Tx,
	chunkID string,
	fe common.FragmentEntity,
	report *MergeReport,
) (string, error) {
	key, generic, err := p.resolveKey(ctx, tx, fe, report)
	if err != nil {
		return "", err
	}

	src := common.Source{ChunkID: chunkID, Description: fe.Description, Embedding: fe.Embedding}

	existing, ok, err := tx.GetEntity(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		entity := common.Entity{
			Key:     key,
			Name:    fe.Name,
			Type:    fe.Type,
			Generic: generic,
			Sources: []common.Source{src},
		}
		entity.Embedding = common.MeanEmbedding(entity.Sources)
		if err := tx.UpsertEntity(ctx, entity); err != nil {
			return "", err
		}
		report.EntitiesCreated = append(report.EntitiesCreated, key)
		return key, nil
	}

	if existing.Type != fe.Type && !p.cfg.AllowCrossType {
		report.Conflicts = append(report.Conflicts, &common.MergeConflictError{
			Key:          key,
			ExistingType: existing.Type,
			IncomingType: fe.Type,
			ChunkID:      chunkID,
		})
		return "", nil
	}

	existing.Sources = common.MergeSources(existing.Sources, []common.Source{src})
	// Generic mentions resolved onto a named entity never rename it.
	if (fe.Resolved() || existing.Generic) && fe.Name != "" && fe.Name < existing.Name {
		existing.Name = fe.Name
	}
	if emb := common.MeanEmbedding(existing.Sources); emb != nil {
		existing.Embedding = emb
	}
	if err := tx.UpsertEntity(ctx, existing); err != nil {
		return "", err
	}
	report.EntitiesUpdated = append(report.EntitiesUpdated, key)
	return key, nil
}

func (p *Policy) mergeRelationship(
	ctx context.Context,
	tx store.Tx,
	chunkID string,
	pair common.PairKey,
	fr common.FragmentRelationship,
	report *MergeReport,
) error {
	contribution := 1.0
	if p.cfg.UseStrength && fr.Strength > 0 {
		contribution = fr.Strength
	}
	src := common.Source{ChunkID: chunkID, Description: fr.Description, Weight: contribution}

	rel, ok, err := tx.GetRelationship(ctx, pair)
	if err != nil {
		return err
	}
	if ok {
		rel.Sources = common.MergeSources(rel.Sources, []common.Source{src})
		report.RelationshipsUpdated = append(report.RelationshipsUpdated, pair)
	} else {
		rel = common.Relationship{
			Source:  pair.Source,
			Target:  pair.Target,
			Sources: []common.Source{src},
		}
		report.RelationshipsCreated = append(report.RelationshipsCreated, pair)
	}
	rel.Weight = Aggregate(p.cfg.Aggregation, p.cfg.Decay, rel.Contributions())
	return tx.UpsertRelationship(ctx, rel)
}
