package query

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

// Resolution is the outcome of resolving the entities of a question.
type Resolution struct {
	Query string `json:"query"`
	// Named holds the store keys of named mentions, in mention order.
	Named []string `json:"named"`
	// Misses holds named mentions that matched no stored entity.
	Misses []string `json:"misses,omitempty"`
	// Generic holds type-only mentions. Type is set when the mention is
	// itself one of the configured entity types.
	Generic []common.GenericCandidate `json:"generic,omitempty"`
}

// Empty reports whether there is nothing to seed retrieval with.
func (r *Resolution) Empty() bool {
	return r == nil || (len(r.Named) == 0 && len(r.Generic) == 0)
}

// Resolver maps the entity mentions of a question onto store keys.
type Resolver struct {
	extractor ai.QueryExtractor
	canon     *canon.Canonicalizer
	store     store.Reader
}

type NewResolverParams struct {
	Extractor     ai.QueryExtractor
	Canonicalizer *canon.Canonicalizer
	Store         store.Reader
}

func NewResolver(params NewResolverParams) (*Resolver, error) {
	if params.Extractor == nil {
		return nil, errors.New("resolver needs a query extractor")
	}
	if params.Store == nil {
		return nil, errors.New("resolver needs a store")
	}
	c := params.Canonicalizer
	if c == nil {
		c = canon.New(canon.NewTypes())
	}
	return &Resolver{extractor: params.Extractor, canon: c, store: params.Store}, nil
}

// Resolve extracts the mentions of query and looks up named ones. A named
// mention without a stored entity is recorded as a miss, never as an error.
func (r *Resolver) Resolve(ctx context.Context, query string, pc ai.PromptContext) (*Resolution, error) {
	if len(pc.EntityTypes) == 0 {
		pc.EntityTypes = r.canon.Types().Names()
	}
	extraction, err := r.extractor.ExtractQuery(ctx, query, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to extract query entities: %w", err)
	}
	return r.resolve(ctx, query, extraction)
}

func (r *Resolver) resolve(ctx context.Context, query string, extraction *ai.QueryExtraction) (*Resolution, error) {
	res := &Resolution{Query: query}
	seen := make(map[string]struct{})

	for _, mention := range extraction.Named {
		key := canon.Canonicalize(mention, "")
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		_, ok, err := r.store.GetEntity(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", key, err)
		}
		if !ok {
			res.Misses = append(res.Misses, canon.Normalize(mention))
			continue
		}
		res.Named = append(res.Named, key)
	}

	seenGeneric := make(map[string]struct{})
	for _, mention := range extraction.Generic {
		mention = canon.Normalize(mention)
		if mention == "" {
			continue
		}
		if _, ok := seenGeneric[mention]; ok {
			continue
		}
		seenGeneric[mention] = struct{}{}

		typ, _ := r.canon.Types().Normalize(mention)
		res.Generic = append(res.Generic, common.GenericCandidate{Type: typ, Mention: mention})
	}

	logger.Debug(
		"[Query] Resolved question",
		"named", len(res.Named),
		"misses", len(res.Misses),
		"generic", len(res.Generic),
	)
	return res, nil
}
