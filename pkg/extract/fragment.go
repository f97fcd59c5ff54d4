package extract

import (
	"strings"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/canon"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
)

// refKey is how relationship endpoints are matched against the entities of
// the same extraction.
func refKey(raw string) string {
	return strings.ToUpper(canon.Normalize(raw))
}

// identity is the within-chunk identity of a fragment entity.
func identity(e common.FragmentEntity) string {
	if e.Resolved() {
		return e.Key
	}
	return canon.GenericKey(e.Type, e.Candidate.Mention)
}

// BuildFragment canonicalizes a raw extraction into the fragment of chunk.
//
// Entities with a type outside the configured set are dropped. Repeated
// mentions of one entity collapse into a single fragment entity whose
// descriptions are appended. Relationships are dropped when an endpoint was
// not extracted or both endpoints are the same entity; repeated relationships
// between the same ordered pair are collapsed.
func BuildFragment(c *canon.Canonicalizer, chunk common.Chunk, raw *ai.GraphExtraction) *common.FragmentGraph {
	frag := &common.FragmentGraph{Chunk: chunk}
	if raw == nil {
		return frag
	}

	byIdentity := make(map[string]int)
	byRef := make(map[string]int)
	dropped := 0

	for _, re := range raw.Entities {
		fe, ok := c.Classify(re.Name, re.Type, re.Description)
		if !ok {
			dropped++
			continue
		}
		id := identity(fe)
		if idx, ok := byIdentity[id]; ok {
			existing := &frag.Entities[idx]
			if existing.Type != fe.Type {
				dropped++
				continue
			}
			existing.Description = common.AppendDescription(existing.Description, fe.Description)
			if fe.Candidate != nil {
				existing.Candidate.Description = existing.Description
			}
			if fe.Name < existing.Name {
				existing.Name = fe.Name
			}
			byRef[refKey(re.Name)] = idx
			continue
		}
		idx := len(frag.Entities)
		frag.Entities = append(frag.Entities, fe)
		byIdentity[id] = idx
		byRef[refKey(re.Name)] = idx
		byRef[refKey(fe.Name)] = idx
	}

	type pair struct{ source, target int }
	byPair := make(map[pair]int)

	for _, rr := range raw.Relationships {
		s, okS := byRef[refKey(rr.Source)]
		t, okT := byRef[refKey(rr.Target)]
		if !okS || !okT || s == t {
			dropped++
			continue
		}
		strength := rr.Strength
		if strength <= 0 || strength > 1 {
			strength = 1
		}
		description := strings.TrimSpace(rr.Description)

		p := pair{s, t}
		if idx, ok := byPair[p]; ok {
			existing := &frag.Relationships[idx]
			existing.Description = common.AppendDescription(existing.Description, description)
			existing.Strength = max(existing.Strength, strength)
			continue
		}
		byPair[p] = len(frag.Relationships)
		frag.Relationships = append(frag.Relationships, common.FragmentRelationship{
			Source:      s,
			Target:      t,
			Description: description,
			Strength:    strength,
		})
	}

	if dropped > 0 {
		logger.Debug("[Extract] Dropped invalid items", "chunk_id", chunk.ID, "count", dropped)
	}
	return frag
}
