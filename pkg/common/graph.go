package common

import (
	"cmp"
	"slices"
	"strings"
)

// Chunk is a contiguous piece of a document that is sent to the extraction
// service as one unit. Chunks are the provenance of every entity and
// relationship in the graph.
//
// ID is derived from the content so identical text always maps to the same
// chunk.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Content    string `json:"content"`
}

// Source is a single provenance record of an entity or relationship. It links
// the description produced for one chunk back to that chunk.
//
// Weight is the contribution of a relationship mention to the aggregated edge
// weight and is zero for entity sources.
type Source struct {
	ChunkID     string    `json:"chunk_id"`
	Description string    `json:"description"`
	Weight      float64   `json:"weight,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func compareSources(a, b Source) int {
	if c := cmp.Compare(a.ChunkID, b.ChunkID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Description, b.Description); c != 0 {
		return c
	}
	return cmp.Compare(a.Weight, b.Weight)
}

// MergeSources returns the multiset union of both source lists in canonical
// order. Duplicates are kept.
func MergeSources(a, b []Source) []Source {
	out := make([]Source, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.SortStableFunc(out, compareSources)
	return out
}

// SortSources orders sources canonically in place.
func SortSources(sources []Source) {
	slices.SortStableFunc(sources, compareSources)
}

func chunkIDs(sources []Source) []string {
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		if s.ChunkID == "" {
			continue
		}
		ids = append(ids, s.ChunkID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func renderDescription(sources []Source) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		d := strings.TrimSpace(s.Description)
		if d == "" {
			continue
		}
		parts = append(parts, d)
	}
	return strings.Join(parts, "\n")
}

// Entity is a node of the knowledge graph.
//
// Key is the identity of the entity inside a store. For named entities it is
// the canonical uppercase name, for generic mentions that never resolved to a
// named entity it is a synthetic TYPE:MENTION key.
type Entity struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Generic   bool      `json:"generic"`
	Sources   []Source  `json:"sources"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Description returns all accumulated descriptions, one per line.
func (e Entity) Description() string {
	return renderDescription(e.Sources)
}

// ChunkIDs returns the sorted set of chunks that contributed to the entity.
func (e Entity) ChunkIDs() []string {
	return chunkIDs(e.Sources)
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	c := e
	c.Sources = cloneSources(e.Sources)
	c.Embedding = slices.Clone(e.Embedding)
	return c
}

// PairKey identifies a relationship. For undirected graphs Source is always
// the lexicographically smaller key.
type PairKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// NewPairKey builds the identity of the edge between a and b.
func NewPairKey(a, b string, directed bool) PairKey {
	if !directed && b < a {
		a, b = b, a
	}
	return PairKey{Source: a, Target: b}
}

func (p PairKey) String() string {
	return p.Source + "<->" + p.Target
}

// Other returns the endpoint opposite to key.
func (p PairKey) Other(key string) string {
	if p.Source == key {
		return p.Target
	}
	return p.Source
}

// ComparePairKeys orders pair keys by source, then target.
func ComparePairKeys(a, b PairKey) int {
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}

// Relationship is an edge between two entity keys. Every extracted mention of
// the same pair adds a source and increases Weight.
type Relationship struct {
	Source  string   `json:"source"`
	Target  string   `json:"target"`
	Weight  float64  `json:"weight"`
	Sources []Source `json:"sources"`
}

// Pair returns the identity of the relationship.
func (r Relationship) Pair() PairKey {
	return PairKey{Source: r.Source, Target: r.Target}
}

// Description returns all accumulated descriptions, one per line.
func (r Relationship) Description() string {
	return renderDescription(r.Sources)
}

// ChunkIDs returns the sorted set of chunks that contributed to the edge.
func (r Relationship) ChunkIDs() []string {
	return chunkIDs(r.Sources)
}

// Contributions returns the weight contribution of every source.
func (r Relationship) Contributions() []float64 {
	out := make([]float64, len(r.Sources))
	for i, s := range r.Sources {
		out[i] = s.Weight
	}
	return out
}

// Clone returns a deep copy of the relationship.
func (r Relationship) Clone() Relationship {
	c := r
	c.Sources = cloneSources(r.Sources)
	return c
}

func cloneSources(sources []Source) []Source {
	if sources == nil {
		return nil
	}
	out := make([]Source, len(sources))
	for i, s := range sources {
		out[i] = s
		out[i].Embedding = slices.Clone(s.Embedding)
	}
	return out
}
