// Package query turns a question into a budget-bounded subgraph.
//
// A Resolver maps the entities mentioned in a question onto store keys. A
// Retriever expands from those keys through the graph, ranks what it reaches
// and packs the best items into a common.QueryContext until the budget runs
// out.
package query

// Budget bounds the size of a query context. A zero field means unlimited.
type Budget struct {
	MaxEntities      int `json:"max_entities"`
	MaxRelationships int `json:"max_relationships"`
	MaxChunks        int `json:"max_chunks"`
	MaxTokens        int `json:"max_tokens"`
}

// DefaultBudget returns the budget used when none is configured.
func DefaultBudget() Budget {
	return Budget{
		MaxEntities:      32,
		MaxRelationships: 64,
		MaxChunks:        8,
		MaxTokens:        8000,
	}
}

// tokenBudget tracks the shared token allowance of one retrieval.
type tokenBudget struct {
	max  int
	used int
}

func (b *tokenBudget) take(n int) bool {
	if b.max > 0 && b.used+n > b.max {
		return false
	}
	b.used += n
	return true
}
