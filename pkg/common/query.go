package common

import (
	"fmt"
	"strings"
)

// ScoredEntity is an entity selected for a query context.
type ScoredEntity struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
	Depth  int     `json:"depth"`
}

// ScoredRelationship is a relationship selected for a query context.
type ScoredRelationship struct {
	Relationship Relationship `json:"relationship"`
	Score        float64      `json:"score"`
}

// ScoredChunk is a source chunk cited by the selected entities and
// relationships.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// QueryContext is the budget-bounded subgraph handed to answer synthesis. It
// lives for a single query.
type QueryContext struct {
	Query         string               `json:"query"`
	Entities      []ScoredEntity       `json:"entities"`
	Relationships []ScoredRelationship `json:"relationships"`
	Chunks        []ScoredChunk        `json:"chunks"`
	Misses        []string             `json:"misses,omitempty"`
	Truncated     bool                 `json:"truncated"`
}

// Empty reports whether retrieval found nothing.
func (q *QueryContext) Empty() bool {
	return q == nil || len(q.Entities) == 0
}

// EntityLine renders one entity the way it appears in the context.
func EntityLine(e Entity) string {
	return fmt.Sprintf("%s,%s: %s", e.Name, e.Key, oneLine(e.Description()))
}

// RelationshipLine renders one relationship the way it appears in the context.
func RelationshipLine(r Relationship) string {
	return fmt.Sprintf("%s,%.2f: %s", r.Pair().String(), r.Weight, oneLine(r.Description()))
}

// ChunkLine renders one source chunk the way it appears in the context.
func ChunkLine(c Chunk) string {
	return fmt.Sprintf("[[%s]]: %s", c.ID, oneLine(c.Content))
}

// Render formats the context for the answer prompt.
func (q *QueryContext) Render() string {
	if q.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant Entities:\n")
	for _, e := range q.Entities {
		b.WriteString(EntityLine(e.Entity))
		b.WriteString("\n")
	}
	if len(q.Relationships) > 0 {
		b.WriteString("\nConnecting Relationships:\n")
		for _, r := range q.Relationships {
			b.WriteString(RelationshipLine(r.Relationship))
			b.WriteString("\n")
		}
	}
	if len(q.Chunks) > 0 {
		b.WriteString("\nSources:\n")
		for _, c := range q.Chunks {
			b.WriteString(ChunkLine(c.Chunk))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
