package store

import (
	"context"
	"slices"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
)

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize items.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty and repeated values, keeping first occurrences.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortScoredEntities orders by descending score, then key.
func SortScoredEntities(items []common.ScoredEntity) {
	slices.SortStableFunc(items, func(a, b common.ScoredEntity) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		switch {
		case a.Entity.Key < b.Entity.Key:
			return -1
		case a.Entity.Key > b.Entity.Key:
			return 1
		}
		return 0
	})
}

// Degree returns the number of relationships touching key.
func Degree(ctx context.Context, r Reader, key string) (int, error) {
	rels, err := r.Neighbors(ctx, key)
	if err != nil {
		return 0, err
	}
	return len(rels), nil
}
