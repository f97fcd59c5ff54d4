package common

import (
	"reflect"
	"testing"
)

func TestNewPairKey(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		directed bool
		want     PairKey
	}{
		{name: "undirected keeps order", a: "MARLEY", b: "SCROOGE", want: PairKey{"MARLEY", "SCROOGE"}},
		{name: "undirected swaps", a: "SCROOGE", b: "MARLEY", want: PairKey{"MARLEY", "SCROOGE"}},
		{name: "directed keeps order", a: "SCROOGE", b: "MARLEY", directed: true, want: PairKey{"SCROOGE", "MARLEY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPairKey(tt.a, tt.b, tt.directed)
			if got != tt.want {
				t.Fatalf("NewPairKey(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMergeSourcesIsOrderIndependent(t *testing.T) {
	a := []Source{{ChunkID: "b", Description: "second"}, {ChunkID: "a", Description: "first"}}
	b := []Source{{ChunkID: "c", Description: "third"}, {ChunkID: "a", Description: "first"}}

	ab := MergeSources(a, b)
	ba := MergeSources(b, a)
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("merge is order dependent:\n%v\n%v", ab, ba)
	}
	if len(ab) != 4 {
		t.Fatalf("expected duplicates to be kept, got %d sources", len(ab))
	}
}

func TestEntityChunkIDs(t *testing.T) {
	e := Entity{Sources: []Source{
		{ChunkID: "b"}, {ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: ""},
	}}
	got := e.ChunkIDs()
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ChunkIDs() = %v, want %v", got, want)
	}
}

func TestEntityDescriptionAppends(t *testing.T) {
	e := Entity{Sources: []Source{
		{ChunkID: "a", Description: "A miser."},
		{ChunkID: "b", Description: "  "},
		{ChunkID: "c", Description: "A miser."},
	}}
	if got, want := e.Description(), "A miser.\nA miser."; got != want {
		t.Fatalf("Description() = %q, want %q", got, want)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("expected identical vectors to score 1, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to score 0, got %f", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("expected length mismatch to score 0, got %f", got)
	}
}

func TestMeanEmbedding(t *testing.T) {
	got := MeanEmbedding([]Source{
		{Embedding: []float32{1, 3}},
		{},
		{Embedding: []float32{3, 1}},
	})
	want := []float32{2, 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MeanEmbedding() = %v, want %v", got, want)
	}
	if MeanEmbedding(nil) != nil {
		t.Fatal("expected nil for no embeddings")
	}
}
