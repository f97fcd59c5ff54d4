package extract

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/canon"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
)

type fakeExtractor struct {
	results map[string]*ai.GraphExtraction
	errs    map[string]error
	stall   map[string]time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (f *fakeExtractor) ExtractGraph(ctx context.Context, chunk common.Chunk, _ ai.PromptContext) (*ai.GraphExtraction, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if d := f.stall[chunk.ID]; d > 0 {
		// ignores ctx on purpose, the orchestrator must still time out
		time.Sleep(d)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.errs[chunk.ID]; err != nil {
		return nil, err
	}
	return f.results[chunk.ID], nil
}

func scroogeExtraction() *ai.GraphExtraction {
	return &ai.GraphExtraction{
		Entities: []ai.ExtractedEntity{
			{Name: "Scrooge", Type: "Character", Description: "a miser"},
			{Name: "Marley", Type: "Character", Description: "Scrooge's dead partner"},
		},
		Relationships: []ai.ExtractedRelationship{
			{Source: "Scrooge", Target: "Marley", Description: "business partners", Strength: 0.9},
		},
	}
}

func testCanon() *canon.Canonicalizer {
	return canon.New(canon.NewTypes("Character", "Place", "Animal"))
}

func TestBuildFragment(t *testing.T) {
	raw := &ai.GraphExtraction{
		Entities: []ai.ExtractedEntity{
			{Name: "Scrooge", Type: "character", Description: "a miser"},
			{Name: "SCROOGE", Type: "Character", Description: "lives alone"},
			{Name: "Christmas", Type: "Holiday", Description: "unknown type"},
			{Name: "a dog", Type: "Animal", Description: "follows a blind man"},
			{Name: "London", Type: "Place", Description: "a city"},
		},
		Relationships: []ai.ExtractedRelationship{
			{Source: "Scrooge", Target: "London", Description: "lives in"},
			{Source: "scrooge", Target: "London", Description: "works in", Strength: 0.5},
			{Source: "Scrooge", Target: "Christmas", Description: "hates"},
			{Source: "Scrooge", Target: "SCROOGE", Description: "self"},
			{Source: "a dog", Target: "London", Description: "roams"},
		},
	}

	frag := BuildFragment(testCanon(), common.Chunk{ID: "c1"}, raw)

	if len(frag.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %+v", frag.Entities)
	}
	scrooge := frag.Entities[0]
	if scrooge.Key != "SCROOGE" || scrooge.Type != "Character" {
		t.Fatalf("unexpected first entity %+v", scrooge)
	}
	if scrooge.Description != "a miser\nlives alone" {
		t.Fatalf("descriptions not appended: %q", scrooge.Description)
	}
	if scrooge.Name != "SCROOGE" {
		t.Fatalf("expected lexicographically smallest name, got %q", scrooge.Name)
	}
	dog := frag.Entities[1]
	if dog.Resolved() || dog.Candidate.Type != "Animal" || dog.Candidate.Mention != "a dog" {
		t.Fatalf("expected generic candidate, got %+v", dog)
	}

	if len(frag.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %+v", frag.Relationships)
	}
	lives := frag.Relationships[0]
	if lives.Description != "lives in\nworks in" || lives.Strength != 1 {
		t.Fatalf("duplicate relationship not collapsed: %+v", lives)
	}
	if frag.Relationships[1].Source != 1 || frag.Relationships[1].Target != 2 {
		t.Fatalf("generic endpoint not resolved by mention: %+v", frag.Relationships[1])
	}
}

func TestBuildFragmentKeepsRepeatedDescriptions(t *testing.T) {
	raw := &ai.GraphExtraction{
		Entities: []ai.ExtractedEntity{
			{Name: "Scrooge", Type: "Character", Description: "a miser"},
			{Name: "Scrooge", Type: "Character", Description: "a miser"},
			{Name: "Marley", Type: "Character", Description: "dead"},
		},
		Relationships: []ai.ExtractedRelationship{
			{Source: "Scrooge", Target: "Marley", Description: "partners"},
			{Source: "Scrooge", Target: "Marley", Description: "partners"},
		},
	}

	frag := BuildFragment(testCanon(), common.Chunk{ID: "c1"}, raw)

	if got := frag.Entities[0].Description; got != "a miser\na miser" {
		t.Fatalf("identical entity descriptions were dropped: %q", got)
	}
	if len(frag.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %+v", frag.Relationships)
	}
	if got := frag.Relationships[0].Description; got != "partners\npartners" {
		t.Fatalf("identical relationship descriptions were dropped: %q", got)
	}
}

func TestExtractOneFailedChunk(t *testing.T) {
	chunks := []common.Chunk{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}
	boom := errors.New("service unavailable")
	f := &fakeExtractor{
		results: map[string]*ai.GraphExtraction{"c1": scroogeExtraction(), "c3": scroogeExtraction()},
		errs:    map[string]error{"c2": boom},
	}
	o := NewOrchestrator(NewOrchestratorParams{Extractor: f, Canonicalizer: testCanon(), Parallel: 2})

	fragments, failures := Collect(o.Extract(t.Context(), chunks, ai.PromptContext{}))

	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}
	if len(failures) != 1 || failures[0].ChunkID != "c2" || !errors.Is(failures[0], boom) {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	seen := map[string]bool{}
	for _, fr := range fragments {
		seen[fr.Chunk.ID] = true
	}
	if !seen["c1"] || !seen["c3"] {
		t.Fatalf("fragments lost their provenance: %v", seen)
	}
}

func TestExtractEmptyResultFails(t *testing.T) {
	f := &fakeExtractor{results: map[string]*ai.GraphExtraction{
		"c1": {Entities: []ai.ExtractedEntity{{Name: "Xmas", Type: "Holiday"}}},
	}}
	o := NewOrchestrator(NewOrchestratorParams{Extractor: f, Canonicalizer: testCanon()})

	_, failures := Collect(o.Extract(t.Context(), []common.Chunk{{ID: "c1"}}, ai.PromptContext{}))
	if len(failures) != 1 || !errors.Is(failures[0], ai.ErrEmptyExtraction) {
		t.Fatalf("expected empty extraction failure, got %+v", failures)
	}
}

func TestExtractTimeout(t *testing.T) {
	f := &fakeExtractor{
		results: map[string]*ai.GraphExtraction{"c1": scroogeExtraction()},
		stall:   map[string]time.Duration{"c2": 300 * time.Millisecond},
	}
	o := NewOrchestrator(NewOrchestratorParams{
		Extractor:     f,
		Canonicalizer: testCanon(),
		TaskTimeout:   50 * time.Millisecond,
	})

	fragments, failures := Collect(o.Extract(t.Context(), []common.Chunk{{ID: "c1"}, {ID: "c2"}}, ai.PromptContext{}))
	if len(fragments) != 1 {
		t.Fatalf("expected the healthy chunk to succeed, got %d fragments", len(fragments))
	}
	if len(failures) != 1 || !failures[0].Timeout() {
		t.Fatalf("expected a timeout failure, got %+v", failures)
	}
}

func TestExtractRespectsParallelLimit(t *testing.T) {
	var chunks []common.Chunk
	results := map[string]*ai.GraphExtraction{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		chunks = append(chunks, common.Chunk{ID: id})
		results[id] = scroogeExtraction()
	}
	f := &fakeExtractor{results: results, delay: 10 * time.Millisecond}
	o := NewOrchestrator(NewOrchestratorParams{Extractor: f, Canonicalizer: testCanon(), Parallel: 2})

	fragments, failures := Collect(o.Extract(t.Context(), chunks, ai.PromptContext{}))
	if len(fragments) != 6 || len(failures) != 0 {
		t.Fatalf("expected 6 fragments, got %d (%d failures)", len(fragments), len(failures))
	}
	if got := f.maxActive.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", got)
	}
}

func TestExtractTimeoutHoldsSlot(t *testing.T) {
	var chunks []common.Chunk
	stall := map[string]time.Duration{}
	for _, id := range []string{"a", "b", "c", "d"} {
		chunks = append(chunks, common.Chunk{ID: id})
		stall[id] = 100 * time.Millisecond
	}
	f := &fakeExtractor{stall: stall}
	o := NewOrchestrator(NewOrchestratorParams{
		Extractor:     f,
		Canonicalizer: testCanon(),
		Parallel:      2,
		TaskTimeout:   10 * time.Millisecond,
	})

	fragments, failures := Collect(o.Extract(t.Context(), chunks, ai.PromptContext{}))
	if len(fragments) != 0 || len(failures) != 4 {
		t.Fatalf("expected 4 failures, got %d fragments %d failures", len(fragments), len(failures))
	}
	for _, f := range failures {
		if !f.Timeout() {
			t.Fatalf("expected a timeout, got %v", f)
		}
	}
	if got := f.maxActive.Load(); got > 2 {
		t.Fatalf("timed out tasks released their slot early, saw %d concurrent calls", got)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	f := &fakeExtractor{results: map[string]*ai.GraphExtraction{"c1": scroogeExtraction()}}
	o := NewOrchestrator(NewOrchestratorParams{Extractor: f, Canonicalizer: testCanon()})

	fragments, failures := Collect(o.Extract(ctx, []common.Chunk{{ID: "c1"}, {ID: "c2"}}, ai.PromptContext{}))
	if len(fragments) != 0 || len(failures) != 2 {
		t.Fatalf("expected only failures, got %d fragments %d failures", len(fragments), len(failures))
	}
	for _, f := range failures {
		if !errors.Is(f, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", f)
		}
	}
}

func TestResultsDeliveredExactlyOnce(t *testing.T) {
	var chunks []common.Chunk
	results := map[string]*ai.GraphExtraction{}
	for i := range 20 {
		id := string(rune('a' + i))
		chunks = append(chunks, common.Chunk{ID: id})
		results[id] = scroogeExtraction()
	}
	o := NewOrchestrator(NewOrchestratorParams{Extractor: &fakeExtractor{results: results}, Canonicalizer: testCanon(), Parallel: 5})

	var mu sync.Mutex
	seen := map[string]int{}
	for r := range o.Extract(t.Context(), chunks, ai.PromptContext{}) {
		mu.Lock()
		seen[r.Chunk.ID]++
		mu.Unlock()
	}
	for _, c := range chunks {
		if seen[c.ID] != 1 {
			t.Fatalf("chunk %s delivered %d times", c.ID, seen[c.ID])
		}
	}
}
