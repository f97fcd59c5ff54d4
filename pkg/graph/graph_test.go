package graph

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/query"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/memory"
)

const carol = "Scrooge sat in his counting-house.\n\nMarley was his partner and scrooge mourned him."

// storyExtractor answers by looking at the chunk content.
type storyExtractor struct {
	mu    sync.Mutex
	calls int
}

func (s *storyExtractor) ExtractGraph(_ context.Context, c common.Chunk, _ ai.PromptContext) (*ai.GraphExtraction, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	switch {
	case strings.Contains(c.Content, "fail"):
		return nil, errors.New("model refused")
	case strings.Contains(c.Content, "Marley"):
		return &ai.GraphExtraction{
			Entities: []ai.ExtractedEntity{
				{Name: "scrooge", Type: "Character", Description: "mourned Marley"},
				{Name: "Marley", Type: "Character", Description: "Scrooge's partner"},
			},
			Relationships: []ai.ExtractedRelationship{
				{Source: "Marley", Target: "scrooge", Description: "partners", Strength: 1},
			},
		}, nil
	case strings.Contains(c.Content, "Scrooge"):
		return &ai.GraphExtraction{
			Entities: []ai.ExtractedEntity{
				{Name: "Scrooge", Type: "Character", Description: "works in a counting-house"},
			},
		}, nil
	}
	return &ai.GraphExtraction{}, nil
}

type namedQueryExtractor struct {
	named []string
	err   error
}

func (n namedQueryExtractor) ExtractQuery(context.Context, string, ai.PromptContext) (*ai.QueryExtraction, error) {
	if n.err != nil {
		return nil, n.err
	}
	return &ai.QueryExtraction{Named: n.named}, nil
}

// answerClient records the system prompt of the answer request.
type answerClient struct {
	system string
}

func (a *answerClient) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return nil, errors.New("not used")
}

func (a *answerClient) GenerateEmbeddings(context.Context, [][]byte) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (a *answerClient) GenerateCompletion(context.Context, string, ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (a *answerClient) GenerateCompletionWithFormat(context.Context, string, string, string, any, ...ai.GenerateOption) error {
	return errors.New("not used")
}

func (a *answerClient) GenerateChat(_ context.Context, msgs []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	var o ai.GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	a.system = strings.Join(o.SystemPrompts, "\n")
	return "Scrooge is a miser.", nil
}

func (a *answerClient) ResetMetrics()               {}
func (a *answerClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func newTestClient(t *testing.T, qe ai.QueryExtractor, aiClient ai.GraphAIClient) (*GraphClient, *memory.Store, *storyExtractor) {
	t.Helper()
	s := memory.New()
	ex := &storyExtractor{}
	g, err := NewGraphClient(NewGraphClientParams{
		Store:             s,
		AIClient:          aiClient,
		Extractor:         ex,
		QueryExtractor:    qe,
		DisableEmbeddings: true,
		MaxChunkTokens:    12,
		ParallelChunks:    2,
		ParallelFiles:     2,
		Prompt:            ai.PromptContext{EntityTypes: []string{"Character", "Place"}},
	})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	return g, s, ex
}

func TestInsertMergesChunks(t *testing.T) {
	g, s, _ := newTestClient(t, namedQueryExtractor{}, nil)

	report, err := g.Insert(t.Context(), Document{ID: "carol", Text: carol})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if report.Chunks != 2 || report.Merged != 2 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	scrooge, ok, _ := s.GetEntity(t.Context(), "SCROOGE")
	if !ok || len(scrooge.ChunkIDs()) != 2 {
		t.Fatalf("expected SCROOGE with provenance from both chunks, got %+v", scrooge)
	}
	rel, ok, _ := s.GetRelationship(t.Context(), common.NewPairKey("SCROOGE", "MARLEY", false))
	if !ok || len(rel.ChunkIDs()) != 1 {
		t.Fatalf("expected SCROOGE-MARLEY from a single chunk, got %+v", rel)
	}
	stats, _ := s.Stats(t.Context())
	if stats.Entities != 2 || stats.Relationships != 1 || stats.Chunks != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestInsertSkipsStoredChunks(t *testing.T) {
	g, s, ex := newTestClient(t, namedQueryExtractor{}, nil)

	if _, err := g.Insert(t.Context(), Document{ID: "carol", Text: carol}); err != nil {
		t.Fatal(err)
	}
	before, _ := s.Relationships(t.Context())

	report, err := g.Insert(t.Context(), Document{ID: "carol-again", Text: carol})
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if report.Skipped != 2 || report.Merged != 0 {
		t.Fatalf("expected both chunks to be skipped, got %+v", report)
	}
	if ex.calls != 2 {
		t.Fatalf("expected no extraction for stored chunks, got %d calls", ex.calls)
	}
	after, _ := s.Relationships(t.Context())
	if !reflect.DeepEqual(before, after) {
		t.Fatal("re-inserting a document changed the graph")
	}
}

func TestInsertOneFailedChunk(t *testing.T) {
	g, s, _ := newTestClient(t, namedQueryExtractor{}, nil)

	text := carol + "\n\nThis chunk will fail."
	report, err := g.Insert(t.Context(), Document{ID: "carol", Text: text})
	if err != nil {
		t.Fatalf("expected success with one failed chunk, got %v", err)
	}
	if report.Merged != 2 || len(report.Failed) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if ids := report.FailedChunkIDs(); len(ids) != 1 || ids[0] == "" {
		t.Fatalf("failed chunk not identified: %v", ids)
	}
	if _, ok, _ := s.GetEntity(t.Context(), "MARLEY"); !ok {
		t.Fatal("the healthy chunks should have been merged")
	}
}

func TestInsertAllChunksFail(t *testing.T) {
	g, s, _ := newTestClient(t, namedQueryExtractor{}, nil)

	report, err := g.Insert(t.Context(), Document{Text: "Everything will fail."})
	if !errors.Is(err, ErrNoFragments) {
		t.Fatalf("expected ErrNoFragments, got %v", err)
	}
	if report == nil || report.DocumentID == "" {
		t.Fatal("expected a report with a generated document id")
	}
	var extractionErr *common.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected the chunk errors to be joined, got %v", err)
	}
	if stats, _ := s.Stats(t.Context()); stats.Entities != 0 {
		t.Fatalf("nothing should be stored, got %+v", stats)
	}
}

func TestInsertEmptyDocument(t *testing.T) {
	g, _, _ := newTestClient(t, namedQueryExtractor{}, nil)
	if _, err := g.Insert(t.Context(), Document{ID: "empty", Text: " \n\t "}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestInsertFiles(t *testing.T) {
	g, s, _ := newTestClient(t, namedQueryExtractor{}, nil)

	files := []loader.GraphFile{
		loader.NewGraphTextFile("carol", carol),
		{ID: "broken", FilePath: "nowhere.txt"},
	}
	reports, err := g.InsertFiles(t.Context(), files)
	if !errors.Is(err, loader.ErrNoLoader) {
		t.Fatalf("expected the broken file to be reported, got %v", err)
	}
	if reports[0] == nil || reports[0].Merged != 2 || reports[1] != nil {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if _, ok, _ := s.GetEntity(t.Context(), "SCROOGE"); !ok {
		t.Fatal("the healthy file should have been inserted")
	}
}

func TestQueryOnlyContext(t *testing.T) {
	g, _, _ := newTestClient(t, namedQueryExtractor{named: []string{"Scrooge", "Tiny Tim"}}, nil)
	if _, err := g.Insert(t.Context(), Document{ID: "carol", Text: carol}); err != nil {
		t.Fatal(err)
	}

	resp, err := g.Query(t.Context(), "Who is Scrooge?", WithOnlyContext(), WithBudget(query.Budget{MaxEntities: 10}))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Response != "" {
		t.Fatalf("expected no answer, got %q", resp.Response)
	}
	if len(resp.Context.Entities) != 2 || resp.Context.Entities[0].Entity.Key != "SCROOGE" {
		t.Fatalf("unexpected context %+v", resp.Context.Entities)
	}
	if !reflect.DeepEqual(resp.Context.Misses, []string{"Tiny Tim"}) {
		t.Fatalf("expected Tiny Tim as miss, got %v", resp.Context.Misses)
	}
	if len(resp.Trace.UsedChunkIDs) != 2 {
		t.Fatalf("expected both chunks in the trace, got %v", resp.Trace.UsedChunkIDs)
	}
}

func TestQueryAnswers(t *testing.T) {
	answers := &answerClient{}
	g, _, _ := newTestClient(t, namedQueryExtractor{named: []string{"Scrooge"}}, answers)
	if _, err := g.Insert(t.Context(), Document{ID: "carol", Text: carol}); err != nil {
		t.Fatal(err)
	}

	resp, err := g.Query(t.Context(), "Who is Scrooge?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Response != "Scrooge is a miser." {
		t.Fatalf("unexpected answer %q", resp.Response)
	}
	if !strings.Contains(answers.system, "Scrooge,SCROOGE") {
		t.Fatalf("context missing from the answer prompt:\n%s", answers.system)
	}
}

func TestQueryDegradesOnResolutionFailure(t *testing.T) {
	g, _, _ := newTestClient(t, namedQueryExtractor{err: errors.New("model offline")}, nil)

	ctx, err := g.Retrieve(t.Context(), "Who is Scrooge?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ctx.Empty() {
		t.Fatalf("expected an empty context, got %+v", ctx)
	}
}
