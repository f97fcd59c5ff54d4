// Package graph is the entry point of the engine. A GraphClient inserts
// documents into a graph store and answers questions from it.
package graph

import (
	"errors"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/canon"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/extract"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/query"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/upsert"
)

// GraphClient is the main client for interacting with the graph RAG system.
// It wires chunking, extraction, merging and retrieval around one store.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	store     store.GraphStorage
	aiClient  ai.GraphAIClient
	canon     *canon.Canonicalizer
	chunker   *chunk.Chunker
	extractor *extract.Orchestrator
	policy    *upsert.Policy
	resolver  *query.Resolver
	retriever *query.Retriever

	prompt        ai.PromptContext
	budget        query.Budget
	parallelFiles int
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// AIClient is used for answers and, unless overridden, for extraction and
// embeddings. Extractor, QueryExtractor and Embedder replace the defaults
// built on AIClient. Set DisableEmbeddings to run without any embedder.
//
// ParallelChunks bounds concurrent extraction requests per document and
// ParallelFiles bounds how many documents InsertFiles processes at once.
type NewGraphClientParams struct {
	Store    store.GraphStorage
	AIClient ai.GraphAIClient

	Extractor         ai.GraphExtractor
	QueryExtractor    ai.QueryExtractor
	Embedder          ai.Embedder
	DisableEmbeddings bool
	ExtractionModel   string
	MaxRetries        int

	TokenCounter   chunk.TokenCounter
	MaxChunkTokens int
	ParallelChunks int
	ParallelFiles  int
	TaskTimeout    time.Duration

	Prompt ai.PromptContext
	Merge  upsert.Config

	Depth            int
	HopDecay         float64
	GenericTopK      int
	SimilarityWeight float64
	Budget           query.Budget
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Store:    memory.New(),
//		AIClient: aiClient,
//		Prompt: ai.PromptContext{
//			Domain:      "Analyze this story and identify the characters.",
//			EntityTypes: []string{"Character", "Animal", "Place", "Object", "Activity", "Event"},
//		},
//		Merge:          upsert.DefaultConfig(),
//		ParallelChunks: 8,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Returns a pointer to GraphClient and an error if initialization fails.
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Store == nil {
		return nil, errors.New("graph client needs a store")
	}

	var structured *ai.StructuredExtractor
	if params.AIClient != nil {
		structured = ai.NewStructuredExtractor(ai.NewStructuredExtractorParams{
			Client:     params.AIClient,
			Model:      params.ExtractionModel,
			MaxRetries: params.MaxRetries,
			Backoff:    util.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 250 * time.Millisecond},
		})
	}

	graphExtractor := params.Extractor
	if graphExtractor == nil && structured != nil {
		graphExtractor = structured
	}
	if graphExtractor == nil {
		return nil, errors.New("graph client needs an AI client or an extractor")
	}
	queryExtractor := params.QueryExtractor
	if queryExtractor == nil && structured != nil {
		queryExtractor = structured
	}
	if queryExtractor == nil {
		return nil, errors.New("graph client needs an AI client or a query extractor")
	}

	var embedder ai.Embedder
	if !params.DisableEmbeddings {
		embedder = params.Embedder
		if embedder == nil && params.AIClient != nil {
			embedder = params.AIClient
		}
	}

	counter := params.TokenCounter
	if counter == nil {
		counter = chunk.ApproxCounter{}
	}

	c := canon.New(canon.NewTypes(params.Prompt.EntityTypes...))
	prompt := params.Prompt
	prompt.EntityTypes = c.Types().Names()

	policy, err := upsert.NewPolicy(upsert.NewPolicyParams{Config: params.Merge, Embedder: embedder})
	if err != nil {
		return nil, err
	}

	resolver, err := query.NewResolver(query.NewResolverParams{
		Extractor:     queryExtractor,
		Canonicalizer: c,
		Store:         params.Store,
	})
	if err != nil {
		return nil, err
	}

	budget := params.Budget
	if budget == (query.Budget{}) {
		budget = query.DefaultBudget()
	}

	parallelFiles := params.ParallelFiles
	if parallelFiles <= 0 {
		parallelFiles = 1
	}

	g := &GraphClient{
		store:    params.Store,
		aiClient: params.AIClient,
		canon:    c,
		chunker: chunk.NewChunker(chunk.NewChunkerParams{
			Counter:   counter,
			MaxTokens: params.MaxChunkTokens,
		}),
		extractor: extract.NewOrchestrator(extract.NewOrchestratorParams{
			Extractor:     graphExtractor,
			Canonicalizer: c,
			Parallel:      params.ParallelChunks,
			TaskTimeout:   params.TaskTimeout,
		}),
		policy:   policy,
		resolver: resolver,
		retriever: query.NewRetriever(query.NewRetrieverParams{
			Embedder:         embedder,
			TokenCounter:     counter,
			Depth:            params.Depth,
			HopDecay:         params.HopDecay,
			GenericTopK:      params.GenericTopK,
			SimilarityWeight: params.SimilarityWeight,
		}),
		prompt:        prompt,
		budget:        budget,
		parallelFiles: parallelFiles,
	}

	return g, nil
}

// Store returns the store the client writes to.
func (g *GraphClient) Store() store.GraphStorage {
	return g.store
}
