package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	oai "github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai/openai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/memory"
	pgstore "github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewAIClient builds the client selected by AI_ADAPTER.
func (c *Config) NewAIClient() (ai.GraphAIClient, error) {
	switch c.AI.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:        c.AI.EmbedModel,
			DescriptionModel:      c.AI.DescribeModel,
			ExtractionModel:       c.AI.ExtractModel,
			Dimensions:            c.AI.EmbedDimensions,
			BaseURL:               c.AI.ChatURL,
			ApiKey:                c.AI.ChatKey,
			MaxConcurrentRequests: c.AI.ParallelReq,
			Timeout:               c.AI.Timeout,
			TokenCounter:          c.TokenCounter(),
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:        c.AI.EmbedModel,
			DescriptionModel:      c.AI.DescribeModel,
			ExtractionModel:       c.AI.ExtractModel,
			Dimensions:            c.AI.EmbedDimensions,
			EmbeddingURL:          c.AI.EmbedURL,
			EmbeddingKey:          c.AI.EmbedKey,
			ChatURL:               c.AI.ChatURL,
			ChatKey:               c.AI.ChatKey,
			MaxConcurrentRequests: c.AI.ParallelReq,
			Timeout:               c.AI.Timeout,
		}), nil
	}
}

// TokenCounter returns the counter for GRAPH_TOKEN_ENCODER. The value
// "approx" skips tiktoken.
func (c *Config) TokenCounter() chunk.TokenCounter {
	if c.Graph.TokenEncoder == "approx" {
		return chunk.ApproxCounter{}
	}
	return chunk.NewTokenCounter(c.Graph.TokenEncoder)
}

// GraphParams maps the configuration onto the engine parameters.
// Embeddings are disabled when no embedding model is configured.
func (c *Config) GraphParams(s store.GraphStorage, client ai.GraphAIClient) graph.NewGraphClientParams {
	return graph.NewGraphClientParams{
		Store:             s,
		AIClient:          client,
		DisableEmbeddings: c.AI.EmbedModel == "",
		ExtractionModel:   c.AI.ExtractModel,
		MaxRetries:        c.AI.MaxRetries,
		TokenCounter:      c.TokenCounter(),
		MaxChunkTokens:    c.Graph.MaxChunkTokens,
		ParallelChunks:    c.Graph.ParallelChunks,
		ParallelFiles:     c.Graph.ParallelFiles,
		TaskTimeout:       c.Graph.TaskTimeout,
		Prompt: ai.PromptContext{
			Domain:         c.Graph.Domain,
			ExampleQueries: c.Graph.ExampleQueries,
			EntityTypes:    c.Graph.EntityTypes,
		},
		Merge:            c.Merge,
		Depth:            c.Query.Depth,
		HopDecay:         c.Query.HopDecay,
		GenericTopK:      c.Query.GenericTopK,
		SimilarityWeight: c.Query.SimilarityWeight,
		Budget:           c.Query.Budget,
	}
}

// Backend is an opened graph store together with the resources behind it.
type Backend struct {
	Store store.GraphStorage
	// Pool is set for the postgres backend.
	Pool *pgxpool.Pool

	mem      *memory.Store
	snapshot string
}

// OpenBackend opens the store selected by STORE_BACKEND. The postgres
// schema is migrated first; the memory store is loaded from its snapshot
// if one exists.
func (c *Config) OpenBackend(ctx context.Context) (*Backend, error) {
	switch c.Store.Backend {
	case "postgres":
		if err := pgstore.Migrate(c.Store.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := pgstore.NewPool(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: pgstore.NewGraphDBStorageWithConnection(pool), Pool: pool}, nil
	default:
		mem := memory.New()
		if c.Store.SnapshotPath != "" {
			err := mem.Load(c.Store.SnapshotPath)
			switch {
			case errors.Is(err, os.ErrNotExist):
				logger.Info("[Store] Starting with an empty graph", "snapshot", c.Store.SnapshotPath)
			case err != nil:
				return nil, err
			}
		}
		return &Backend{Store: mem, mem: mem, snapshot: c.Store.SnapshotPath}, nil
	}
}

// Save persists the memory store to its snapshot. It does nothing for
// other backends or without a snapshot path.
func (b *Backend) Save() error {
	if b.mem == nil || b.snapshot == "" {
		return nil
	}
	return b.mem.Save(b.snapshot)
}

// Close saves the snapshot and releases connections.
func (b *Backend) Close() error {
	err := b.Save()
	if b.Pool != nil {
		b.Pool.Close()
	}
	return err
}
