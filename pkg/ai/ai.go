package ai

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ChatMessage represents a single message in a chat conversation.
//
// Role must be one of:
//   - "user"      → a user-provided message
//   - "assistant" → a message from the AI assistant
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	Requests       int     `json:"requests"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add accumulates other into m and refreshes the throughput figure.
func (m *ModelMetrics) Add(other ModelMetrics) {
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.TotalTokens += other.TotalTokens
	m.DurationMs += other.DurationMs
	m.Requests++
	if m.DurationMs > 0 {
		m.TokenPerSecond = float32(m.OutputTokens) / (float32(m.DurationMs) / 1000)
	}
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// Embedder turns text into vectors. Implementations must return one vector
// per input, in input order.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// GraphAIClient defines the language-model operations used to build and
// query a graph: structured extraction, answer synthesis and embeddings.
type GraphAIClient interface {
	Embedder

	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error
	GenerateChat(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (string, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// EmbedTexts embeds every input through e. Empty inputs keep a nil vector so
// callers can tell "nothing to embed" from a zero vector.
func EmbedTexts(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if e == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	out := make([][]float32, len(texts))
	idx := make([]int, 0, len(texts))
	inputs := make([][]byte, 0, len(texts))
	for i, t := range texts {
		if t == "" {
			continue
		}
		idx = append(idx, i)
		inputs = append(inputs, []byte(t))
	}
	if len(inputs) == 0 {
		return out, nil
	}

	vecs, err := e.GenerateEmbeddings(ctx, inputs)
	if err == nil && len(vecs) != len(inputs) {
		err = fmt.Errorf("embedding result size mismatch: got %d want %d", len(vecs), len(inputs))
	}
	if err != nil {
		// fall back to one request per input, some backends reject batches
		vecs = make([][]float32, len(inputs))
		eg, ectx := errgroup.WithContext(ctx)
		for i := range inputs {
			eg.Go(func() error {
				v, err := e.GenerateEmbedding(ectx, inputs[i])
				if err != nil {
					return err
				}
				vecs[i] = v
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
	}

	for i, v := range vecs {
		out[idx[i]] = v
	}
	return out, nil
}
