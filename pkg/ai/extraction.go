package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
)

var (
	// ErrEmptyExtraction is returned when the service produced neither
	// entities nor relationships for a chunk.
	ErrEmptyExtraction = errors.New("empty extraction result")
	// ErrMalformedExtraction is returned when the result does not follow the
	// extraction contract.
	ErrMalformedExtraction = errors.New("malformed extraction result")
)

// PromptContext carries the domain description handed to every extraction
// request.
type PromptContext struct {
	Domain         string   `json:"domain"`
	ExampleQueries []string `json:"example_queries"`
	EntityTypes    []string `json:"entity_types"`
}

// ExtractedEntity is a raw entity mention as returned by the model.
type ExtractedEntity struct {
	Name        string `json:"name" jsonschema:"description=Entity name as used in the text"`
	Type        string `json:"type" jsonschema:"description=One of the configured entity types"`
	Description string `json:"description" jsonschema:"description=Everything the text says about the entity"`
}

// ExtractedRelationship is a raw relationship as returned by the model.
type ExtractedRelationship struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength" jsonschema:"minimum=0,maximum=1"`
}

// GraphExtraction is the result of extracting one chunk.
type GraphExtraction struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Validate checks the result against the extraction contract. Individual
// items that merely reference unknown names are not errors; they are dropped
// when the fragment is built.
func (g *GraphExtraction) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: nil result", ErrMalformedExtraction)
	}
	if len(g.Entities) == 0 && len(g.Relationships) == 0 {
		return ErrEmptyExtraction
	}
	for i, e := range g.Entities {
		if strings.TrimSpace(e.Type) == "" {
			return fmt.Errorf("%w: entity %d has no type", ErrMalformedExtraction, i)
		}
	}
	for i, r := range g.Relationships {
		if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "" {
			return fmt.Errorf("%w: relationship %d is missing an endpoint", ErrMalformedExtraction, i)
		}
	}
	return nil
}

// QueryExtraction holds the entity mentions found in a question.
type QueryExtraction struct {
	Named   []string `json:"named" jsonschema:"description=Entities referred to by a proper name"`
	Generic []string `json:"generic" jsonschema:"description=Entities referred to only by kind"`
}

// Validate checks the result against the extraction contract. Both lists may
// be empty.
func (q *QueryExtraction) Validate() error {
	if q == nil {
		return fmt.Errorf("%w: nil result", ErrMalformedExtraction)
	}
	return nil
}

// GraphExtractor extracts entities and relationships from a chunk.
type GraphExtractor interface {
	ExtractGraph(ctx context.Context, chunk common.Chunk, pc PromptContext) (*GraphExtraction, error)
}

// QueryExtractor extracts entity mentions from a question.
type QueryExtractor interface {
	ExtractQuery(ctx context.Context, query string, pc PromptContext) (*QueryExtraction, error)
}

// StructuredExtractor implements GraphExtractor and QueryExtractor on top of
// structured completions. Malformed or empty results are retried.
type StructuredExtractor struct {
	client     GraphAIClient
	model      string
	maxRetries int
	backoff    util.Backoff
}

// NewStructuredExtractorParams configures a StructuredExtractor. Model
// overrides the client's default extraction model when set.
type NewStructuredExtractorParams struct {
	Client     GraphAIClient
	Model      string
	MaxRetries int
	Backoff    util.Backoff
}

func NewStructuredExtractor(params NewStructuredExtractorParams) *StructuredExtractor {
	retries := params.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &StructuredExtractor{
		client:     params.Client,
		model:      params.Model,
		maxRetries: retries,
		backoff:    params.Backoff,
	}
}

func (s *StructuredExtractor) options() []GenerateOption {
	opts := []GenerateOption{WithTemperature(0)}
	if s.model != "" {
		opts = append(opts, WithModel(s.model))
	}
	return opts
}

func (s *StructuredExtractor) ExtractGraph(
	ctx context.Context,
	chunk common.Chunk,
	pc PromptContext,
) (*GraphExtraction, error) {
	prompt := BuildGraphExtractionPrompt(chunk.Content, pc)

	attempt := 0
	return util.RetryWithBackoff(ctx, s.maxRetries, s.backoff, func(ctx context.Context) (*GraphExtraction, error) {
		attempt++
		var out GraphExtraction
		err := s.client.GenerateCompletionWithFormat(
			ctx,
			"graph_extraction",
			"Entities and relationships extracted from a text chunk",
			prompt,
			&out,
			s.options()...,
		)
		if err == nil {
			err = out.Validate()
		}
		if err != nil {
			logger.Debug("[Extract] Attempt failed", "chunk_id", chunk.ID, "attempt", attempt, "err", err)
			return nil, err
		}
		return &out, nil
	})
}

func (s *StructuredExtractor) ExtractQuery(
	ctx context.Context,
	query string,
	pc PromptContext,
) (*QueryExtraction, error) {
	prompt := fmt.Sprintf(QueryEntitiesPrompt, domainOrDefault(pc.Domain), strings.Join(pc.EntityTypes, ", "), query)

	return util.RetryWithBackoff(ctx, s.maxRetries, s.backoff, func(ctx context.Context) (*QueryExtraction, error) {
		var out QueryExtraction
		err := s.client.GenerateCompletionWithFormat(
			ctx,
			"query_entities",
			"Entity mentions found in a question",
			prompt,
			&out,
			s.options()...,
		)
		if err != nil {
			return nil, err
		}
		if err := out.Validate(); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// BuildGraphExtractionPrompt renders the extraction prompt for one chunk.
func BuildGraphExtractionPrompt(content string, pc PromptContext) string {
	types := strings.Join(pc.EntityTypes, ", ")

	var queries strings.Builder
	for _, q := range pc.ExampleQueries {
		queries.WriteString("  - ")
		queries.WriteString(q)
		queries.WriteString("\n")
	}
	if queries.Len() == 0 {
		queries.WriteString("  - (none given)\n")
	}

	return fmt.Sprintf(GraphExtractionPrompt, domainOrDefault(pc.Domain), types, queries.String(), types, content)
}

// BuildAnswerPrompt renders the synthesis prompt. An empty context falls back
// to the no-data prompt.
func BuildAnswerPrompt(question string, rendered string) string {
	if strings.TrimSpace(rendered) == "" {
		return fmt.Sprintf(NoDataPrompt, question)
	}
	return fmt.Sprintf(AnswerPrompt, rendered)
}

func domainOrDefault(domain string) string {
	if strings.TrimSpace(domain) == "" {
		return "general knowledge"
	}
	return domain
}
