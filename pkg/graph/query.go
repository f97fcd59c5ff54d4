package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/query"
)

// QueryResponse is the answer to a question together with the context it
// was built from.
type QueryResponse struct {
	Response string                   `json:"response"`
	Context  *common.QueryContext     `json:"context"`
	Trace    query.QueryTraceSnapshot `json:"trace"`
}

type queryOptions struct {
	onlyContext bool
	budget      *query.Budget
	tracer      query.Tracer
}

type QueryOption func(*queryOptions)

// WithOnlyContext skips answer synthesis and returns the retrieved context
// only.
func WithOnlyContext() QueryOption {
	return func(o *queryOptions) {
		o.onlyContext = true
	}
}

// WithBudget overrides the configured context budget for one query.
func WithBudget(b query.Budget) QueryOption {
	return func(o *queryOptions) {
		o.budget = &b
	}
}

// WithTracer forwards trace events to t in addition to the response trace.
func WithTracer(t query.Tracer) QueryOption {
	return func(o *queryOptions) {
		o.tracer = t
	}
}

// Query answers question from the graph.
//
// If the entities of the question cannot be extracted the query continues
// with an empty context. An empty context is answered with the no-data
// prompt; it is not an error.
func (g *GraphClient) Query(ctx context.Context, question string, opts ...QueryOption) (*QueryResponse, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	budget := g.budget
	if o.budget != nil {
		budget = *o.budget
	}

	trace := query.NewQueryTrace()
	tracer := query.MultiTracer{trace, o.tracer}

	res, err := g.resolver.Resolve(ctx, question, g.prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("[Query] Could not resolve question, continuing without entities", "err", err)
		res = &query.Resolution{Query: question}
	}

	qc, err := g.retriever.Retrieve(ctx, g.store, res, budget, query.WithTracer(tracer))
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	resp := &QueryResponse{Context: qc}
	if o.onlyContext || g.aiClient == nil {
		resp.Trace = trace.Snapshot()
		return resp, nil
	}

	answer, err := g.aiClient.GenerateChat(
		ctx,
		[]ai.ChatMessage{{Role: "user", Message: question}},
		ai.WithSystemPrompts(ai.BuildAnswerPrompt(question, qc.Render())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	resp.Response = answer
	resp.Trace = trace.Snapshot()

	logger.Debug(
		"[Query] Answered",
		"entities", len(qc.Entities),
		"relationships", len(qc.Relationships),
		"chunks", len(qc.Chunks),
		"truncated", qc.Truncated,
	)
	return resp, nil
}

// Retrieve resolves question and returns its query context without
// contacting the answer model.
func (g *GraphClient) Retrieve(ctx context.Context, question string, opts ...QueryOption) (*common.QueryContext, error) {
	resp, err := g.Query(ctx, question, append(opts, WithOnlyContext())...)
	if err != nil {
		return nil, err
	}
	return resp.Context, nil
}
