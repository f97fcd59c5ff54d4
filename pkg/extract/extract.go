// Package extract runs graph extraction over the chunks of a document.
//
// Every chunk is an independent task. Tasks share no state, run with bounded
// concurrency and report their outcome on a channel in completion order, so
// the caller can merge each fragment as soon as it is ready.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/canon"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const defaultParallel = 4

// Result is the outcome of one chunk. Exactly one of Fragment and Err is set;
// Err is always a *common.ExtractionError.
type Result struct {
	Chunk    common.Chunk
	Fragment *common.FragmentGraph
	Err      *common.ExtractionError
}

// Orchestrator fans extraction out over chunks.
type Orchestrator struct {
	extractor ai.GraphExtractor
	canon     *canon.Canonicalizer
	parallel  int
	timeout   time.Duration
}

// NewOrchestratorParams configures an Orchestrator. Parallel bounds the
// number of concurrent extraction requests. TaskTimeout limits a single
// task including its retries; zero disables the limit. A timed out task keeps
// its slot until the extractor returns.
type NewOrchestratorParams struct {
	Extractor     ai.GraphExtractor
	Canonicalizer *canon.Canonicalizer
	Parallel      int
	TaskTimeout   time.Duration
}

func NewOrchestrator(params NewOrchestratorParams) *Orchestrator {
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = defaultParallel
	}
	c := params.Canonicalizer
	if c == nil {
		c = canon.New(canon.NewTypes())
	}
	return &Orchestrator{
		extractor: params.Extractor,
		canon:     c,
		parallel:  parallel,
		timeout:   params.TaskTimeout,
	}
}

// Extract starts one task per chunk and returns a channel that yields every
// result exactly once and is closed when all tasks are done.
//
// A failing task never stops its siblings. Cancelling ctx makes outstanding
// tasks report an ExtractionError wrapping the context error.
func (o *Orchestrator) Extract(ctx context.Context, chunks []common.Chunk, pc ai.PromptContext) <-chan Result {
	out := make(chan Result, len(chunks))

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(o.parallel)
		for _, chunk := range chunks {
			g.Go(func() error {
				out <- o.run(ctx, chunk, pc)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

func (o *Orchestrator) run(ctx context.Context, chunk common.Chunk, pc ai.PromptContext) Result {
	fail := func(err error) Result {
		logger.Warn("[Extract] Chunk failed", "chunk_id", chunk.ID, "err", err)
		return Result{Chunk: chunk, Err: &common.ExtractionError{ChunkID: chunk.ID, Err: err}}
	}

	tctx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := tctx.Err(); err != nil {
		return fail(err)
	}

	type outcome struct {
		raw *ai.GraphExtraction
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		raw, err := o.extractor.ExtractGraph(tctx, chunk, pc)
		done <- outcome{raw: raw, err: err}
	}()

	var res outcome
	select {
	case <-tctx.Done():
		// The slot stays taken until the extractor returns, so extractors
		// that ignore cancellation never exceed the parallel limit.
		<-done
		return fail(tctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return fail(res.err)
	}
	if res.raw == nil {
		return fail(fmt.Errorf("%w: nil result", ai.ErrMalformedExtraction))
	}

	frag := BuildFragment(o.canon, chunk, res.raw)
	if frag.Empty() {
		return fail(ai.ErrEmptyExtraction)
	}

	logger.Debug(
		"[Extract] Chunk done",
		"chunk_id", chunk.ID,
		"entities", len(frag.Entities),
		"relationships", len(frag.Relationships),
		"duration", time.Since(start),
	)
	return Result{Chunk: chunk, Fragment: frag}
}

// Collect drains results into fragments and failures, both in completion
// order.
func Collect(results <-chan Result) ([]*common.FragmentGraph, []*common.ExtractionError) {
	var fragments []*common.FragmentGraph
	var failures []*common.ExtractionError
	for r := range results {
		if r.Err != nil {
			failures = append(failures, r.Err)
			continue
		}
		fragments = append(fragments, r.Fragment)
	}
	return fragments, failures
}
