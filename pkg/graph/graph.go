package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/upsert"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// ErrNoFragments is returned by Insert when not a single chunk of a document
// could be extracted.
var ErrNoFragments = errors.New("no chunk could be extracted")

// ErrEmptyDocument is returned for documents without text.
var ErrEmptyDocument = errors.New("document is empty")

// Document is a text to insert. An empty ID is replaced by a generated one.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// InsertReport summarizes one insertion. Chunks counts every chunk of the
// document, Skipped those already stored, Merged those whose fragment was
// merged and Failed those whose extraction failed.
type InsertReport struct {
	DocumentID string                       `json:"document_id"`
	Chunks     int                          `json:"chunks"`
	Skipped    int                          `json:"skipped"`
	Merged     int                          `json:"merged"`
	Failed     []*common.ExtractionError    `json:"-"`
	Conflicts  []*common.MergeConflictError `json:"-"`
	Merges     []*upsert.MergeReport        `json:"-"`
	Duration   time.Duration                `json:"duration"`
}

// FailedChunkIDs lists the chunks whose extraction failed.
func (r *InsertReport) FailedChunkIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.ChunkID)
	}
	return ids
}

// Insert chunks doc, extracts every chunk that is not stored yet and merges
// the fragments as they complete.
//
// Failed chunks are skipped and listed in the report. Insert fails with
// ErrNoFragments only when chunks were attempted and none succeeded. A
// store error stops merging; fragments merged before it stay merged.
func (g *GraphClient) Insert(ctx context.Context, doc Document) (*InsertReport, error) {
	start := time.Now()

	if doc.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate document id: %w", err)
		}
		doc.ID = id
	}

	text := chunk.Normalize(doc.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.ID)
	}

	chunks := g.chunker.Split(doc.ID, text)
	report := &InsertReport{DocumentID: doc.ID, Chunks: len(chunks)}

	pending, err := g.pendingChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	report.Skipped = len(chunks) - len(pending)

	logger.Info("[Graph] Inserting document", "document_id", doc.ID, "chunks", len(chunks), "skipped", report.Skipped)
	if len(pending) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	var mergeErr error
	for res := range g.extractor.Extract(ctx, pending, g.prompt) {
		if res.Err != nil {
			report.Failed = append(report.Failed, res.Err)
			continue
		}
		if mergeErr != nil {
			continue
		}
		merged, err := g.policy.Merge(ctx, g.store, res.Fragment)
		if err != nil {
			mergeErr = err
			continue
		}
		report.Merged++
		report.Merges = append(report.Merges, merged)
		report.Conflicts = append(report.Conflicts, merged.Conflicts...)
	}
	report.Duration = time.Since(start)

	if mergeErr != nil {
		return report, fmt.Errorf("failed to insert document %s: %w", doc.ID, mergeErr)
	}
	if report.Merged == 0 {
		errs := make([]error, 0, len(report.Failed))
		for _, f := range report.Failed {
			errs = append(errs, f)
		}
		return report, fmt.Errorf("%w: document %s: %w", ErrNoFragments, doc.ID, errors.Join(errs...))
	}

	logger.Info(
		"[Graph] Document inserted",
		"document_id", doc.ID,
		"merged", report.Merged,
		"failed", len(report.Failed),
		"conflicts", len(report.Conflicts),
		"duration", report.Duration,
	)
	return report, nil
}

// pendingChunks drops chunks that are already stored or repeat an earlier
// chunk of the same document.
func (g *GraphClient) pendingChunks(ctx context.Context, chunks []common.Chunk) ([]common.Chunk, error) {
	seen := make(map[string]struct{}, len(chunks))
	pending := make([]common.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}

		_, ok, err := g.store.Chunk(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up chunk %s: %w", c.ID, err)
		}
		if ok {
			continue
		}
		pending = append(pending, c)
	}
	return pending, nil
}

// InsertFiles loads and inserts files, processing up to ParallelFiles of
// them at once. Every file is attempted; the returned error joins the
// failures. Reports are returned in the order of files, nil for files that
// failed before extraction.
func (g *GraphClient) InsertFiles(ctx context.Context, files []loader.GraphFile) ([]*InsertReport, error) {
	reports := make([]*InsertReport, len(files))
	var mu sync.Mutex
	var errs []error

	logger.Info("[Graph] Processing", "total_files", len(files))

	var eg errgroup.Group
	eg.SetLimit(g.parallelFiles)
	for i, file := range files {
		eg.Go(func() error {
			text, err := file.GetText(ctx)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to load %s: %w", file.FilePath, err))
				mu.Unlock()
				return nil
			}

			report, err := g.Insert(ctx, Document{ID: file.ID, Text: string(text)})
			reports[i] = report
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	logger.Info("[Graph] Files processed", "total_files", len(files), "failed", len(errs))
	return reports, errors.Join(errs...)
}
