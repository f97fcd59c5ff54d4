package neo4j

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/memory"
)

type call struct {
	cypher string
	rows   int
}

func recorder(calls *[]call, failOn string) writeFunc {
	return func(_ context.Context, cypher string, params map[string]any) error {
		if failOn != "" && strings.Contains(cypher, failOn) {
			return errors.New("neo4j unavailable")
		}
		c := call{cypher: cypher}
		if rows, ok := params["rows"].([]map[string]any); ok {
			c.rows = len(rows)
		}
		*calls = append(*calls, c)
		return nil
	}
}

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := t.Context()
	err := s.Update(ctx, func(tx store.Tx) error {
		for _, key := range []string{"BOB", "MARLEY", "SCROOGE"} {
			err := tx.UpsertEntity(ctx, common.Entity{
				Key:     key,
				Name:    key,
				Type:    "CHARACTER",
				Sources: []common.Source{{ChunkID: "c1", Description: key + " appears"}},
			})
			if err != nil {
				return err
			}
		}
		for _, pair := range [][2]string{{"MARLEY", "SCROOGE"}, {"BOB", "SCROOGE"}} {
			err := tx.UpsertRelationship(ctx, common.Relationship{
				Source:  pair[0],
				Target:  pair[1],
				Weight:  1,
				Sources: []common.Source{{ChunkID: "c1", Description: "know each other", Weight: 1}},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestExportBatches(t *testing.T) {
	var calls []call
	e := &Exporter{write: recorder(&calls, ""), batchSize: 2}

	report, err := e.Export(t.Context(), seeded(t))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if report.Entities != 3 || report.Relationships != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	// constraint, two entity batches, one relationship batch
	if len(calls) != 4 {
		t.Fatalf("expected 4 writes, got %d", len(calls))
	}
	if !strings.Contains(calls[0].cypher, "CONSTRAINT") {
		t.Fatal("constraint should be created first")
	}
	if calls[1].rows != 2 || calls[2].rows != 1 || calls[3].rows != 2 {
		t.Fatalf("unexpected batch sizes %+v", calls)
	}
	if !strings.Contains(calls[3].cypher, "RELATED_TO") {
		t.Fatal("relationships should be written after entities")
	}
}

func TestExportStopsOnError(t *testing.T) {
	var calls []call
	e := &Exporter{write: recorder(&calls, "RELATED_TO")}

	if _, err := e.Export(t.Context(), seeded(t)); err == nil {
		t.Fatal("expected the relationship error to be returned")
	}
}

func TestEntityRows(t *testing.T) {
	rows := entityRows([]common.Entity{{
		Key:  "SCROOGE",
		Name: "Scrooge",
		Type: "CHARACTER",
		Sources: []common.Source{
			{ChunkID: "c2", Description: "old"},
			{ChunkID: "c1", Description: "miser"},
		},
	}})
	if rows[0]["description"] != "old\nmiser" {
		t.Fatalf("unexpected description %q", rows[0]["description"])
	}
	ids := rows[0]["chunk_ids"].([]string)
	if len(ids) != 2 || ids[0] != "c1" {
		t.Fatalf("unexpected chunk ids %v", ids)
	}
}
