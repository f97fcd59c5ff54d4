package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/queue"
	mid "github.com/OFFIS-RIT/kiwi/graphrag/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rabbitmq/amqp091-go"
)

const carol = "Scrooge sat in his counting-house.\n\nMarley was his partner and scrooge mourned him."

type storyExtractor struct{}

func (storyExtractor) ExtractGraph(_ context.Context, c common.Chunk, _ ai.PromptContext) (*ai.GraphExtraction, error) {
	switch {
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
	return nil, errors.New("nothing to extract")
}

type scroogeQueryExtractor struct{}

func (scroogeQueryExtractor) ExtractQuery(context.Context, string, ai.PromptContext) (*ai.QueryExtraction, error) {
	return &ai.QueryExtraction{Named: []string{"Scrooge"}}, nil
}

type recordingPublisher struct {
	keys   []string
	bodies [][]byte
}

func (p *recordingPublisher) Publish(_, key string, _, _ bool, msg amqp091.Publishing) error {
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, msg.Body)
	return nil
}

func newTestApp(t *testing.T) *mid.App {
	t.Helper()
	s := memory.New()
	g, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Store:             s,
		Extractor:         storyExtractor{},
		QueryExtractor:    scroogeQueryExtractor{},
		DisableEmbeddings: true,
		MaxChunkTokens:    12,
		ParallelChunks:    2,
		Prompt:            ai.PromptContext{EntityTypes: []string{"Character", "Place"}},
	})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	return &mid.App{Graph: g, Store: s}
}

func do(t *testing.T, app *mid.App, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewEcho(app)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestApp(t), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestInsertThenRead(t *testing.T) {
	app := newTestApp(t)
	saved := 0
	app.AfterInsert = func() error { saved++; return nil }

	body, _ := json.Marshal(map[string]string{"id": "carol", "text": carol})
	rec := do(t, app, http.MethodPost, "/api/documents", string(body), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert: %d %s", rec.Code, rec.Body.String())
	}
	var inserted struct {
		DocumentID string              `json:"document_id"`
		Report     *graph.InsertReport `json:"report"`
	}
	decode(t, rec, &inserted)
	if inserted.DocumentID != "carol" || inserted.Report == nil || inserted.Report.Chunks == 0 {
		t.Fatalf("unexpected insert response %s", rec.Body.String())
	}
	if saved != 1 {
		t.Fatalf("AfterInsert ran %d times", saved)
	}

	rec = do(t, app, http.MethodGet, "/api/entities/scrooge", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("entity: %d %s", rec.Code, rec.Body.String())
	}
	var entity struct {
		Key         string   `json:"key"`
		Description string   `json:"description"`
		ChunkIDs    []string `json:"chunk_ids"`
	}
	decode(t, rec, &entity)
	if entity.Key != "SCROOGE" || len(entity.ChunkIDs) != 2 || !strings.Contains(entity.Description, "mourned Marley") {
		t.Fatalf("unexpected entity %s", rec.Body.String())
	}

	rec = do(t, app, http.MethodGet, "/api/entities/SCROOGE/neighbors", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("neighbors: %d %s", rec.Code, rec.Body.String())
	}
	var neighbors struct {
		Relationships []struct {
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"relationships"`
	}
	decode(t, rec, &neighbors)
	if len(neighbors.Relationships) != 1 {
		t.Fatalf("unexpected neighbors %s", rec.Body.String())
	}

	rec = do(t, app, http.MethodGet, "/api/stats", "", "")
	var stats struct {
		Entities      int `json:"entities"`
		Relationships int `json:"relationships"`
	}
	decode(t, rec, &stats)
	if stats.Entities != 2 || stats.Relationships != 1 {
		t.Fatalf("unexpected stats %s", rec.Body.String())
	}

	rec = do(t, app, http.MethodPost, "/api/query", `{"question":"Who is Scrooge?","only_context":true}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("query: %d %s", rec.Code, rec.Body.String())
	}
	var answer graph.QueryResponse
	decode(t, rec, &answer)
	if answer.Context == nil || len(answer.Context.Entities) == 0 || answer.Context.Entities[0].Entity.Key != "SCROOGE" {
		t.Fatalf("unexpected context %s", rec.Body.String())
	}
}

func TestQueryOmitsEmbeddings(t *testing.T) {
	app := newTestApp(t)
	body, _ := json.Marshal(map[string]string{"id": "carol", "text": carol})
	if rec := do(t, app, http.MethodPost, "/api/documents", string(body), ""); rec.Code != http.StatusCreated {
		t.Fatalf("insert: %d %s", rec.Code, rec.Body.String())
	}

	ctx := t.Context()
	err := app.Store.Update(ctx, func(tx store.Tx) error {
		for _, key := range []string{"SCROOGE", "MARLEY"} {
			e, _, err := tx.GetEntity(ctx, key)
			if err != nil {
				return err
			}
			e.Embedding = []float32{0.25, 0.5}
			for i := range e.Sources {
				e.Sources[i].Embedding = []float32{0.25, 0.5}
			}
			if err := tx.UpsertEntity(ctx, e); err != nil {
				return err
			}
		}
		rel, _, err := tx.GetRelationship(ctx, common.NewPairKey("SCROOGE", "MARLEY", false))
		if err != nil {
			return err
		}
		for i := range rel.Sources {
			rel.Sources[i].Embedding = []float32{0.25, 0.5}
		}
		return tx.UpsertRelationship(ctx, rel)
	})
	if err != nil {
		t.Fatalf("seed embeddings: %v", err)
	}

	rec := do(t, app, http.MethodPost, "/api/query", `{"question":"Who is Scrooge?","only_context":true}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("query: %d %s", rec.Code, rec.Body.String())
	}
	var answer graph.QueryResponse
	decode(t, rec, &answer)
	if answer.Context == nil || len(answer.Context.Entities) == 0 || len(answer.Context.Relationships) == 0 {
		t.Fatalf("unexpected context %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"embedding"`) {
		t.Fatalf("query response carries embeddings: %s", rec.Body.String())
	}

	scrooge, _, _ := app.Store.GetEntity(ctx, "SCROOGE")
	if len(scrooge.Embedding) == 0 || len(scrooge.Sources[0].Embedding) == 0 {
		t.Fatal("stored embeddings were cleared by the response")
	}
}

func TestEntityNotFound(t *testing.T) {
	rec := do(t, newTestApp(t), http.MethodGet, "/api/entities/nobody", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestInsertRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing text", `{"id":"a"}`, http.StatusBadRequest},
		{"blank text", `{"id":"a","text":"   "}`, http.StatusBadRequest},
		{"no fragments", `{"id":"a","text":"nothing here"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestApp(t), http.MethodPost, "/api/documents", tt.body, "")
			if rec.Code != tt.want {
				t.Fatalf("got %d %s, want %d", rec.Code, rec.Body.String(), tt.want)
			}
		})
	}
}

func TestInsertQueuesAsyncDocuments(t *testing.T) {
	app := newTestApp(t)
	pub := &recordingPublisher{}
	app.Queue = pub

	rec := do(t, app, http.MethodPost, "/api/documents", `{"id":"carol","text":"Scrooge","async":true}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if len(pub.keys) != 1 || pub.keys[0] != queue.IngestQueue {
		t.Fatalf("published to %v", pub.keys)
	}
	var msg queue.IngestMessage
	if err := json.Unmarshal(pub.bodies[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.DocumentID != "carol" || msg.Text != "Scrooge" || msg.ObjectKey != "" {
		t.Fatalf("unexpected message %+v", msg)
	}

	stats, _ := app.Store.Stats(context.Background())
	if stats.Entities != 0 {
		t.Fatal("async insert must not touch the graph")
	}
}

func TestExportWithoutNeo4j(t *testing.T) {
	rec := do(t, newTestApp(t), http.MethodPost, "/api/export/neo4j", "", "")
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("got %d", rec.Code)
	}
}

func signed(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestAuth(t *testing.T) {
	secret := []byte("test-secret")
	app := newTestApp(t)
	app.MasterAPIKey = "master"
	app.Keyfunc = mid.HMACKeyfunc(secret)

	exp := time.Now().Add(time.Hour).Unix()
	reader := signed(t, secret, jwt.MapClaims{"sub": "bob", "exp": exp})
	writer := signed(t, secret, jwt.MapClaims{"sub": "alice", "role": "user", "permissions": []string{"graph.write"}, "exp": exp})
	forged := signed(t, []byte("other"), jwt.MapClaims{"sub": "mallory", "exp": exp})
	anonymous := signed(t, secret, jwt.MapClaims{"exp": exp})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/stats", "", "", http.StatusUnauthorized},
		{"forged token", http.MethodGet, "/api/stats", "", forged, http.StatusUnauthorized},
		{"token without subject", http.MethodGet, "/api/stats", "", anonymous, http.StatusUnauthorized},
		{"master key", http.MethodGet, "/api/stats", "", "master", http.StatusOK},
		{"default user reads", http.MethodGet, "/api/stats", "", reader, http.StatusOK},
		{"default user cannot write", http.MethodPost, "/api/documents", `{"text":"Scrooge"}`, reader, http.StatusForbidden},
		{"writer cannot read", http.MethodGet, "/api/stats", "", writer, http.StatusForbidden},
		{"writer writes", http.MethodPost, "/api/documents", `{"text":"Scrooge"}`, writer, http.StatusCreated},
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, tt.method, tt.path, tt.body, tt.token)
			if rec.Code != tt.want {
				t.Fatalf("got %d %s, want %d", rec.Code, rec.Body.String(), tt.want)
			}
		})
	}
}
