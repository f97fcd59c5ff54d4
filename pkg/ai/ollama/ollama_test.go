package ollama

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/chunk"

	"github.com/ollama/ollama/api"
)

func newTestClient(t *testing.T) (*GraphOllamaClient, *[]string) {
	t.Helper()
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/chat":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model": "test",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"named":["Scrooge"],"generic":[]}`,
				},
				"done":              true,
				"prompt_eval_count": 7,
				"eval_count":        3,
			})
		case "/api/embed":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":             "test",
				"embeddings":        [][]float32{{1, 2, 3}, {4, 5, 6}},
				"prompt_eval_count": 2,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		EmbeddingModel:   "embed",
		DescriptionModel: "chat",
		Dimensions:       2,
		BaseURL:          srv.URL,
		ApiKey:           "secret",
		TokenCounter:     chunk.ApproxCounter{},
	})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	return client, &auth
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	client, auth := newTestClient(t)

	var out ai.QueryExtraction
	if err := client.GenerateCompletionWithFormat(t.Context(), "query_entities", "test", "Who is Scrooge?", &out); err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if len(out.Named) != 1 || out.Named[0] != "Scrooge" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if m := client.GetMetrics(); m.TotalTokens != 10 {
		t.Fatalf("metrics not recorded: %+v", m)
	}
	if len(*auth) == 0 || (*auth)[0] != "Bearer secret" {
		t.Fatalf("authorization header not sent: %v", *auth)
	}
}

func TestGenerateCompletionWithFormatRejectsNonPointer(t *testing.T) {
	client, _ := newTestClient(t)
	var out ai.QueryExtraction
	if err := client.GenerateCompletionWithFormat(t.Context(), "x", "x", "x", out); err == nil {
		t.Fatalf("expected error for non-pointer output")
	}
}

func TestGenerateEmbeddings(t *testing.T) {
	client, _ := newTestClient(t)

	got, err := client.GenerateEmbeddings(t.Context(), [][]byte{[]byte("a"), nil, []byte("b")})
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if len(got) != 3 || len(got[0]) != 2 || got[0][1] != 2 || got[2][0] != 4 {
		t.Fatalf("unexpected vectors: %v", got)
	}
	if got[1][0] != 0 {
		t.Fatalf("blank input should yield a zero vector: %v", got[1])
	}
}

func TestNumCtxGrowsWithPrompt(t *testing.T) {
	client, _ := newTestClient(t)
	opts := ai.GenerateOptions{Model: "chat"}

	small := client.newRequest(systemMessages(opts), opts)
	if _, ok := small.Options["num_ctx"]; ok {
		t.Fatalf("small prompt should keep the default window")
	}

	long := make([]byte, 40000)
	for i := range long {
		long[i] = 'a'
	}
	msgs := append(systemMessages(opts), api.Message{Role: "user", Content: string(long)})
	big := client.newRequest(msgs, opts)
	if n, ok := big.Options["num_ctx"].(int); !ok || n <= defaultNumCtx {
		t.Fatalf("long prompt should widen the window, got %v", big.Options["num_ctx"])
	}
}
