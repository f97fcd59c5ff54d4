package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/upsert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" || cfg.AI.Adapter != "openai" || cfg.Store.Backend != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Graph.EntityTypes, DefaultEntityTypes) {
		t.Fatalf("unexpected entity types %v", cfg.Graph.EntityTypes)
	}
	if cfg.Merge.Aggregation != upsert.AggregateSum || cfg.Merge.GenericThreshold != 0.8 {
		t.Fatalf("unexpected merge config %+v", cfg.Merge)
	}
	if cfg.Graph.TaskTimeout != 5*time.Minute {
		t.Fatalf("unexpected task timeout %v", cfg.Graph.TaskTimeout)
	}
	if cfg.Queue.URL() != "" {
		t.Fatal("queue should be disabled without a host")
	}
	if cfg.Auth.Enabled() {
		t.Fatal("auth should be disabled by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GRAPH_ENTITY_TYPES", "Person, Company")
	t.Setenv("GRAPH_EXAMPLE_QUERIES", "Who founded it?|Where is it?")
	t.Setenv("MERGE_AGGREGATION", "decay")
	t.Setenv("MERGE_DECAY", "0.25")
	t.Setenv("QUERY_MAX_ENTITIES", "5")
	t.Setenv("RABBITMQ_HOST", "mq")
	t.Setenv("MASTER_API_KEY", "secret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !reflect.DeepEqual(cfg.Graph.EntityTypes, []string{"Person", "Company"}) {
		t.Fatalf("unexpected entity types %v", cfg.Graph.EntityTypes)
	}
	if len(cfg.Graph.ExampleQueries) != 2 {
		t.Fatalf("unexpected example queries %v", cfg.Graph.ExampleQueries)
	}
	if cfg.Merge.Aggregation != upsert.AggregateDecay || cfg.Merge.Decay != 0.25 {
		t.Fatalf("unexpected merge config %+v", cfg.Merge)
	}
	if cfg.Query.Budget.MaxEntities != 5 {
		t.Fatalf("unexpected budget %+v", cfg.Query.Budget)
	}
	if cfg.Queue.URL() != "amqp://guest:guest@mq:5672/" {
		t.Fatalf("unexpected queue url %q", cfg.Queue.URL())
	}
	if !cfg.Auth.Enabled() {
		t.Fatal("auth should be enabled by the master key")
	}
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown adapter", "AI_ADAPTER", "bard"},
		{"unknown backend", "STORE_BACKEND", "sqlite"},
		{"postgres without url", "STORE_BACKEND", "postgres"},
		{"unknown aggregation", "MERGE_AGGREGATION", "median"},
		{"hop decay above one", "QUERY_HOP_DECAY", "1.5"},
		{"non numeric port", "PORT", "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.value)
			}
		})
	}
}

func TestMemoryBackendSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	t.Setenv("STORE_SNAPSHOT_PATH", path)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}

	b, err := cfg.OpenBackend(t.Context())
	if err != nil {
		t.Fatalf("OpenBackend on a missing snapshot: %v", err)
	}
	err = b.Store.Update(t.Context(), func(tx store.Tx) error {
		return tx.UpsertEntity(t.Context(), common.Entity{Key: "SCROOGE", Name: "Scrooge", Type: "CHARACTER"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := cfg.OpenBackend(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reopened.Store.GetEntity(t.Context(), "SCROOGE"); !ok {
		t.Fatal("snapshot was not reloaded")
	}
}

func TestGraphParams(t *testing.T) {
	t.Setenv("GRAPH_TOKEN_ENCODER", "approx")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.GraphParams(nil, nil)
	if !p.DisableEmbeddings {
		t.Fatal("embeddings should be disabled without an embedding model")
	}
	if p.MaxChunkTokens != 1200 || p.Budget.MaxEntities != 32 {
		t.Fatalf("unexpected params %+v", p)
	}
}
