// Package config reads the environment into a typed, validated Config.
package config

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/internal/util"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/query"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/upsert"

	"github.com/go-playground/validator"
)

var DefaultEntityTypes = []string{"Character", "Animal", "Place", "Object", "Activity", "Event"}

type AIConfig struct {
	Adapter         string `validate:"oneof=openai ollama"`
	ChatURL         string
	ChatKey         string
	ExtractModel    string `validate:"required"`
	DescribeModel   string `validate:"required"`
	EmbedURL        string
	EmbedKey        string
	EmbedModel      string
	EmbedDimensions int   `validate:"min=0"`
	ParallelReq     int64 `validate:"min=1"`
	MaxRetries      int   `validate:"min=0"`
	Timeout         time.Duration
}

type GraphConfig struct {
	Domain         string
	ExampleQueries []string
	EntityTypes    []string `validate:"min=1"`
	TokenEncoder   string
	MaxChunkTokens int `validate:"min=1"`
	ParallelChunks int `validate:"min=1"`
	ParallelFiles  int `validate:"min=1"`
	TaskTimeout    time.Duration
}

type QueryConfig struct {
	Depth            int     `validate:"min=0"`
	HopDecay         float64 `validate:"gt=0,lte=1"`
	GenericTopK      int     `validate:"min=1"`
	SimilarityWeight float64 `validate:"min=0,max=1"`
	Budget           query.Budget
}

type StoreConfig struct {
	Backend      string `validate:"oneof=memory postgres"`
	SnapshotPath string
	DatabaseURL  string `validate:"required_if_postgres"`
	Neo4jURI     string
	Neo4jUser    string
	Neo4jPass    string
}

type QueueConfig struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL is the AMQP connection string. It is empty when no host is set.
func (q QueueConfig) URL() string {
	if q.Host == "" {
		return ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type AuthConfig struct {
	JWKSURL      string
	Secret       string
	MasterAPIKey string
}

// Enabled reports whether any authentication method is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWKSURL != "" || a.Secret != "" || a.MasterAPIKey != ""
}

type Config struct {
	Debug bool
	Port  string `validate:"required,numeric"`

	AI    AIConfig
	Graph GraphConfig
	Merge upsert.Config
	Query QueryConfig
	Store StoreConfig
	Queue QueueConfig
	S3    S3Config
	Auth  AuthConfig
}

// Load reads the configuration from the environment (and a .env file if
// present) and validates it.
func Load() (*Config, error) {
	util.LoadEnv()
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	aggregation, err := upsert.ParseAggregation(util.GetEnv("MERGE_AGGREGATION"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	budget := query.DefaultBudget()

	cfg := &Config{
		Debug: util.GetEnvBool("DEBUG", false),
		Port:  util.GetEnvString("PORT", "8080"),
		AI: AIConfig{
			Adapter:         util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:         util.GetEnv("AI_CHAT_URL"),
			ChatKey:         util.GetEnv("AI_CHAT_KEY"),
			ExtractModel:    util.GetEnvString("AI_CHAT_EXTRACT_MODEL", "gpt-4o-mini"),
			DescribeModel:   util.GetEnvString("AI_CHAT_DESCRIBE_MODEL", "gpt-4o-mini"),
			EmbedURL:        util.GetEnv("AI_EMBED_URL"),
			EmbedKey:        util.GetEnv("AI_EMBED_KEY"),
			EmbedModel:      util.GetEnv("AI_EMBED_MODEL"),
			EmbedDimensions: util.GetEnvInt("AI_EMBED_DIM", 0),
			ParallelReq:     int64(util.GetEnvInt("AI_PARALLEL_REQ", 15)),
			MaxRetries:      util.GetEnvInt("AI_MAX_RETRIES", 3),
			Timeout:         time.Duration(util.GetEnvNumeric("AI_TIMEOUT_MIN", 5) * float64(time.Minute)),
		},
		Graph: GraphConfig{
			Domain:         util.GetEnv("GRAPH_DOMAIN"),
			ExampleQueries: util.GetEnvList("GRAPH_EXAMPLE_QUERIES", "|", nil),
			EntityTypes:    util.GetEnvList("GRAPH_ENTITY_TYPES", ",", DefaultEntityTypes),
			TokenEncoder:   util.GetEnvString("GRAPH_TOKEN_ENCODER", "o200k_base"),
			MaxChunkTokens: util.GetEnvInt("GRAPH_MAX_CHUNK_TOKENS", 1200),
			ParallelChunks: util.GetEnvInt("GRAPH_PARALLEL_CHUNKS", 8),
			ParallelFiles:  util.GetEnvInt("GRAPH_PARALLEL_FILES", 2),
			TaskTimeout:    util.GetEnvSeconds("GRAPH_TASK_TIMEOUT_SEC", 5*time.Minute),
		},
		Merge: upsert.Config{
			Aggregation:      aggregation,
			Decay:            util.GetEnvNumeric("MERGE_DECAY", 0.5),
			Directed:         util.GetEnvBool("MERGE_DIRECTED", false),
			AllowCrossType:   util.GetEnvBool("MERGE_ALLOW_CROSS_TYPE", false),
			GenericThreshold: util.GetEnvNumeric("MERGE_GENERIC_THRESHOLD", 0.8),
			UseStrength:      util.GetEnvBool("MERGE_USE_STRENGTH", false),
		},
		Query: QueryConfig{
			Depth:            util.GetEnvInt("QUERY_DEPTH", 2),
			HopDecay:         util.GetEnvNumeric("QUERY_HOP_DECAY", 0.5),
			GenericTopK:      util.GetEnvInt("QUERY_GENERIC_TOPK", 3),
			SimilarityWeight: util.GetEnvNumeric("QUERY_SIMILARITY_WEIGHT", 0.3),
			Budget: query.Budget{
				MaxEntities:      util.GetEnvInt("QUERY_MAX_ENTITIES", budget.MaxEntities),
				MaxRelationships: util.GetEnvInt("QUERY_MAX_RELATIONSHIPS", budget.MaxRelationships),
				MaxChunks:        util.GetEnvInt("QUERY_MAX_CHUNKS", budget.MaxChunks),
				MaxTokens:        util.GetEnvInt("QUERY_MAX_TOKENS", budget.MaxTokens),
			},
		},
		Store: StoreConfig{
			Backend:      util.GetEnvString("STORE_BACKEND", "memory"),
			SnapshotPath: util.GetEnv("STORE_SNAPSHOT_PATH"),
			DatabaseURL:  util.GetEnv("DATABASE_URL"),
			Neo4jURI:     util.GetEnv("NEO4J_URI"),
			Neo4jUser:    util.GetEnvString("NEO4J_USER", "neo4j"),
			Neo4jPass:    util.GetEnv("NEO4J_PASSWORD"),
		},
		Queue: QueueConfig{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		S3: S3Config{
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		Auth: AuthConfig{
			JWKSURL:      util.GetEnv("AUTH_URL"),
			Secret:       util.GetEnv("AUTH_SECRET"),
			MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("required_if_postgres", func(fl validator.FieldLevel) bool {
		sc, ok := fl.Parent().Interface().(StoreConfig)
		if !ok || sc.Backend != "postgres" {
			return true
		}
		return fl.Field().String() != ""
	})
	return v
}

// Validate checks field constraints and the merge settings.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return err
	}
	return c.Merge.Validate()
}
