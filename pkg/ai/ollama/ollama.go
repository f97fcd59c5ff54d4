package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/chunk"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 1024
	defaultTimeout    = 10 * time.Minute
	defaultNumCtx     = 4096
)

// GraphOllamaClient implements ai.GraphAIClient using a (possibly remote)
// Ollama server.
type GraphOllamaClient struct {
	embeddingModel   string
	descriptionModel string
	extractionModel  string
	dimensions       int
	timeout          time.Duration

	reqLock *semaphore.Weighted
	counter chunk.TokenCounter

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

var _ ai.GraphAIClient = (*GraphOllamaClient)(nil)

// NewGraphOllamaClientParams contains configuration options for creating a
// new GraphOllamaClient. An empty BaseURL uses the Ollama default.
type NewGraphOllamaClientParams struct {
	EmbeddingModel   string
	DescriptionModel string
	ExtractionModel  string
	Dimensions       int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	Timeout               time.Duration

	// TokenCounter sizes the context window. Defaults to the o200k_base
	// tiktoken encoding.
	TokenCounter chunk.TokenCounter
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a client for the server at params.BaseURL.
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	u, err := url.Parse("http://127.0.0.1:11434")
	if err != nil {
		return nil, err
	}
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{headers: headers, rt: http.DefaultTransport},
	}

	counter := params.TokenCounter
	if counter == nil {
		counter = chunk.NewTokenCounter("o200k_base")
	}

	dim := params.Dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = 2
	}
	extractionModel := params.ExtractionModel
	if extractionModel == "" {
		extractionModel = params.DescriptionModel
	}

	return &GraphOllamaClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		extractionModel:  extractionModel,
		dimensions:       dim,
		timeout:          timeout,

		reqLock: semaphore.NewWeighted(parallel),
		counter: counter,

		Client: api.NewClient(u, httpClient),
	}, nil
}

// ResetMetrics clears the accumulated usage metrics.
func (c *GraphOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the usage accumulated since the last reset.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOllamaClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	c.metrics.Add(m)
	c.metricsLock.Unlock()
}
