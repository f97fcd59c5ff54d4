package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 32 << 20

// WebGraphLoader loads content from web URLs and extracts readable text.
// For HTML pages, it uses readability to extract the main content.
type WebGraphLoader struct {
	client   *http.Client
	fallback loader.GraphFileLoader
	cache    loader.Cache
}

// NewWebGraphLoader creates a new web loader without a fallback loader.
func NewWebGraphLoader() *WebGraphLoader {
	return &WebGraphLoader{client: http.DefaultClient}
}

// NewWebGraphLoaderWithLoader creates a web loader with a fallback for non-HTML content.
func NewWebGraphLoaderWithLoader(fallback loader.GraphFileLoader) *WebGraphLoader {
	return &WebGraphLoader{client: http.DefaultClient, fallback: fallback}
}

// WithClient replaces the HTTP client used for fetching.
func (l *WebGraphLoader) WithClient(client *http.Client) *WebGraphLoader {
	l.client = client
	return l
}

// GetFileText fetches a URL and extracts readable text content.
// For HTML pages, it uses readability to extract the main article content.
func (l *WebGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		return l.fetch(ctx, file)
	})
}

func (l *WebGraphLoader) fetch(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	u, err := url.Parse(file.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("failed to fetch url: %s", resp.Status)
	}

	body := io.LimitReader(resp.Body, maxBodySize)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		article, err := readability.FromReader(body, u)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return nil, fmt.Errorf("failed to render article text: %w", err)
		}
		return []byte(builder.String()), nil
	}

	if l.fallback != nil {
		return l.fallback.GetFileText(ctx, file)
	}

	return io.ReadAll(body)
}
