// Package loader fetches the text of documents that are inserted into the
// graph. Loaders exist for the local filesystem, web pages and S3.
package loader

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
)

// ErrNoLoader is returned when a file has neither text nor a loader.
var ErrNoLoader = errors.New("file has no loader")

// ErrBinaryContent is returned for content that is not valid UTF-8 text.
var ErrBinaryContent = errors.New("content is not text")

// GraphFile is a document to be inserted into the graph. Its content is
// retrieved through Loader unless Text is set.
type GraphFile struct {
	ID       string
	FilePath string
	Text     string
	Loader   GraphFileLoader
}

// NewGraphFileParams defines the input parameters for creating a new GraphFile.
type NewGraphFileParams struct {
	ID       string
	FilePath string
	Loader   GraphFileLoader
}

// NewGraphFile creates a GraphFile whose content is fetched by params.Loader.
func NewGraphFile(params NewGraphFileParams) GraphFile {
	return GraphFile{
		ID:       params.ID,
		FilePath: params.FilePath,
		Loader:   params.Loader,
	}
}

// NewGraphTextFile creates a GraphFile with inline content.
func NewGraphTextFile(id, text string) GraphFile {
	return GraphFile{ID: id, Text: text}
}

// GetText retrieves the text content of the file.
//
// Example:
//
//	text, err := file.GetText(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(string(text))
func (f *GraphFile) GetText(ctx context.Context) ([]byte, error) {
	if f.Text != "" {
		return []byte(f.Text), nil
	}
	if f.Loader == nil {
		return nil, ErrNoLoader
	}
	text, err := f.Loader.GetFileText(ctx, *f)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(text) {
		return nil, ErrBinaryContent
	}
	return text, nil
}

// GraphFileLoader defines the interface for loading the contents of a GraphFile.
// Implementations may load files from disk, cloud storage, or other sources.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
}

// CacheKey identifies a file in loader caches.
func CacheKey(file GraphFile) string {
	return file.ID + ":" + file.FilePath
}

// Cache memoizes loaded content. Concurrent loads of the same key share a
// single fetch. The zero value is ready to use.
type Cache struct {
	mu    sync.RWMutex
	items map[string][]byte
	group singleflight.Group
}

func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Load returns the cached content for key or calls fetch once to fill it.
// Failed fetches are not cached.
func (c *Cache) Load(key string, fetch func() ([]byte, error)) ([]byte, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.items == nil {
			c.items = make(map[string][]byte)
		}
		c.items[key] = v
		c.mu.Unlock()

		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
