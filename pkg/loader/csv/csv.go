package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
)

// ErrEmptyCSV is returned for files without a single non-empty record.
var ErrEmptyCSV = errors.New("CSV file is empty or contains no valid data")

// CSVGraphLoader loads CSV files through another loader and renders every
// record as one line of text, so tables can be inserted like prose.
type CSVGraphLoader struct {
	loader loader.GraphFileLoader
	cache  loader.Cache
}

// NewCSVGraphLoader creates a new CSVGraphLoader reading raw bytes from base.
func NewCSVGraphLoader(base loader.GraphFileLoader) *CSVGraphLoader {
	return &CSVGraphLoader{loader: base}
}

// GetFileText retrieves and renders the CSV file. Results are cached.
func (l *CSVGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		text, err := ParseCSV(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file.FilePath, err)
		}
		return text, nil
	})
}

// ParseCSV renders CSV content as text. The first non-empty record is the
// header; every following record becomes a line of "header: value" pairs
// joined by "; ". Empty cells are left out and malformed records skipped.
func ParseCSV(content []byte) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var header []string
	var out strings.Builder
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if isEmpty(record) {
			continue
		}
		if header == nil {
			header = record
			continue
		}

		line := renderRecord(header, record)
		if line == "" {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	if out.Len() == 0 {
		return nil, ErrEmptyCSV
	}
	return []byte(out.String()), nil
}

func isEmpty(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func renderRecord(header, record []string) string {
	parts := make([]string, 0, len(record))
	for i, field := range record {
		field = strings.Join(strings.Fields(field), " ")
		if field == "" {
			continue
		}
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = fmt.Sprintf("column %d", i+1)
		}
		parts = append(parts, name+": "+field)
	}
	return strings.Join(parts, "; ")
}
