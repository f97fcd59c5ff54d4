// Package chunk splits documents into token-bounded chunks along sentence
// boundaries.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
)

const defaultMaxTokens = 1200

// Chunker packs consecutive sentences into chunks of at most MaxTokens.
type Chunker struct {
	counter   TokenCounter
	maxTokens int
}

type NewChunkerParams struct {
	Counter   TokenCounter
	MaxTokens int
}

func NewChunker(params NewChunkerParams) *Chunker {
	counter := params.Counter
	if counter == nil {
		counter = ApproxCounter{}
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Chunker{counter: counter, maxTokens: maxTokens}
}

// ID returns the content hash used as chunk id.
func ID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Split chunks text for documentID. Chunk content is the original text
// between the first and last sentence of the chunk, so Start and End are
// byte offsets into text. A single sentence longer than the limit is split
// at word boundaries.
func (c *Chunker) Split(documentID string, text string) []common.Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var pieces []span
	var tokens []int
	for _, s := range sentences {
		n := c.counter.Count(text[s.start:s.end])
		if n <= c.maxTokens {
			pieces = append(pieces, s)
			tokens = append(tokens, n)
			continue
		}
		for _, w := range c.splitWords(text, s) {
			pieces = append(pieces, w)
			tokens = append(tokens, c.counter.Count(text[w.start:w.end]))
		}
	}

	var chunks []common.Chunk
	emit := func(start, end int) {
		content := text[start:end]
		chunks = append(chunks, common.Chunk{
			ID:         ID(content),
			DocumentID: documentID,
			Index:      len(chunks),
			Start:      start,
			End:        end,
			Content:    content,
		})
	}

	first := 0
	used := tokens[0]
	for i := 1; i < len(pieces); i++ {
		// one extra token for the separator between sentences
		if used+1+tokens[i] <= c.maxTokens {
			used += 1 + tokens[i]
			continue
		}
		emit(pieces[first].start, pieces[i-1].end)
		first = i
		used = tokens[i]
	}
	emit(pieces[first].start, pieces[len(pieces)-1].end)
	return chunks
}

// splitWords cuts an oversized sentence into word-aligned pieces that each
// fit the limit. A single word longer than the limit becomes its own piece.
func (c *Chunker) splitWords(text string, s span) []span {
	var out []span
	start := -1
	end := -1
	used := 0

	sentence := text[s.start:s.end]
	i := 0
	for i < len(sentence) {
		for i < len(sentence) && unicode.IsSpace(rune(sentence[i])) {
			i++
		}
		if i >= len(sentence) {
			break
		}
		j := i
		for j < len(sentence) && !unicode.IsSpace(rune(sentence[j])) {
			j++
		}
		n := c.counter.Count(sentence[i:j])
		switch {
		case start < 0:
			start, end, used = i, j, n
		case used+1+n <= c.maxTokens:
			end = j
			used += 1 + n
		default:
			out = append(out, span{start: s.start + start, end: s.start + end})
			start, end, used = i, j, n
		}
		i = j
	}
	if start >= 0 {
		out = append(out, span{start: s.start + start, end: s.start + end})
	}
	return out
}

// Normalize reduces text to the form that is chunked: CRLF line endings are
// unified and surrounding whitespace is dropped.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
