package chunk

import (
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken approximates token counts when no encoder is available.
const charsPerToken = 4

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates one token per four bytes of text.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a tiktoken counter for encoding. If the encoding
// cannot be loaded (it is fetched on first use) the approximate counter is
// returned instead.
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("[Chunk] Falling back to approximate token counts", "encoding", encoding, "err", err)
		return ApproxCounter{}
	}
	return tiktokenCounter{enc: enc}
}
