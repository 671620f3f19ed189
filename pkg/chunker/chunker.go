package chunker

import (
	"fmt"
	"strings"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
)

// Split priorities: paragraph breaks first, then lines, sentences, clauses,
// words. Splitting at the highest boundary that fits minimizes mid-sentence
// breaks.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

type Config struct {
	MaxTokens     int
	OverlapTokens int
	Encoding      string
}

// Chunker splits raw document text into overlapping, token-bounded chunks.
type Chunker struct {
	maxTokens int
	overlap   int
	tokenizer types.Tokenizer
}

// New creates a chunker backed by a tiktoken encoding.
func New(config Config) (*Chunker, error) {
	if config.Encoding == "" {
		config.Encoding = "cl100k_base"
	}
	tok, err := NewTiktokenTokenizer(config.Encoding)
	if err != nil {
		return nil, err
	}
	return NewWithTokenizer(config, tok)
}

// NewWithTokenizer creates a chunker with an explicit tokenizer.
func NewWithTokenizer(config Config, tokenizer types.Tokenizer) (*Chunker, error) {
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.MaxTokens < 1 {
		return nil, &models.ValidationError{
			Field:   "chunker.max_tokens",
			Message: "max_tokens must be positive",
		}
	}
	if config.OverlapTokens < 0 {
		return nil, &models.ValidationError{
			Field:   "chunker.overlap_tokens",
			Message: "overlap_tokens cannot be negative",
		}
	}
	if config.OverlapTokens >= config.MaxTokens {
		return nil, &models.ValidationError{
			Field:   "chunker.overlap_tokens",
			Message: fmt.Sprintf("overlap_tokens (%d) must be less than max_tokens (%d)", config.OverlapTokens, config.MaxTokens),
		}
	}

	return &Chunker{
		maxTokens: config.MaxTokens,
		overlap:   config.OverlapTokens,
		tokenizer: tokenizer,
	}, nil
}

func (c *Chunker) tokenLen(text string) int {
	return len(c.tokenizer.Encode(text))
}

// Chunk splits text into ordered chunks for the given document. Each chunk
// after the first repeats the trailing overlap tokens of the previous chunk.
// The base spans (CharStart..CharEnd) partition the input exactly: no gaps,
// no duplication beyond the overlap. Empty input yields zero chunks.
func (c *Chunker) Chunk(text, docID string, metadata map[string]interface{}) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	// A document that fits in one chunk needs no overlap budget.
	budget := c.maxTokens
	if c.tokenLen(text) > c.maxTokens {
		budget = c.maxTokens - c.overlap
	}

	segments := c.split(text, budget, 0)
	bases := c.merge(segments, budget)

	chunks := make([]models.Chunk, 0, len(bases))
	offset := 0
	for i, base := range bases {
		prefix := ""
		if i > 0 {
			prefix = c.tail(chunks[i-1].Text, c.overlap)
		}
		chunkText := prefix + base
		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%04d", docID, i),
			DocumentID: docID,
			Text:       chunkText,
			Index:      i,
			TokenCount: c.tokenLen(chunkText),
			CharStart:  offset,
			CharEnd:    offset + len(base),
			Metadata:   metadata,
		})
		offset += len(base)
	}

	return chunks, nil
}

// split recursively divides text into segments of at most budget tokens,
// preferring the highest-priority separator that makes progress. Separators
// stay attached to the preceding piece, so concatenating the segments
// reproduces the input byte for byte.
func (c *Chunker) split(text string, budget, level int) []string {
	if c.tokenLen(text) <= budget {
		return []string{text}
	}
	if level >= len(separators) {
		return c.splitTokens(text, budget)
	}

	parts := splitAfter(text, separators[level])
	if len(parts) == 1 {
		return c.split(text, budget, level+1)
	}

	var segments []string
	for _, part := range parts {
		if c.tokenLen(part) <= budget {
			segments = append(segments, part)
		} else {
			segments = append(segments, c.split(part, budget, level+1)...)
		}
	}
	return segments
}

// splitTokens is the last resort for separator-free text: cut the token
// sequence itself. A lone token is never dropped, whatever its length.
func (c *Chunker) splitTokens(text string, budget int) []string {
	tokens := c.tokenizer.Encode(text)
	var segments []string
	for i := 0; i < len(tokens); i += budget {
		end := i + budget
		if end > len(tokens) {
			end = len(tokens)
		}
		segments = append(segments, c.tokenizer.Decode(tokens[i:end]))
	}
	return segments
}

// merge greedily packs adjacent segments into base spans of at most budget
// tokens. The token count is measured on the joined text, not summed, since
// tokenization across a boundary can differ from its parts.
func (c *Chunker) merge(segments []string, budget int) []string {
	var bases []string
	var current strings.Builder

	for _, seg := range segments {
		if current.Len() > 0 && c.tokenLen(current.String()+seg) > budget {
			bases = append(bases, current.String())
			current.Reset()
		}
		current.WriteString(seg)
	}
	if current.Len() > 0 {
		bases = append(bases, current.String())
	}
	return bases
}

// tail returns the text of the trailing n tokens of s.
func (c *Chunker) tail(s string, n int) string {
	if n == 0 {
		return ""
	}
	tokens := c.tokenizer.Encode(s)
	if len(tokens) <= n {
		return s
	}
	return c.tokenizer.Decode(tokens[len(tokens)-n:])
}

// splitAfter splits text on sep keeping the separator attached to the
// preceding piece and dropping empty trailing pieces.
func splitAfter(text, sep string) []string {
	raw := strings.SplitAfter(text, sep)
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
