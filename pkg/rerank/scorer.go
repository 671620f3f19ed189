package rerank

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// The scoring prompt asks for a bare number so the response parses without
// any structure negotiation. Judging the pair jointly is what buys the
// precision vector similarity cannot provide.
const scorePrompt = `Rate how well the passage answers the question on a scale from 0 to 100.
A passage that directly answers the question scores high. A passage that only
mentions the same topic scores low.

Question: %s

Passage: %s

Respond with only the number.`

var numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)

type ScorerConfig struct {
	Model   string
	BaseURL string
}

// LLMScorer judges (question, passage) relevance with a generation model.
type LLMScorer struct {
	model llms.Model
}

// NewLLMScorer connects to an Ollama server for relevance scoring.
func NewLLMScorer(config ScorerConfig) (*LLMScorer, error) {
	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scoring model: %w", err)
	}
	return NewLLMScorerWithModel(model), nil
}

// NewLLMScorerWithModel wires an explicit model, used by tests.
func NewLLMScorerWithModel(model llms.Model) *LLMScorer {
	return &LLMScorer{model: model}
}

// Score returns a relevance judgment in [0, 1].
func (s *LLMScorer) Score(ctx context.Context, question, text string) (float64, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(scorePrompt, question, text)),
	}

	response, err := s.model.GenerateContent(ctx, content,
		llms.WithTemperature(0),
		llms.WithMaxTokens(8),
	)
	if err != nil {
		return 0, err
	}
	if len(response.Choices) == 0 {
		return 0, fmt.Errorf("scoring model returned no choices")
	}

	raw := strings.TrimSpace(response.Choices[0].Content)
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("no numeric score in %q", raw)
	}

	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q: %w", match, err)
	}
	if score > 100 {
		score = 100
	}
	return score / 100, nil
}
