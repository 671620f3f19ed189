package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/xhad/minirag/internal/models"
)

const systemPrompt = `You are a precise research assistant. Answer questions using ONLY the provided context.

STRICT RULES:
1. Use ONLY information from the numbered context chunks below
2. Cite sources with inline brackets: [1], [2], etc.
3. If multiple chunks support a point, cite all: [1][3]
4. If the context doesn't contain the answer, say: "I cannot answer this based on the provided documents."
5. Never make up information or use external knowledge
6. Keep answers concise but complete

CITATION FORMAT:
- Place citations immediately after the relevant statement
- Example: "Machine learning uses algorithms to learn from data [1]. Deep learning is a subset using neural networks [2][3]."`

const contextTemplate = `CONTEXT:
%s

QUESTION: %s

ANSWER (with inline citations):`

const declineText = "I cannot answer this based on the provided documents."

type GeneratorConfig struct {
	Model             string
	BaseURL           string
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute float64
	DeclinePatterns   []string
}

// Generator builds a grounding prompt from reranked chunks, invokes the
// language model under the citation contract, and parses the response into
// a structured answer. Generation failures never escape: they become a
// terminal answer with HasAnswer=false.
type Generator struct {
	config  GeneratorConfig
	model   llms.Model
	limiter *rate.Limiter
}

// NewGenerator connects to an Ollama server for answer generation.
func NewGenerator(config GeneratorConfig) (*Generator, error) {
	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation model: %w", err)
	}
	return NewGeneratorWithModel(config, model), nil
}

// NewGeneratorWithModel wires an explicit model, used by tests.
func NewGeneratorWithModel(config GeneratorConfig, model llms.Model) *Generator {
	if config.Model == "" {
		config.Model = "llama3.1"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 30
	}
	if len(config.DeclinePatterns) == 0 {
		config.DeclinePatterns = []string{"cannot answer"}
	}

	return &Generator{
		config:  config,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerMinute/60.0), 1),
	}
}

// Generate produces a cited answer grounded in the candidates. Candidates
// are rendered as numbered context blocks in reranked order; the source
// list is built from the markers actually cited, in order of first
// appearance in the answer text.
func (g *Generator) Generate(ctx context.Context, question string, candidates []models.RerankedCandidate) models.Answer {
	if len(candidates) == 0 {
		return models.Answer{
			Text:      "I cannot answer this question as no relevant documents were found.",
			Sources:   []models.Source{},
			HasAnswer: false,
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return g.terminalAnswer(err)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf(contextTemplate, renderContext(candidates), question)),
	}

	response, err := g.model.GenerateContent(ctx, content,
		llms.WithMaxTokens(g.config.MaxTokens),
		llms.WithTemperature(g.config.Temperature),
	)
	if err != nil {
		return g.terminalAnswer(err)
	}
	if len(response.Choices) == 0 {
		return g.terminalAnswer(fmt.Errorf("model returned no choices"))
	}

	text := strings.TrimSpace(response.Choices[0].Content)
	sources := extractSources(text, candidates)

	return models.Answer{
		Text:       text,
		Sources:    sources,
		HasAnswer:  !g.isDecline(text) && len(sources) > 0,
		TokensUsed: totalTokens(response.Choices[0].GenerationInfo),
	}
}

// terminalAnswer converts a generation failure into the pipeline's terminal
// answer shape. The error is reported in the answer text, not raised.
func (g *Generator) terminalAnswer(err error) models.Answer {
	return models.Answer{
		Text:       fmt.Sprintf("%s The answer generation service is unavailable: %v.", declineText, err),
		Sources:    []models.Source{},
		HasAnswer:  false,
		TokensUsed: 0,
	}
}

func (g *Generator) isDecline(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range g.config.DeclinePatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// renderContext numbers each candidate in reranked order. The title, when
// present, helps the model attribute claims to the right document.
func renderContext(candidates []models.RerankedCandidate) string {
	blocks := make([]string, len(candidates))
	for i, cand := range candidates {
		if title := metadataTitle(cand.Chunk.Metadata); title != "" {
			blocks[i] = fmt.Sprintf("[%d] (from: %s): %s", i+1, title, cand.Chunk.Text)
		} else {
			blocks[i] = fmt.Sprintf("[%d]: %s", i+1, cand.Chunk.Text)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func metadataTitle(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if title, ok := metadata["title"].(string); ok {
		return title
	}
	return ""
}

// totalTokens pulls the provider-reported token usage out of the generation
// info, unmodified. Providers differ on key names and numeric types.
func totalTokens(info map[string]interface{}) int {
	if info == nil {
		return 0
	}
	if total := asInt(info["TotalTokens"]); total > 0 {
		return total
	}
	return asInt(info["PromptTokens"]) + asInt(info["CompletionTokens"])
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
