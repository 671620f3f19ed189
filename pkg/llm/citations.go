package llm

import (
	"regexp"
	"strconv"

	"github.com/xhad/minirag/internal/models"
)

// Citation parsing is plain pattern matching over free-form model output.
// It is kept separate from the generation call so the matching rule can
// change without touching callers.

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractSources scans the answer text for [i] markers and builds the
// source list from the candidates actually cited, ordered by first
// appearance. Markers outside [1, len(candidates)] are a data-quality
// signal from the model, not a failure: they are dropped from the list
// while the answer text stays verbatim.
func extractSources(text string, candidates []models.RerankedCandidate) []models.Source {
	matches := citationPattern.FindAllStringSubmatch(text, -1)

	sources := make([]models.Source, 0, len(candidates))
	seen := make(map[int]bool)

	for _, match := range matches {
		index, err := strconv.Atoi(match[1])
		if err != nil || index < 1 || index > len(candidates) {
			continue
		}
		if seen[index] {
			continue
		}
		seen[index] = true

		chunk := candidates[index-1].Chunk
		sources = append(sources, models.Source{
			Index:   index,
			ChunkID: chunk.ID,
			DocID:   chunk.DocumentID,
			Title:   metadataTitle(chunk.Metadata),
			Text:    chunk.Text,
			Score:   candidates[index-1].Relevance,
		})
	}

	return sources
}
