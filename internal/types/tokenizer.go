package types

// Tokenizer converts text to and from the token ids used for length
// budgeting. The chunker and the embedder must count tokens with the same
// tokenizer family as the generation model so chunk sizes predict prompt
// cost.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}
