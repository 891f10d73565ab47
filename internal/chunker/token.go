package chunker

import "strings"

// Tokenizer counts the tokens an embedding model would see for text.
type Tokenizer interface {
	Count(text string) int
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(text string) int

func (f TokenizerFunc) Count(text string) int { return f(text) }

// WordTokenizer estimates tokens from the word count. It is the default
// when no model tokenizer is configured.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int { return EstimateTokens(text) }

// EstimateTokens gives a rough token count of about 1.33 tokens per word.
// Exact tokenization is not required for chunking.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}
