package chunker

import "strings"

// CountTokens estimates the token count of text. The embedding model's
// exact tokenizer is not available in-process, so this defaults to a
// word-count heuristic; swap in an exact counter when one is available.
// A mismatched count only shifts chunk boundaries, it never drops content.
var CountTokens = EstimateTokens

// EstimateTokens gives a rough token count from the word count,
// ~1.33 tokens per word for English text.
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

// overlapText extracts the last targetTokens worth of text for carryover
// into the next chunk.
func overlapText(text string, targetTokens int) string {
	if targetTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	targetWords := int(float64(targetTokens) / 1.33)
	if targetWords <= 0 || len(words) <= targetWords {
		return ""
	}
	return strings.Join(words[len(words)-targetWords:], " ")
}
