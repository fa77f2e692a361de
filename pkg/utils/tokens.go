// Package utils provides tiktoken-based token counting for prompt budgets.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for prompt-budget checks. All
// supported providers are approximated with the GPT-4 encoding; exact counts
// are not required for budget guarding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// WithinLimit checks if text fits within the specified token limit.
// A non-positive limit disables the check.
func (tc *TokenCounter) WithinLimit(text string, limit int) bool {
	if limit <= 0 {
		return true
	}
	return tc.CountTokens(text) <= limit
}

// TruncateToLimit truncates text to fit within the specified token limit.
// This is a rough approximation - it truncates by characters, not perfect
// token boundaries.
func (tc *TokenCounter) TruncateToLimit(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9) // 0.9 safety margin
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}
