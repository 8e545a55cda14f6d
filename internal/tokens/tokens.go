// Package tokens counts tokens for context budgeting. It uses the cl100k_base
// encoding from tiktoken-go, loaded on first use, and falls back to a
// character heuristic when the encoding cannot be loaded.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter returns the token count of a string.
type Counter func(text string) int

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func load() *tiktoken.Tiktoken {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Count returns the cl100k_base token count, or Estimate when the encoding is
// unavailable.
func Count(text string) int {
	if enc := load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate returns max(runes/4, words), at least 1 for non-blank text.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := utf8.RuneCountInString(trimmed) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// Truncate returns the longest rune prefix of text whose count is at most
// maxTokens. Non-positive maxTokens yields "".
func Truncate(text string, maxTokens int, count Counter) string {
	if maxTokens <= 0 {
		return ""
	}
	if count(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
