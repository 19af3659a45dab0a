package llms

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text using the cl100k_base
// encoding, falling back to a bytes/4 heuristic when the encoder is
// unavailable (for example offline, with no cached BPE data).
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// CountMessageTokens estimates the total tokens of a message list, with a
// small per-message envelope overhead.
func CountMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += CountTokens(m.Content) + 4
	}
	return total
}
