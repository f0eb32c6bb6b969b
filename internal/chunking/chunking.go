// Package chunking splits document text into token-bounded, overlapping
// windows using a CL100K byte-pair-encoding tokenizer, so the same chunking
// rules apply uniformly regardless of which embedding backend ultimately
// consumes the text.
package chunking

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultMaxTokens is the default chunk window size.
	DefaultMaxTokens = 900
	// DefaultOverlapTokens is the default overlap between adjacent windows.
	DefaultOverlapTokens = 150
	// encodingName is the tokenizer used for portability across embedding
	// providers; it is never substituted per-provider.
	encodingName = "cl100k_base"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	if encErr != nil {
		return nil, fmt.Errorf("chunking: failed to load %s encoding: %w", encodingName, encErr)
	}
	return enc, nil
}

// Chunk splits text into an ordered sequence of token windows. Windows start
// at token offsets 0, maxTokens-overlapTokens, 2*(maxTokens-overlapTokens), …
// and the final window ends at end-of-text. overlapTokens must be strictly
// less than maxTokens; overlapTokens == 0 produces disjoint windows (used for
// PDF per-page chunking).
func Chunk(text string, maxTokens, overlapTokens int) ([]string, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunking: maxTokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("chunking: overlapTokens (%d) must satisfy 0 <= overlap < maxTokens (%d)", overlapTokens, maxTokens)
	}
	if text == "" {
		return nil, nil
	}

	tk, err := encoder()
	if err != nil {
		return nil, err
	}

	tokens := tk.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	stride := maxTokens - overlapTokens
	var windows []string
	for start := 0; start < len(tokens); start += stride {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, tk.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return windows, nil
}

// KeepLastTokens truncates text to at most its last n tokens, used by the
// request factory to fit prompts within a provider's input budget.
func KeepLastTokens(text string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	tk, err := encoder()
	if err != nil {
		return "", err
	}
	tokens := tk.Encode(text, nil, nil)
	if len(tokens) <= n {
		return text, nil
	}
	return tk.Decode(tokens[len(tokens)-n:]), nil
}

// CountTokens returns the number of CL100K tokens in text.
func CountTokens(text string) (int, error) {
	tk, err := encoder()
	if err != nil {
		return 0, err
	}
	return len(tk.Encode(text, nil, nil)), nil
}
