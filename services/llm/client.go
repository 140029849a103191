// Package llm holds the text-generation backends the case namer uses to
// mint short case names. Both backends expose a single prompt-in,
// text-out Generate call; chat histories and streaming are out of scope
// for this service.
package llm

import "context"

// GenerationParams tunes one generation. Nil fields fall back to
// backend defaults, which are biased toward short, deterministic output
// since the only caller produces one-line case names.
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient is a prompt-in, text-out generation backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
