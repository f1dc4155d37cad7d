// Package llm abstracts the LLM backends used by the oracles: text
// generation for decisions, query rewriting and relevance judging, and
// embeddings for similarity retrieval.
package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// EmbeddingProvider defines the interface for computing embedding vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerateFunc adapts a plain function to LLMClient. Using a function type
// lets tests pass a closure instead of building an adapter struct.
type GenerateFunc func(ctx context.Context, prompt string, params GenerationParams) (string, error)

// Generate implements the LLMClient interface.
func (f GenerateFunc) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return f(ctx, prompt, params)
}

// EmbedFunc adapts a plain function to EmbeddingProvider.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements the EmbeddingProvider interface.
func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
