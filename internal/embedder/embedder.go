// Package embedder converts text into dense vector embeddings. Provider
// implementations (OpenAI, Azure OpenAI, Ollama) talk to their backend via
// plain HTTP — no additional SDK dependencies are required. The Client type
// wraps a provider with content caching, batching, rate limiting, and
// retries; most callers should use Client rather than a provider directly.
package embedder

import "context"

// Embedder converts a batch of texts into dense vector embeddings.
// The returned slice is parallel to the input: result[i] embeds texts[i].
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
