package embedding

import (
	"context"
)

// Provider produces embedding vectors for text. Implementations must
// be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for one text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Available reports whether the provider can currently serve
	// requests. Callers degrade gracefully when it cannot.
	Available(ctx context.Context) bool

	// Name identifies the provider in logs
	Name() string
}
