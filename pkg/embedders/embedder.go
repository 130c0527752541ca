// Package embedders turns text into vectors for the search index.
package embedders

import (
	"context"
	"fmt"

	"github.com/keplerai/kepler/pkg/config"
)

// Embedder produces dense vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimension() int
	ModelName() string
	Close() error
}

// New constructs an embedder from its configuration.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}
