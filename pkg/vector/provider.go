// Package vector abstracts the vector store behind a small provider
// interface with two backends: chromem (embedded, zero-config) and
// Qdrant (external, for production deployments).
package vector

import (
	"context"
	"fmt"

	"github.com/keplerai/kepler/pkg/config"
)

// Result is a single similarity search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// Provider is a vector database backend.
type Provider interface {
	Name() string

	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection string, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	CreateCollection(ctx context.Context, collection string, vectorDimension int) error
	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

// New constructs a provider from its configuration.
func New(cfg config.VectorConfig) (Provider, error) {
	switch cfg.Type {
	case "chromem":
		var chromemCfg config.ChromemConfig
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemProvider(chromemCfg)
	case "qdrant":
		var qdrantCfg config.QdrantConfig
		if cfg.Qdrant != nil {
			qdrantCfg = *cfg.Qdrant
		}
		return NewQdrantProvider(qdrantCfg)
	default:
		return nil, fmt.Errorf("unsupported vector provider type: %s", cfg.Type)
	}
}
