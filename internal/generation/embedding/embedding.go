// Package embedding provides eino embedders for the configured AI provider.
package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/querypilot/querypilot/internal/config"
)

func New(ctx context.Context, cfg config.AIConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.AIProviderOpenAI:
		embedder, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return embedder, nil
	case config.AIProviderGemini:
		embedder, err := NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
