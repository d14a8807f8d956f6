package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// GeminiEmbedder embeds text through the Gemini API.
type GeminiEmbedder struct {
	models     contentEmbedder
	model      string
	dimensions int
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiEmbedder(client.Models, cfg.Model, cfg.Dimensions), nil
}

func newGeminiEmbedder(models contentEmbedder, model string, dimensions int) *GeminiEmbedder {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{models: models, model: model, dimensions: dimensions}
}

func (e *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	model := e.model
	options := embedding.GetCommonOptions(&embedding.Options{Model: &model}, opts...)

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	var embedCfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		embedCfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(e.dimensions))}
	}

	resp, err := e.models.EmbedContent(ctx, *options.Model, contents, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed content returned an unexpected number of vectors")
	}

	vectors := make([][]float64, len(resp.Embeddings))
	for i, item := range resp.Embeddings {
		if item == nil {
			return nil, fmt.Errorf("embed content returned an empty vector at %d", i)
		}
		vector := make([]float64, len(item.Values))
		for j, value := range item.Values {
			vector[j] = float64(value)
		}
		vectors[i] = vector
	}
	return vectors, nil
}
