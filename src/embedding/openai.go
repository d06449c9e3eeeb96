package embedding

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"www.github.com/Wanderer0074348/SemCache/src/config"
)

// OpenAIEmbedder calls the OpenAI embeddings API (or a compatible server
// when BaseURL is set).
type OpenAIEmbedder struct {
	*base
	client     *openai.Client
	dimensions int
}

func NewOpenAIEmbedder(cfg *config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		base:       newBase(ProviderOpenAI, cfg),
		client:     openai.NewClientWithConfig(clientCfg),
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, e.create)
}

func (e *OpenAIEmbedder) create(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Data[0].Embedding, nil
}
