package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"www.github.com/Wanderer0074348/SemCache/src/config"
)

// LangChainEmbedder embeds through langchaingo's OpenAI-compatible client,
// which also covers self-hosted servers exposing /v1/embeddings.
type LangChainEmbedder struct {
	*base
	embedder embeddings.Embedder
}

func NewLangChainEmbedder(cfg *config.EmbeddingConfig) (*LangChainEmbedder, error) {
	b := newBase(ProviderLangChain, cfg)

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(b.model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain embedder: %w", err)
	}

	return &LangChainEmbedder{base: b, embedder: embedder}, nil
}

func (e *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, e.embedder.EmbedQuery)
}
