package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint and
// enforces the fixed embedding dimension the vector columns expect.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	dims     int
}

func NewOpenAIEmbedder(baseURL, token, model string, dims int) (*OpenAIEmbedder, error) {
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &OpenAIEmbedder{embedder: embedder, dims: dims}, nil
}

func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Permanent(errors.New("cannot embed empty text"))
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, classify(err)
	}
	if len(vecs) == 0 {
		return nil, Transient(errors.New("embedder returned no vectors"))
	}
	if e.dims > 0 && len(vecs[0]) != e.dims {
		return nil, Permanent(fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(vecs[0]), e.dims))
	}
	return vecs[0], nil
}
