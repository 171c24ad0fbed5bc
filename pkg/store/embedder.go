package store

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// embeddingDimension matches the vector(1536) column and the
// text-embedding-3-small output size.
const embeddingDimension = 1536

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// embeddingsClient is the slice of the OpenAI client we use.
type embeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder embeds questions with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client embeddingsClient
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder builds an embedder over text-embedding-3-small.
func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  openai.SmallEmbedding3,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("embedding response has %d entries, expected 1", len(resp.Data))
	}
	vec := resp.Data[0].Embedding
	if len(vec) != embeddingDimension {
		return nil, fmt.Errorf("embedding has dimension %d, expected %d", len(vec), embeddingDimension)
	}
	return vec, nil
}
