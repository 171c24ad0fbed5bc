package store

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingsClient struct {
	req  openai.EmbeddingRequest
	resp openai.EmbeddingResponse
	err  error
}

func (f *fakeEmbeddingsClient) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.req = conv.Convert()
	return f.resp, f.err
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	vec := make([]float32, embeddingDimension)
	vec[0] = 1
	client := &fakeEmbeddingsClient{
		resp: openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: vec}}},
	}
	e := &OpenAIEmbedder{client: client, model: openai.SmallEmbedding3}

	got, err := e.Embed(context.Background(), "revenue growth of AAPL")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
	assert.Equal(t, openai.SmallEmbedding3, client.req.Model)
	assert.Equal(t, []string{"revenue growth of AAPL"}, client.req.Input)
}

func TestOpenAIEmbedder_BadResponses(t *testing.T) {
	tests := []struct {
		name string
		resp openai.EmbeddingResponse
		err  error
	}{
		{"api error", openai.EmbeddingResponse{}, errors.New("rate limited")},
		{"no data", openai.EmbeddingResponse{}, nil},
		{"wrong dimension", openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{1, 2, 3}}},
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OpenAIEmbedder{
				client: &fakeEmbeddingsClient{resp: tt.resp, err: tt.err},
				model:  openai.SmallEmbedding3,
			}
			_, err := e.Embed(context.Background(), "q")
			require.Error(t, err)
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host: "localhost", Port: 5432, User: "finsight", Password: "secret",
		Database: "finsight", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=finsight password=secret dbname=finsight sslmode=disable",
		cfg.DSN())
}
