// Package openai provides the embedding client used for duplicate detection
package openai

import (
	"context"
	"fmt"

	"leadflow/internal/config"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingDimensions is the vector size of the embedding model, matching the
// vector(1536) column on leads
const EmbeddingDimensions = 1536

// Client wraps the OpenAI client for embedding generation
type Client struct {
	api        *openai.Client
	embedModel openai.EmbeddingModel
}

// NewClient creates a new OpenAI embedding client
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("no OpenAI provider configured: set OPENAI_API_KEY")
	}

	return &Client{
		api:        openai.NewClient(cfg.OpenAIKey),
		embedModel: openai.SmallEmbedding3,
	}, nil
}

// CreateEmbedding generates an embedding vector for a single text
func (c *Client) CreateEmbedding(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	embedding := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		embedding[i] = float64(v)
	}

	return embedding, nil
}

// GetEmbeddingModel returns the embedding model name being used
func (c *Client) GetEmbeddingModel() string {
	return string(c.embedModel)
}
