// Package ollama adapts a local Ollama server to the embedding and
// generation provider boundaries.
package ollama

import (
	"context"
	"strings"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/httpjson"
)

// DefaultURL is where Ollama listens by default.
const DefaultURL = "http://localhost:11434"

func base(u string) string {
	if u == "" {
		return DefaultURL
	}
	return strings.TrimRight(u, "/")
}

// EmbedClient embeds text through /api/embed.
type EmbedClient struct {
	baseURL string
	model   string
	http    *httpjson.Client
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string) *EmbedClient {
	return &EmbedClient{
		baseURL: base(baseURL),
		model:   model,
		http:    &httpjson.Client{HTTP: httpjson.NewClient(), Service: domain.ServiceEmbedding},
	}
}

// Model returns the embedding model name.
func (c *EmbedClient) Model() string { return c.model }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch embeds all texts in a single request.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out embedResp
	if err := c.http.Post(ctx, c.baseURL+"/api/embed", embedReq{Model: c.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}
