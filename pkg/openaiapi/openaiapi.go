// Package openaiapi adapts OpenAI and OpenAI-compatible endpoints to the
// embedding and generation provider boundaries.
package openaiapi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/httpjson"
)

// Config selects the endpoint and credentials.
type Config struct {
	APIKey  string
	BaseURL string // empty for api.openai.com
}

func newClient(cfg Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpjson.NewClient()
	return openai.NewClientWithConfig(oc)
}

// EmbedClient creates embeddings.
type EmbedClient struct {
	client *openai.Client
	model  string
}

// NewEmbedClient creates an embedding client for model.
func NewEmbedClient(cfg Config, model string) *EmbedClient {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &EmbedClient{client: newClient(cfg), model: model}
}

// Model returns the embedding model name.
func (c *EmbedClient) Model() string { return c.model }

// EmbedBatch embeds texts in one request, returned in input order.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, classify(domain.ServiceEmbedding, err)
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// ChatClient answers prompts with a single-turn chat completion.
type ChatClient struct {
	client *openai.Client
	model  string
}

// NewChatClient creates a generation client for model.
func NewChatClient(cfg Config, model string) *ChatClient {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &ChatClient{client: newClient(cfg), model: model}
}

// Model returns the chat model name.
func (c *ChatClient) Model() string { return c.model }

// Generate sends prompt as the only user message.
func (c *ChatClient) Generate(ctx context.Context, prompt string, p domain.GenerationParams) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(p.Temperature),
		MaxTokens:   p.MaxNewTokens,
	})
	if err != nil {
		return "", classify(domain.ServiceGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", &domain.ServiceError{Service: domain.ServiceGeneration, Kind: domain.KindTerminal, Detail: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto ServiceError kinds.
func classify(service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewStatusError(service, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return domain.NewStatusError(service, reqErr.HTTPStatusCode, fmt.Sprint(reqErr.Err))
	}
	return domain.NewTransportError(service, err)
}
