// Package hfhub talks to the Hugging Face Inference API: feature extraction
// for embeddings and text generation for answers.
package hfhub

import (
	"context"
	"net/http"
	"strings"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/httpjson"
)

// DefaultBaseURL is the public inference endpoint.
const DefaultBaseURL = "https://api-inference.huggingface.co"

// DefaultEmbedModel is used when no embedding model is configured.
const DefaultEmbedModel = "sentence-transformers/all-mpnet-base-v2"

type options struct {
	WaitForModel bool `json:"wait_for_model"`
}

func header(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// EmbedClient calls the feature-extraction pipeline.
type EmbedClient struct {
	baseURL string
	model   string
	http    *httpjson.Client
}

// NewEmbedClient creates an embedding client. An empty baseURL uses
// DefaultBaseURL; an empty model uses DefaultEmbedModel.
func NewEmbedClient(baseURL, token, model string) *EmbedClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultEmbedModel
	}
	return &EmbedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &httpjson.Client{HTTP: httpjson.NewClient(), Service: domain.ServiceEmbedding, Header: header(token)},
	}
}

// Model returns the embedding model repo id.
func (c *EmbedClient) Model() string { return c.model }

type featureReq struct {
	Inputs  []string `json:"inputs"`
	Options options  `json:"options"`
}

// EmbedBatch embeds texts in one request.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	url := c.baseURL + "/pipeline/feature-extraction/" + c.model
	if err := c.http.Post(ctx, url, featureReq{Inputs: texts, Options: options{WaitForModel: true}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateClient calls the text-generation task of a model.
type GenerateClient struct {
	baseURL string
	model   string
	http    *httpjson.Client
}

// NewGenerateClient creates a text generation client for the given repo id.
func NewGenerateClient(baseURL, token, model string) *GenerateClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GenerateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &httpjson.Client{HTTP: httpjson.NewClient(), Service: domain.ServiceGeneration, Header: header(token)},
	}
}

// Model returns the generation model repo id.
func (c *GenerateClient) Model() string { return c.model }

type genParams struct {
	Temperature    float64 `json:"temperature"`
	MaxNewTokens   int     `json:"max_new_tokens"`
	ReturnFullText bool    `json:"return_full_text"`
}

type genReq struct {
	Inputs     string    `json:"inputs"`
	Parameters genParams `json:"parameters"`
	Options    options   `json:"options"`
}

type genResp struct {
	GeneratedText string `json:"generated_text"`
}

// Generate returns the model's continuation of prompt, without the prompt.
func (c *GenerateClient) Generate(ctx context.Context, prompt string, p domain.GenerationParams) (string, error) {
	req := genReq{
		Inputs:     prompt,
		Parameters: genParams{Temperature: p.Temperature, MaxNewTokens: p.MaxNewTokens},
		Options:    options{WaitForModel: true},
	}
	var out []genResp
	if err := c.http.Post(ctx, c.baseURL+"/models/"+c.model, req, &out); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", &domain.ServiceError{Service: domain.ServiceGeneration, Kind: domain.KindTerminal, Detail: "empty generation response"}
	}
	return out[0].GeneratedText, nil
}
