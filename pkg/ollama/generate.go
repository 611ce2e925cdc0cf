package ollama

import (
	"context"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/httpjson"
)

// GenerateClient completes prompts through /api/generate.
type GenerateClient struct {
	baseURL string
	model   string
	http    *httpjson.Client
}

// NewGenerateClient creates an Ollama generation client.
func NewGenerateClient(baseURL, model string) *GenerateClient {
	return &GenerateClient{
		baseURL: base(baseURL),
		model:   model,
		http:    &httpjson.Client{HTTP: httpjson.NewClient(), Service: domain.ServiceGeneration},
	}
}

// Model returns the generation model name.
func (c *GenerateClient) Model() string { return c.model }

type genOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type genReq struct {
	Model   string     `json:"model"`
	Prompt  string     `json:"prompt"`
	Stream  bool       `json:"stream"`
	Options genOptions `json:"options"`
}

type genResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate returns the completion for prompt.
func (c *GenerateClient) Generate(ctx context.Context, prompt string, p domain.GenerationParams) (string, error) {
	req := genReq{
		Model:   c.model,
		Prompt:  prompt,
		Options: genOptions{Temperature: p.Temperature, NumPredict: p.MaxNewTokens},
	}
	var out genResp
	if err := c.http.Post(ctx, c.baseURL+"/api/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}
