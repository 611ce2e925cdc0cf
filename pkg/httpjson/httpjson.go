// Package httpjson is the JSON-over-HTTP plumbing shared by the inference
// provider adapters. Failures come back as *domain.ServiceError so callers
// can tell transient from terminal ones.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/docqa/engine/domain"
)

// maxDetail caps how much of an error body ends up in the error message.
const maxDetail = 512

// NewClient returns an HTTP client whose requests are traced.
func NewClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Client posts JSON bodies on behalf of one service.
type Client struct {
	HTTP    *http.Client
	Service string
	Header  http.Header
}

// Post sends in as JSON to url and decodes the response into out.
func (c *Client) Post(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", c.Service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.Service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return domain.NewTransportError(c.Service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetail))
		return domain.NewStatusError(c.Service, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ServiceError{Service: c.Service, Kind: domain.KindTerminal, Detail: "decode response", Err: err}
	}
	return nil
}
