// Package chat is a minimal client for OpenAI-compatible chat completion
// endpoints (Mistral by default).
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/dreamsynth/internal/remote"
)

const (
	defaultBaseURL = "https://api.mistral.ai/v1"
	defaultTimeout = 60 * time.Second
	serviceName    = "chat"
)

// Client sends chat completion requests. Each call is attempted once.
type Client struct {
	apiKey string
	opts   remote.Options
}

// NewClient creates a chat client with the given API key.
func NewClient(apiKey string, opts ...remote.Option) *Client {
	return &Client{
		apiKey: apiKey,
		opts:   remote.Resolve(serviceName, defaultBaseURL, defaultTimeout, opts),
	}
}

// Complete sends req and returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req.wire())
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return "", &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", remote.FromResponse(c.opts.Name, resp, c.apiKey)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &remote.Error{Service: c.opts.Name, Err: errors.New("response has no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
