// Package imagegen renders an illustration of a dream through the Clipdrop
// text-to-image API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/dreamsynth/internal/remote"
)

const (
	defaultBaseURL = "https://clipdrop-api.co"
	defaultTimeout = 60 * time.Second
	serviceName    = "image"
	maxImageSize   = 32 << 20 // 32MB

	// MaxPromptRunes bounds the prompt sent to the service.
	MaxPromptRunes = 400
)

// Prompt prepares text for the image service: newlines become spaces, outer
// whitespace is removed and the result is cut to MaxPromptRunes characters.
func Prompt(text string) string {
	p := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	p = strings.TrimSpace(p)
	if r := []rune(p); len(r) > MaxPromptRunes {
		p = string(r[:MaxPromptRunes])
	}
	return p
}

// Client generates images. Each call is attempted once.
type Client struct {
	apiKey   string
	opts     remote.Options
	maxBytes int64
}

// NewClient creates an image client with the given API key.
func NewClient(apiKey string, opts ...remote.Option) *Client {
	return &Client{
		apiKey:   apiKey,
		opts:     remote.Resolve(serviceName, defaultBaseURL, defaultTimeout, opts),
		maxBytes: maxImageSize,
	}
}

// Generate returns the encoded image produced for text.
func (c *Client) Generate(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"prompt": Prompt(text)})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/text-to-image/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remote.FromResponse(c.opts.Name, resp, c.apiKey)
	}

	// One byte past the limit tells a full image from a cut one.
	img, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("reading image: %w", err)}
	}
	if int64(len(img)) > c.maxBytes {
		return nil, &remote.Error{Service: c.opts.Name, Err: fmt.Errorf("image exceeds %d bytes", c.maxBytes)}
	}
	if len(img) == 0 {
		return nil, &remote.Error{Service: c.opts.Name, Err: errors.New("empty image")}
	}
	return img, nil
}
