// Package remote holds the error type and HTTP options shared by the clients
// of the hosted transcription, emotion scoring and image generation services.
package remote

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 64 << 10 // 64KB

// Error is returned when a hosted service call fails: the request could not
// be sent, the service answered with a non-success status, or the response
// body could not be understood.
type Error struct {
	Service    string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	default:
		return e.Service + ": request failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// FromResponse builds an Error from a non-success response. The body is
// included verbatim except for any of the given secrets, which are masked.
func FromResponse(service string, resp *http.Response, secrets ...string) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Error{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       Redact(strings.TrimSpace(string(body)), secrets...),
	}
}

// Redact replaces every occurrence of each non-empty secret in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return s
}

// Options configures a service client.
type Options struct {
	Name       string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option mutates Options.
type Option func(*Options)

// WithBaseURL points the client at a different endpoint (tests, proxies).
func WithBaseURL(u string) Option {
	return func(o *Options) {
		if u != "" {
			o.BaseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithName overrides the service name used in error messages.
func WithName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Name = name
		}
	}
}

// Resolve applies opts on top of the given defaults.
func Resolve(name, baseURL string, timeout time.Duration, opts []Option) Options {
	o := Options{Name: name, BaseURL: baseURL, Timeout: timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}
