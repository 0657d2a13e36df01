package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultGeneratePath = "/generate"
	DefaultHealthPath   = "/healthz"

	defaultAccept   = "application/octet-stream, image/*, video/*, application/json;q=0.9"
	maxErrorSnippet = 512
)

// ErrNotConfigured is returned when no backend base URL is set
var ErrNotConfigured = errors.New("render backend not configured")

// Config captures how to reach the render backend
type Config struct {
	BaseURL      string
	GeneratePath string
	HealthPath   string
	Timeout      time.Duration
}

// HTTPError is a non-2xx answer from the backend
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("render backend returned %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports whether the backend rejected the request itself
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Response is a successful backend answer
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the body is a JSON document
func (r *Response) IsJSON() bool {
	mediaType := mediaTypeOf(r.ContentType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// IsBinary reports whether the body is a raw artifact
func (r *Response) IsBinary() bool {
	mediaType := mediaTypeOf(r.ContentType)
	return mediaType == "application/octet-stream" ||
		strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "video/")
}

// Client talks to the external render backend
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client; the per-call timeout is applied through the
// request context rather than the HTTP client
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.GeneratePath == "" {
		cfg.GeneratePath = DefaultGeneratePath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout is the bound applied to each Generate call
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Generate posts a multipart payload and returns the backend's answer.
// Non-2xx answers are returned as *HTTPError.
func (c *Client) Generate(ctx context.Context, body io.Reader, contentType, accept string) (*Response, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.GeneratePath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", NegotiateAccept(accept))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read render response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: snippet(data)}
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Response{StatusCode: resp.StatusCode, ContentType: ct, Body: data}, nil
}

// Health probes the backend liveness endpoint
func (c *Client) Health(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("render health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		return &HTTPError{StatusCode: resp.StatusCode, Message: snippet(data)}
	}
	return nil
}

// NegotiateAccept keeps the caller's Accept when it names something the
// backend can produce and falls back to binary-then-JSON otherwise
func NegotiateAccept(callerAccept string) string {
	callerAccept = strings.TrimSpace(callerAccept)
	if callerAccept == "" {
		return defaultAccept
	}
	for _, part := range strings.Split(callerAccept, ",") {
		mediaType := mediaTypeOf(part)
		switch {
		case mediaType == "*/*":
			continue
		case mediaType == "application/json",
			mediaType == "application/octet-stream",
			strings.HasPrefix(mediaType, "image/"),
			strings.HasPrefix(mediaType, "video/"):
			return callerAccept
		}
	}
	return defaultAccept
}

func mediaTypeOf(value string) string {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(value))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(value, ";", 2)[0]))
	}
	return mediaType
}

func snippet(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) > maxErrorSnippet {
		data = data[:maxErrorSnippet]
	}
	if len(data) == 0 {
		return "empty response"
	}
	return string(data)
}
