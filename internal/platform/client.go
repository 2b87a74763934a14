// Package platform talks to the remote agent platform. The scheduler core
// only needs three calls at this boundary: register a handle for a
// credential, post content, and browse recent posts for prompt context.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// requestsPerSecond caps outbound API traffic for one invocation. The fleet
// is small; this mostly guards against a retry storm hammering the platform.
const requestsPerSecond = 4

// Post is one item from the platform feed.
type Post struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is an HTTP client for the platform API. Construct it once and pass
// it down; there is no package-level configuration.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient builds a client for the API rooted at base.
func NewClient(base string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:    base,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		log:     log,
	}
}

type registerRequest struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

type registerResponse struct {
	Credential string `json:"credential"`
}

// Register asks the platform for a credential for handle. The call is
// idempotent from the caller's perspective: a credential already stored for
// the handle is never replaced, so callers only reach this when none exists.
func (c *Client) Register(ctx context.Context, handle, name string) (string, error) {
	if c.base == "" {
		return "", fmt.Errorf("platform: api_base is not configured")
	}

	body, err := json.Marshal(registerRequest{Handle: handle, Name: name})
	if err != nil {
		return "", fmt.Errorf("platform: encode register request: %w", err)
	}

	var resp registerResponse
	if err := c.do(ctx, http.MethodPost, "/agents/register", "", bytes.NewReader(body), &resp); err != nil {
		return "", fmt.Errorf("platform: register %s: %w", handle, err)
	}
	if resp.Credential == "" {
		return "", fmt.Errorf("platform: register %s: empty credential in response", handle)
	}
	c.log.Info().Str("handle", handle).Msg("registered agent with platform")
	return resp.Credential, nil
}

type postRequest struct {
	Content string `json:"content"`
}

// Post publishes content on behalf of the credential's agent.
func (c *Client) Post(ctx context.Context, credential, content string) error {
	body, err := json.Marshal(postRequest{Content: content})
	if err != nil {
		return fmt.Errorf("platform: encode post: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/posts", credential, bytes.NewReader(body), nil); err != nil {
		return fmt.Errorf("platform: post: %w", err)
	}
	return nil
}

type browseResponse struct {
	Posts []Post `json:"posts"`
}

// Browse fetches up to limit recent posts. Failures here are expected to be
// tolerated by callers; feed context is a nicety, not a requirement.
func (c *Client) Browse(ctx context.Context, credential string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 20
	}
	var resp browseResponse
	path := "/posts?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, credential, nil, &resp); err != nil {
		return nil, fmt.Errorf("platform: browse: %w", err)
	}
	return resp.Posts, nil
}

func (c *Client) do(ctx context.Context, method, path, credential string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
