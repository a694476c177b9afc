package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx response returned by DoJSON. Classifying it is left to the caller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client resolves paths against the API base URL and sends them through the pipeline transport.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

type ClientOption func(*http.Client)

// WithJar lets every request carry the session cookie the jar holds for the API host.
func WithJar(jar http.CookieJar) ClientOption {
	return func(c *http.Client) {
		c.Jar = jar
	}
}

func NewClient(baseURL string, transport http.RoundTripper, timeout time.Duration, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, apperrors.Wrapf(err, "invalid API base URL %q", baseURL)
	}
	hc := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
	for _, option := range options {
		option(hc)
	}
	return &Client{baseURL: u, http: hc}, nil
}

func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// NewRequest builds a request for path relative to the base URL. A non-nil body is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "invalid path %q", path)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimPrefix(rel.Path, "/")
	u.RawQuery = rel.RawQuery

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrapf(err, "marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req and unwraps pipeline errors from the *url.Error the http.Client adds.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if apperrors.As(err, &urlErr) {
			if urlErr.Timeout() && !apperrors.Is(urlErr.Err, apperrors.ErrTimeout) {
				return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, urlErr.Err)
			}
			return nil, urlErr.Err
		}
		return nil, err
	}
	return resp, nil
}

// DoJSON sends in as JSON (when non-nil) and decodes a 2xx body into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidResponse, err)
	}
	return nil
}
