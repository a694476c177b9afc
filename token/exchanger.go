package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
)

const maxResponseBody = 1 << 20

// Authenticator exchanges user credentials for a session.
type Authenticator interface {
	Login(ctx context.Context, req oauthmodel.LoginRequest) (*oauthmodel.LoginResponse, error)
}

// HTTPExchanger talks to the JSON login and refresh endpoints of the backend. It uses its own
// http.Client: token exchange must never pass through the request pipeline.
type HTTPExchanger struct {
	baseURL     string
	client      *http.Client
	loginPath   string
	refreshPath string
}

var (
	_ Exchanger     = (*HTTPExchanger)(nil)
	_ Authenticator = (*HTTPExchanger)(nil)
)

type HTTPExchangerOption func(*HTTPExchanger)

func WithHTTPClient(client *http.Client) HTTPExchangerOption {
	return func(e *HTTPExchanger) {
		e.client = client
	}
}

func WithPaths(loginPath, refreshPath string) HTTPExchangerOption {
	return func(e *HTTPExchanger) {
		e.loginPath = loginPath
		e.refreshPath = refreshPath
	}
}

func NewHTTPExchanger(baseURL string, options ...HTTPExchangerOption) *HTTPExchanger {
	e := &HTTPExchanger{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		loginPath:   oauthmodel.RouteLogin,
		refreshPath: oauthmodel.RouteRefresh,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 30 * time.Second}
	}
	return e
}

func (e *HTTPExchanger) Login(ctx context.Context, req oauthmodel.LoginRequest) (*oauthmodel.LoginResponse, error) {
	if err := oauthmodel.Validate(req); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	var resp oauthmodel.LoginResponse
	status, err := e.postJSON(ctx, e.loginPath, req, &resp)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "HTTPExchanger.Login")
	}
	if err := oauthmodel.Validate(resp); err != nil {
		return nil, errors.Wrap(err, "HTTPExchanger.Login")
	}
	return &resp, nil
}

func (e *HTTPExchanger) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error) {
	var resp oauthmodel.TokenResponse
	if _, err := e.postJSON(ctx, e.refreshPath, oauthmodel.RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, errors.Wrap(err, "HTTPExchanger.Refresh")
	}
	return &resp, nil
}

func (e *HTTPExchanger) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send request")
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return res.StatusCode, errors.Wrap(err, "read response")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return res.StatusCode, fmt.Errorf("%s returned %d: %s", path, res.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return res.StatusCode, fmt.Errorf("%w: %w", apperrors.ErrInvalidResponse, err)
	}
	return res.StatusCode, nil
}
