// Package pipeline gates, decorates and recovers every outbound API call.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/credentials"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderTenantID      = "X-Tenant-ID"
	HeaderRequestID     = "X-Request-ID"
)

// Rejection and destruction reasons recorded in metrics
const (
	reasonNotClientContext = "not_client_context"
	reasonInvalidSession   = "invalid_session"
	reasonNoToken          = "no_token"
	reasonRefreshFailed    = "refresh_failed"
	reasonRetryExhausted   = "retry_exhausted"
)

// TokenRefresher is satisfied by token.Manager.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

// TenantSource is satisfied by tenants.Registry.
type TenantSource interface {
	RequestTenantID() string
}

// Transport is an http.RoundTripper that attaches the session credentials to protected requests
// and recovers from one 401 per request by refreshing the access token.
type Transport struct {
	base        http.RoundTripper
	store       *credentials.Store
	tenants     TenantSource
	tokens      TokenRefresher
	navigator   Navigator
	metrics     *metrics.Recorder
	publicPaths []string
	basePath    string
}

var _ http.RoundTripper = (*Transport)(nil)

type TransportOption func(*Transport)

func WithBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = base
	}
}

func WithNavigator(navigator Navigator) TransportOption {
	return func(t *Transport) {
		t.navigator = navigator
	}
}

func WithMetrics(recorder *metrics.Recorder) TransportOption {
	return func(t *Transport) {
		t.metrics = recorder
	}
}

func WithPublicPaths(paths ...string) TransportOption {
	return func(t *Transport) {
		t.publicPaths = paths
	}
}

// WithBasePath sets the path prefix of the API base URL, the public allow-list is matched
// below it.
func WithBasePath(basePath string) TransportOption {
	return func(t *Transport) {
		t.basePath = strings.TrimSuffix(basePath, "/")
	}
}

func NewTransport(store *credentials.Store, tenants TenantSource, tokens TokenRefresher, options ...TransportOption) *Transport {
	t := &Transport{
		base:        http.DefaultTransport,
		store:       store,
		tenants:     tenants,
		tokens:      tokens,
		navigator:   noopNavigator{},
		publicPaths: DefaultPublicPaths,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// pendingRequest is one logical request. It outlives the first attempt so that a retry sends
// the same body and request id, and so that a second 401 is recognised as terminal.
type pendingRequest struct {
	orig      *http.Request
	body      []byte
	requestID string
	token     string
	retried   bool
}

func (p *pendingRequest) attempt(token, tenantID string) *http.Request {
	req := p.orig.Clone(p.orig.Context())
	if p.body != nil {
		body := p.body
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
	}
	req.Header.Set(HeaderRequestID, p.requestID)
	req.Header.Set(HeaderAuthorization, "Bearer "+token)
	if tenantID != "" {
		req.Header.Set(HeaderTenantID, tenantID)
	} else {
		req.Header.Del(HeaderTenantID)
	}
	p.token = token
	return req
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isPublic(t.publicPaths, t.basePath, req.URL.Path) {
		return t.send(req)
	}

	token, err := t.authorize()
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	pending, err := newPendingRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.send(pending.attempt(token, t.tenants.RequestTenantID()))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	return t.handleUnauthorized(pending, resp)
}

// authorize runs the pre-send checks of a protected request.
func (t *Transport) authorize() (string, error) {
	if !t.store.InClientContext() {
		t.metrics.Rejected(reasonNotClientContext)
		return "", apperrors.ErrNotClientContext
	}
	if !t.store.Valid() {
		t.metrics.Rejected(reasonInvalidSession)
		return "", apperrors.ErrNoSession
	}
	// Valid can pass and the token still be gone: reading it may have destroyed the session
	token, ok := t.store.Token()
	if !ok {
		t.metrics.Rejected(reasonNoToken)
		return "", apperrors.ErrNoSession
	}
	return token, nil
}

// handleUnauthorized handles a 401. The request is resent at most once; a 401 on the resend ends the
// session whatever caused it.
func (t *Transport) handleUnauthorized(pending *pendingRequest, resp *http.Response) (*http.Response, error) {
	drain(resp)
	ctx := pending.orig.Context()

	if pending.retried {
		return nil, t.expire(reasonRetryExhausted, pending, nil)
	}
	pending.retried = true

	// Peek: the token may have expired while the request was in flight, and a destructive
	// read here would take the refresh token down with it.
	if stored, ok := t.store.PeekToken(); !ok || stored == pending.token {
		if err := t.tokens.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				// the caller gave up, the refresh token may still be good
				return nil, mapTransportError(ctx.Err())
			}
			t.metrics.Refresh(metrics.TriggerReactive, outcome(err))
			return nil, t.expire(reasonRefreshFailed, pending, err)
		}
		t.metrics.Refresh(metrics.TriggerReactive, metrics.OutcomeSuccess)
	} else {
		log.Debug().Str("request_id", pending.requestID).Msg("Transport: token already rotated, resending")
	}

	token, ok := t.store.Token()
	if !ok {
		return nil, t.expire(reasonRefreshFailed, pending, apperrors.ErrNoSession)
	}

	t.metrics.Retry()
	resp, err := t.send(pending.attempt(token, t.tenants.RequestTenantID()))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	return t.handleUnauthorized(pending, resp)
}

// expire destroys the session and sends the user to login.
func (t *Transport) expire(reason string, pending *pendingRequest, cause error) error {
	log.Warn().
		Err(cause).
		Str("reason", reason).
		Str("request_id", pending.requestID).
		Str("path", pending.orig.URL.Path).
		Msg("Transport: session expired")

	t.store.Clear()
	t.metrics.SessionDestroyed(reason)
	t.navigator.RedirectToLogin()

	if cause != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, cause)
	}
	return apperrors.ErrSessionExpired
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	return resp, nil
}

func newPendingRequest(req *http.Request) (*pendingRequest, error) {
	p := &pendingRequest{
		orig:      req,
		requestID: req.Header.Get(HeaderRequestID),
	}
	if p.requestID == "" {
		p.requestID = uuid.NewString()
	}
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, apperrors.Wrapf(err, "read request body")
		}
		p.body = body
	}
	return p, nil
}

func mapTransportError(err error) error {
	if apperrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	var netErr net.Error
	if apperrors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	return err
}

func outcome(err error) string {
	if apperrors.Is(err, apperrors.ErrNoRefreshToken) {
		return metrics.OutcomeNoRefresh
	}
	return metrics.OutcomeFailure
}

// drain lets the connection be reused before the response is discarded.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
