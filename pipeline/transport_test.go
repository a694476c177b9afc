package pipeline_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/pipeline"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTransport_AttachesCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-1", "rt-1")
	require.NoError(t, f.registry.CacheMemberships([]tenants.Membership{{ID: "t1", Name: "Acme"}}))
	require.NoError(t, f.registry.SetActiveTenant("t1"))

	require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil))

	seen := f.backend.Seen()
	require.Len(t, seen, 1)
	require.Equal(t, "Bearer at-1", seen[0].Get(pipeline.HeaderAuthorization))
	require.Equal(t, "t1", seen[0].Get(pipeline.HeaderTenantID))
	require.NotEmpty(t, seen[0].Get(pipeline.HeaderRequestID))
}

func TestTransport_TenantHeader(t *testing.T) {
	t.Run("no active tenant", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "at-1", "rt-1")

		require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil))
		require.Empty(t, f.backend.Seen()[0].Values(pipeline.HeaderTenantID))
	})

	t.Run("dangling active tenant", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "at-1", "rt-1")
		require.NoError(t, f.registry.CacheMemberships([]tenants.Membership{{ID: "t1"}}))
		require.NoError(t, f.registry.SetActiveTenant("t-removed"))

		require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil))
		require.Empty(t, f.backend.Seen()[0].Values(pipeline.HeaderTenantID))
	})
}

func TestTransport_PublicRequests(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-1", "rt-1")

	require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/plans/public", nil, nil))

	// a 401 from a public endpoint is a plain failed login, not an expired session
	err := f.client.DoJSON(context.Background(), http.MethodPost, "/auth/login", map[string]string{"email": "x"}, nil)
	var apiErr *pipeline.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	for _, h := range f.backend.Seen() {
		require.Empty(t, h.Get(pipeline.HeaderAuthorization))
	}
	require.Zero(t, f.backend.refreshes.Load())
	require.True(t, f.store.Valid())
}

func TestTransport_PublicRequestsWithoutSession(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/plans/public", nil, nil))
}

func TestTransport_RejectsWithoutSession(t *testing.T) {
	f := setupTestFixture(t)

	err := f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrNoSession)
	require.Empty(t, f.backend.Seen())
}

func TestTransport_RejectsOutsideClientContext(t *testing.T) {
	f := setupTestFixtureWithStore(t, credentials.NewServerStore())

	err := f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrNotClientContext)
	require.Empty(t, f.backend.Seen())

	require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/plans/public", nil, nil))
}

func TestTransport_RefreshAndRetry(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-stale", "rt-1")

	var out struct {
		OK bool `json:"ok"`
	}
	err := f.client.DoJSON(context.Background(), http.MethodPost, "/api/items", map[string]string{"name": "widget"}, &out)
	require.NoError(t, err)
	require.True(t, out.OK)

	seen := f.backend.Seen()
	require.Len(t, seen, 2)
	require.Equal(t, "Bearer at-stale", seen[0].Get(pipeline.HeaderAuthorization))
	require.Equal(t, "Bearer at-refreshed", seen[1].Get(pipeline.HeaderAuthorization))
	require.Equal(t, seen[0].Get(pipeline.HeaderRequestID), seen[1].Get(pipeline.HeaderRequestID))

	tok, ok := f.store.Token()
	require.True(t, ok)
	require.Equal(t, "at-refreshed", tok)
	require.Equal(t, int32(1), f.backend.refreshes.Load())
	require.Zero(t, f.redirects.Load())

	refreshes, retries, _, _ := f.recorder.Collectors()
	require.Equal(t, 1.0, testutil.ToFloat64(refreshes.WithLabelValues(metrics.TriggerReactive, metrics.OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(retries))
}

func TestTransport_TokenExpiresInFlight(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetSession("at-stale", testUser, 100*time.Millisecond, "rt-1"))
	f.backend.slow = 200 * time.Millisecond

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, &out))
	require.True(t, out.OK)
	require.Equal(t, int32(1), f.backend.refreshes.Load())
	require.Zero(t, f.redirects.Load())

	tok, ok := f.store.Token()
	require.True(t, ok)
	require.Equal(t, "at-refreshed", tok)
	refreshToken, ok := f.store.RefreshToken()
	require.True(t, ok)
	require.Equal(t, "rt-1", refreshToken)
}

func TestTransport_RefreshFailureEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-stale", "rt-revoked")

	err := f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	require.Equal(t, int32(1), f.redirects.Load())
	require.False(t, f.store.Valid())
	_, ok := f.store.RefreshToken()
	require.False(t, ok)
	require.Len(t, f.backend.Seen(), 1)
}

func TestTransport_NoRefreshTokenEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-stale", "")

	err := f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	require.Zero(t, f.backend.refreshes.Load())
	require.Equal(t, int32(1), f.redirects.Load())
}

func TestTransport_SecondUnauthorizedEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-1", "rt-1")
	f.backend.alwaysDeny = true

	err := f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	require.Len(t, f.backend.Seen(), 2, "the request is resent exactly once")
	require.Equal(t, int32(1), f.backend.refreshes.Load())
	require.Equal(t, int32(1), f.redirects.Load())
	require.False(t, f.store.Valid())

	_, _, destroyed, _ := f.recorder.Collectors()
	require.Equal(t, 1.0, testutil.ToFloat64(destroyed.WithLabelValues("retry_exhausted")))
}

func TestTransport_ConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-stale", "rt-1")
	f.backend.refreshDelay = 50 * time.Millisecond

	const requests = 6
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.client.DoJSON(context.Background(), http.MethodGet, "/api/items", nil, nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.backend.refreshes.Load())
	require.Zero(t, f.redirects.Load())
}

func TestTransport_Timeout(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-1", "rt-1")
	f.backend.slow = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.client.DoJSON(ctx, http.MethodGet, "/api/items", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrTimeout)
	require.True(t, f.store.Valid())
	require.Zero(t, f.redirects.Load())
}

func TestTransport_NonUnauthorizedPassesThrough(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "at-1", "rt-1")

	err := f.client.DoJSON(context.Background(), http.MethodGet, "/missing", nil, nil)
	var apiErr *pipeline.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.True(t, f.store.Valid())
}
