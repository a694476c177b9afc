package pipeline_test

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/kvstore"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/pipeline"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/stretchr/testify/require"
)

func TestClient_BasePathPrefix(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.Path, r.URL.RawQuery, r.Header.Get(pipeline.HeaderAuthorization)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	store := credentials.NewStore(kvstore.NewMemory(), nil)
	transport := pipeline.NewTransport(store, tenants.NewRegistry(store), token.NewManager(store, token.NewHTTPExchanger(srv.URL)),
		pipeline.WithBasePath("/api/v1/"))
	client, err := pipeline.NewClient(srv.URL+"/api/v1/", transport, time.Second)
	require.NoError(t, err)

	var plans []any
	require.NoError(t, client.DoJSON(context.Background(), http.MethodGet, "/plans/public?currency=eur", nil, &plans))
	require.Equal(t, "/api/v1/plans/public", gotPath)
	require.Equal(t, "currency=eur", gotQuery)
	require.Empty(t, gotAuth)
}

func TestClient_PublicPathOutsideBasePath(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	store := credentials.NewStore(kvstore.NewMemory(), nil)
	transport := pipeline.NewTransport(store, tenants.NewRegistry(store), token.NewManager(store, token.NewHTTPExchanger(srv.URL)),
		pipeline.WithBasePath("/api/v1"))

	for _, base := range []string{srv.URL + "/admin", srv.URL + "/api/v10"} {
		client, err := pipeline.NewClient(base, transport, time.Second)
		require.NoError(t, err)
		err = client.DoJSON(context.Background(), http.MethodPost, "/auth/login", nil, nil)
		require.ErrorIs(t, err, apperrors.ErrNoSession, base)
	}
	require.Zero(t, calls.Load())
}

func TestClient_CarriesSessionCookie(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(credentials.CookieName); err == nil {
			gotCookie = c.Value
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: credentials.CookieName, Value: "at-cookie", Path: "/"}})

	client, err := pipeline.NewClient(srv.URL, http.DefaultTransport, time.Second, pipeline.WithJar(jar))
	require.NoError(t, err)
	require.NoError(t, client.DoJSON(context.Background(), http.MethodGet, "/plans/public", nil, nil))
	require.Equal(t, "at-cookie", gotCookie)
}

func TestClient_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	t.Cleanup(srv.Close)

	client, err := pipeline.NewClient(srv.URL, http.DefaultTransport, time.Second)
	require.NoError(t, err)

	var out map[string]any
	err = client.DoJSON(context.Background(), http.MethodGet, "/plans/public", nil, &out)
	require.ErrorIs(t, err, apperrors.ErrInvalidResponse)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client, err := pipeline.NewClient(srv.URL, http.DefaultTransport, 20*time.Millisecond)
	require.NoError(t, err)

	err = client.DoJSON(context.Background(), http.MethodGet, "/plans/public", nil, nil)
	require.ErrorIs(t, err, apperrors.ErrTimeout)
}
