package pipeline_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/kvstore"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/pipeline"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var testUser = &users.Profile{ID: "user-1", Email: "john.doe@example.com"}

// fakeBackend accepts exactly one access token at a time and rotates it on refresh.
type fakeBackend struct {
	mu           sync.Mutex
	validToken   string
	refreshToken string
	refreshDelay time.Duration
	alwaysDeny   bool
	slow         time.Duration

	refreshes atomic.Int32
	seen      []http.Header
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+oauthmodel.RouteRefresh, func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		time.Sleep(b.refreshDelay)

		var req oauthmodel.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		if req.RefreshToken != b.refreshToken {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
			return
		}
		b.validToken = "at-refreshed"
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": b.validToken, "expires_in": 900})
	})
	mux.HandleFunc("POST "+oauthmodel.RouteLogin, func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("GET "+oauthmodel.RoutePublicPlans, func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		time.Sleep(b.slow)

		b.mu.Lock()
		ok := !b.alwaysDeny && r.Header.Get(pipeline.HeaderAuthorization) == "Bearer "+b.validToken
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func (b *fakeBackend) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, r.Header.Clone())
}

func (b *fakeBackend) Seen() []http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]http.Header(nil), b.seen...)
}

type testFixture struct {
	backend   *fakeBackend
	server    *httptest.Server
	store     *credentials.Store
	registry  *tenants.Registry
	manager   *token.Manager
	recorder  *metrics.Recorder
	redirects atomic.Int32
	client    *pipeline.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	return setupTestFixtureWithStore(t, credentials.NewStore(kvstore.NewMemory(), nil))
}

func setupTestFixtureWithStore(t *testing.T, store *credentials.Store) *testFixture {
	t.Helper()

	f := &testFixture{
		backend: &fakeBackend{validToken: "at-1", refreshToken: "rt-1"},
		store:   store,
	}
	f.server = httptest.NewServer(f.backend.handler())
	t.Cleanup(f.server.Close)

	f.registry = tenants.NewRegistry(store)
	exchanger := token.NewHTTPExchanger(f.server.URL, token.WithHTTPClient(f.server.Client()))
	f.manager = token.NewManager(store, exchanger, token.WithRefreshTimeout(2*time.Second))
	f.recorder = metrics.New(prometheus.NewRegistry())

	transport := pipeline.NewTransport(store, f.registry, f.manager,
		pipeline.WithBase(f.server.Client().Transport),
		pipeline.WithMetrics(f.recorder),
		pipeline.WithNavigator(pipeline.NavigatorFunc(func() { f.redirects.Add(1) })),
	)
	client, err := pipeline.NewClient(f.server.URL, transport, 5*time.Second)
	require.NoError(t, err)
	f.client = client
	return f
}

func (f *testFixture) login(t *testing.T, accessToken, refreshToken string) {
	t.Helper()
	require.NoError(t, f.store.SetSession(accessToken, testUser, time.Hour, refreshToken))
}
