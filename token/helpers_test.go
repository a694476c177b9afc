package token_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/kvstore"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/stretchr/testify/require"
)

var testUser = &users.Profile{ID: "user-1", Email: "john.doe@example.com"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeExchanger answers refreshes from a function and counts the calls. When gate is set each
// exchange blocks until it is closed.
type fakeExchanger struct {
	calls   atomic.Int32
	gate    chan struct{}
	refresh func(refreshToken string) (*oauthmodel.TokenResponse, error)
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.refresh(refreshToken)
}

type testFixture struct {
	kv        *kvstore.Memory
	clock     *fakeClock
	store     *credentials.Store
	exchanger *fakeExchanger
	manager   *token.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	kv := kvstore.NewMemory()
	clock := &fakeClock{now: time.Now().Truncate(time.Millisecond)}
	store := credentials.NewStore(kv, nil, credentials.WithNowFunc(clock.Now))
	exchanger := &fakeExchanger{}
	return &testFixture{
		kv:        kv,
		clock:     clock,
		store:     store,
		exchanger: exchanger,
		manager:   token.NewManager(store, exchanger, token.WithRefreshTimeout(time.Second)),
	}
}

func tokenResponse(access string, expiresIn int, refresh string) *oauthmodel.TokenResponse {
	resp := &oauthmodel.TokenResponse{AccessToken: &access}
	if expiresIn > 0 {
		resp.ExpiresIn = &expiresIn
	}
	if refresh != "" {
		resp.RefreshToken = &refresh
	}
	return resp
}

func requireToken(t *testing.T, store *credentials.Store, want string) {
	t.Helper()
	got, ok := store.Token()
	require.True(t, ok)
	require.Equal(t, want, got)
}
