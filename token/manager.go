package token

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Exchanger trades a refresh token for a new access token at the auth server.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error)
}

// Manager owns expiry bookkeeping and the refresh exchange for one session store.
//
// Concurrent Refresh calls share a single exchange: only one refresh request is ever
// outstanding, and every caller observes its result.
type Manager struct {
	store          *credentials.Store
	exchanger      Exchanger
	group          singleflight.Group
	refreshTimeout time.Duration
	nowFunc        func() time.Time
}

type ManagerOption func(*Manager)

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithRefreshTimeout bounds a single exchange. The exchange is detached from the caller's
// cancellation because other callers may be waiting on it.
func WithRefreshTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = timeout
	}
}

func NewManager(store *credentials.Store, exchanger Exchanger, options ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		exchanger: exchanger,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.refreshTimeout == 0 {
		m.refreshTimeout = 10 * time.Second
	}
	if m.nowFunc == nil {
		m.nowFunc = store.Now
	}
	return m
}

// IsExpired reports whether the recorded expiry has passed. No expiry means not expired.
func (m *Manager) IsExpired() bool {
	expiresAt, ok := m.store.ExpiresAt()
	if !ok {
		return false
	}
	return !m.nowFunc().Before(expiresAt)
}

// TimeUntilExpiration returns max(0, expiresAt-now), ok is false when no expiry is recorded.
func (m *Manager) TimeUntilExpiration() (time.Duration, bool) {
	expiresAt, ok := m.store.ExpiresAt()
	if !ok {
		return 0, false
	}
	remaining := expiresAt.Sub(m.nowFunc())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Refresh exchanges the stored refresh token for a new access token. Without a refresh token
// it fails with ErrNoRefreshToken and the server is not contacted. On any failure the stored
// session is left exactly as it was.
func (m *Manager) Refresh(ctx context.Context) error {
	if _, ok := m.store.RefreshToken(); !ok {
		return apperrors.ErrNoRefreshToken
	}

	exchangeCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return nil, m.exchange(exchangeCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) exchange(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	// read inside the flight so a rotation written by the previous exchange is used
	refreshToken, ok := m.store.RefreshToken()
	if !ok {
		return apperrors.ErrNoRefreshToken
	}

	resp, err := m.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		log.Err(err).Msg("Manager: refresh exchange failed")
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}
	if err := oauthmodel.Validate(resp); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}

	lifetime, err := Lifetime(*resp, m.nowFunc())
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}

	if err := m.store.UpdateTokens(resp.Token(), lifetime, resp.Refresh()); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}

	log.Debug().
		Dur("lifetime", lifetime).
		Bool("rotated", resp.Refresh() != "").
		Msg("Manager: access token refreshed")
	return nil
}
