package credentials

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog/log"
)

// Store reads and writes the session across two sinks: every write goes to both the primary
// KV and the cookie mirror, reads use the primary and fall back to the cookie.
//
// A Store created without a primary sink represents a context that cannot scope credentials
// to a single user. All of its operations are no-ops.
type Store struct {
	primary      KV
	mirror       CookieMirror
	cookieMaxAge time.Duration
	nowFunc      func() time.Time
	mu           sync.Mutex
}

type StoreOption func(*Store)

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithCookieMaxAge(maxAge time.Duration) StoreOption {
	return func(s *Store) {
		s.cookieMaxAge = maxAge
	}
}

// NewStore creates a store over the given sinks. mirror may be nil.
func NewStore(primary KV, mirror CookieMirror, options ...StoreOption) *Store {
	s := &Store{
		primary: primary,
		mirror:  mirror,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.cookieMaxAge == 0 {
		s.cookieMaxAge = DefaultCookieMaxAge
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

// NewServerStore returns a store for contexts that must never read or send credentials.
func NewServerStore() *Store {
	return NewStore(nil, nil)
}

func (s *Store) InClientContext() bool {
	return s != nil && s.primary != nil
}

// Primary exposes the primary sink so that sibling stores (the tenant registry) share it.
func (s *Store) Primary() KV {
	return s.primary
}

// Now returns the store's clock.
func (s *Store) Now() time.Time {
	return s.nowFunc()
}

// SetSession writes a complete session. expiresIn == 0 means the server gave no expiry and
// refreshToken == "" leaves any stored refresh token untouched.
func (s *Store) SetSession(accessToken string, user *users.Profile, expiresIn time.Duration, refreshToken string) error {
	if !s.InClientContext() {
		return nil
	}
	if accessToken == "" || user == nil {
		return apperrors.Wrapf(apperrors.ErrNoSession, "Store.SetSession incomplete session")
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return apperrors.Wrapf(err, "Store.SetSession marshal user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeToken(accessToken, expiresIn); err != nil {
		return err
	}
	if err := s.primary.Set(KeyUser, string(userJSON)); err != nil {
		return apperrors.Wrapf(err, "Store.SetSession user")
	}
	if refreshToken != "" {
		if err := s.primary.Set(KeyRefreshToken, refreshToken); err != nil {
			return apperrors.Wrapf(err, "Store.SetSession refresh token")
		}
	}
	return nil
}

// UpdateTokens is the write path of a refresh exchange. It refuses to write into a session
// that has been destroyed in the meantime, so a late refresh cannot resurrect half a session.
func (s *Store) UpdateTokens(accessToken string, expiresIn time.Duration, refreshToken string) error {
	if !s.InClientContext() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.primary.Get(KeyUser); !ok {
		return apperrors.Wrapf(apperrors.ErrNoSession, "Store.UpdateTokens")
	}
	if err := s.writeToken(accessToken, expiresIn); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.primary.Set(KeyRefreshToken, refreshToken); err != nil {
			return apperrors.Wrapf(err, "Store.UpdateTokens refresh token")
		}
	}
	return nil
}

// writeToken must be called with s.mu held.
func (s *Store) writeToken(accessToken string, expiresIn time.Duration) error {
	if err := s.primary.Set(KeyAccessToken, accessToken); err != nil {
		return apperrors.Wrapf(err, "Store write access token")
	}

	now := s.nowFunc()
	cookieExpiry := now.Add(s.cookieMaxAge)
	if expiresIn > 0 {
		expiresAt := now.Add(expiresIn)
		cookieExpiry = expiresAt
		if err := s.primary.Set(KeyExpiresAt, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
			return apperrors.Wrapf(err, "Store write expiry")
		}
	} else if err := s.primary.Delete(KeyExpiresAt); err != nil {
		return apperrors.Wrapf(err, "Store clear expiry")
	}

	if s.mirror != nil {
		if err := s.mirror.SetCookie(CookieName, accessToken, cookieExpiry); err != nil {
			// The primary store is authoritative, a missing mirror only affects edge gating
			log.Err(err).Msg("Store: failed to mirror access token cookie")
		}
	}
	return nil
}

// Token returns the access token. Reading an expired token destroys the session.
func (s *Store) Token() (string, bool) {
	if !s.InClientContext() {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.expiresAt(); ok && !s.nowFunc().Before(expiresAt) {
		log.Debug().Time("expires_at", expiresAt).Msg("Store: access token expired, clearing session")
		s.clear()
		return "", false
	}

	return s.storedToken()
}

// PeekToken returns the stored access token without the expiry check, so reading it never
// destroys the session.
func (s *Store) PeekToken() (string, bool) {
	if !s.InClientContext() {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storedToken()
}

// storedToken must be called with s.mu held.
func (s *Store) storedToken() (string, bool) {
	if token, ok := s.primary.Get(KeyAccessToken); ok && token != "" {
		return token, true
	}
	if s.mirror != nil {
		if token, ok := s.mirror.Cookie(CookieName); ok && token != "" {
			log.Debug().Msg("Store: access token recovered from cookie mirror")
			return token, true
		}
	}
	return "", false
}

// User returns the stored profile. A record that fails to decode is removed.
func (s *Store) User() (*users.Profile, bool) {
	if !s.InClientContext() {
		return nil, false
	}
	raw, ok := s.primary.Get(KeyUser)
	if !ok || raw == "" {
		return nil, false
	}
	var user users.Profile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Err(apperrors.Wrapf(apperrors.ErrCorruptRecord, "%s", KeyUser)).Msg("Store: clearing corrupt user record")
		_ = s.primary.Delete(KeyUser)
		return nil, false
	}
	return &user, true
}

func (s *Store) RefreshToken() (string, bool) {
	if !s.InClientContext() {
		return "", false
	}
	token, ok := s.primary.Get(KeyRefreshToken)
	return token, ok && token != ""
}

// ExpiresAt returns the recorded expiry without the destructive check Token performs.
func (s *Store) ExpiresAt() (time.Time, bool) {
	if !s.InClientContext() {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt()
}

func (s *Store) expiresAt() (time.Time, bool) {
	raw, ok := s.primary.Get(KeyExpiresAt)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Err(err).Str("key", KeyExpiresAt).Msg("Store: ignoring corrupt expiry")
		_ = s.primary.Delete(KeyExpiresAt)
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// Clear removes the session from both sinks along with the cached tenant data.
func (s *Store) Clear() {
	if !s.InClientContext() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *Store) clear() {
	for _, key := range append(sessionKeys, tenantKeys...) {
		if err := s.primary.Delete(key); err != nil {
			log.Err(err).Str("key", key).Msg("Store: failed to delete key")
		}
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteCookie(CookieName); err != nil {
			log.Err(err).Msg("Store: failed to delete cookie mirror")
		}
	}
}

// Valid reports whether both a token and a user are retrievable. It can destroy an expired
// session as a side effect of reading the token.
func (s *Store) Valid() bool {
	if _, ok := s.Token(); !ok {
		return false
	}
	_, ok := s.User()
	return ok
}

// Partial reports a record holding a token without a user or a user without a token.
func (s *Store) Partial() bool {
	if !s.InClientContext() {
		return false
	}
	_, hasToken := s.Token()
	_, hasUser := s.User()
	return hasToken != hasUser
}
