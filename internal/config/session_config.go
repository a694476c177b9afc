package config

import "time"

type SessionConfig interface {
	GetRefreshTimeout() time.Duration
	GetRenewalInterval() time.Duration
	GetRenewalThreshold() time.Duration
	GetSessionCookieMaxAge() time.Duration
	GetCookieHashKey() []byte
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRefreshTimeout() time.Duration {
	return GetEnvDuration("REFRESH_TIMEOUT", 10*time.Second)
}

func (Session) GetRenewalInterval() time.Duration {
	return GetEnvDuration("RENEWAL_INTERVAL", time.Minute)
}

// GetRenewalThreshold is how close to expiry the access token may get before it is renewed
func (Session) GetRenewalThreshold() time.Duration {
	return GetEnvDuration("RENEWAL_THRESHOLD", 5*time.Minute)
}

func (Session) GetSessionCookieMaxAge() time.Duration {
	return GetEnvDuration("SESSION_COOKIE_MAX_AGE", 7*24*time.Hour) // 7 days
}

// GetCookieHashKey returns the securecookie hash key; nil leaves the cookie mirror unsigned.
func (Session) GetCookieHashKey() []byte {
	key := GetEnv("COOKIE_HASH_KEY", "")
	if key == "" {
		return nil
	}
	return []byte(key)
}
