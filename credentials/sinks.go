package credentials

import "time"

// KV is the primary, client-only store (the equivalent of browser local storage).
// Implementations must be safe for concurrent use.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// CookieMirror holds a copy of the access token where server-side edge code can read it.
type CookieMirror interface {
	SetCookie(name, value string, expires time.Time) error
	Cookie(name string) (string, bool)
	DeleteCookie(name string) error
}
