package credentials

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
)

// JarMirror keeps the cookie copy of the session in an http.CookieJar scoped to the API
// origin. Clients built on the same jar send the cookie with every request, which is how
// edge middleware in front of the API gets to see it.
type JarMirror struct {
	jar   http.CookieJar
	url   *url.URL
	codec securecookie.Codec
}

type JarMirrorOption func(*JarMirror)

// WithCodec signs (and optionally encrypts) cookie values. Edge middleware needs the same codec.
func WithCodec(codec securecookie.Codec) JarMirrorOption {
	return func(m *JarMirror) {
		m.codec = codec
	}
}

// WithJar shares an existing jar instead of creating one.
func WithJar(jar http.CookieJar) JarMirrorOption {
	return func(m *JarMirror) {
		m.jar = jar
	}
}

func NewJarMirror(baseURL string, options ...JarMirrorOption) (*JarMirror, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "NewJarMirror parse base url")
	}
	m := &JarMirror{url: u}
	for _, opt := range options {
		opt(m)
	}
	if m.jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.Wrap(err, "NewJarMirror cookiejar.New")
		}
		m.jar = jar
	}
	return m, nil
}

// Jar is handed to the http.Client of the request pipeline.
func (m *JarMirror) Jar() http.CookieJar {
	return m.jar
}

func (m *JarMirror) SetCookie(name, value string, expires time.Time) error {
	if m.codec != nil {
		encoded, err := m.codec.Encode(name, value)
		if err != nil {
			return errors.Wrap(err, "JarMirror.SetCookie encode")
		}
		value = encoded
	}
	m.jar.SetCookies(m.url, []*http.Cookie{{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   m.url.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}})
	return nil
}

// Cookie returns the decoded cookie value. The jar drops expired cookies on its own.
func (m *JarMirror) Cookie(name string) (string, bool) {
	for _, c := range m.jar.Cookies(m.url) {
		if c.Name != name {
			continue
		}
		if m.codec == nil {
			return c.Value, c.Value != ""
		}
		var value string
		if err := m.codec.Decode(name, c.Value, &value); err != nil {
			return "", false
		}
		return value, value != ""
	}
	return "", false
}

func (m *JarMirror) DeleteCookie(name string) error {
	m.jar.SetCookies(m.url, []*http.Cookie{{
		Name:   name,
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}

// NewCookieCodec builds the securecookie codec shared by the mirror and edge middleware.
func NewCookieCodec(hashKey []byte, maxAge time.Duration) *securecookie.SecureCookie {
	sc := securecookie.New(hashKey, nil)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(maxAge.Seconds()))
	return sc
}
