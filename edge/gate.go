// Package edge gates server rendered pages on the session cookie mirror, before any client code
// gets to run.
package edge

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/rs/zerolog/log"
)

// DefaultPublicPrefixes are reachable without a session. The login page is always public.
var DefaultPublicPrefixes = []string{
	"/register",
	"/forgot-password",
	"/reset-password",
	"/pricing",
	"/static/",
	"/favicon.ico",
}

type Gate struct {
	loginPage      string
	homePage       string
	cookieName     string
	publicPrefixes []string
	codec          securecookie.Codec
}

type Option func(*Gate)

// WithCodec verifies the cookie with the codec the cookie mirror signs with.
func WithCodec(codec securecookie.Codec) Option {
	return func(g *Gate) {
		g.codec = codec
	}
}

func WithPublicPrefixes(prefixes ...string) Option {
	return func(g *Gate) {
		g.publicPrefixes = prefixes
	}
}

func WithCookieName(name string) Option {
	return func(g *Gate) {
		g.cookieName = name
	}
}

func New(loginPage, homePage string, options ...Option) *Gate {
	g := &Gate{
		loginPage:      loginPage,
		homePage:       homePage,
		cookieName:     credentials.CookieName,
		publicPrefixes: DefaultPublicPrefixes,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authenticated := g.authenticated(r)

		if r.URL.Path == g.loginPage {
			if authenticated {
				http.Redirect(w, r, g.homePage, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if g.isPublic(r.URL.Path) || authenticated {
			next.ServeHTTP(w, r)
			return
		}

		target := g.loginPage + "?" + url.Values{"redirect": {r.URL.RequestURI()}}.Encode()
		log.Debug().Str("path", r.URL.Path).Msg("Gate: no session cookie, redirecting to login")
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

func (g *Gate) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	if g.codec == nil {
		return true
	}
	var value string
	if err := g.codec.Decode(g.cookieName, cookie.Value, &value); err != nil {
		log.Debug().Err(err).Msg("Gate: rejecting undecodable session cookie")
		return false
	}
	return value != ""
}

func (g *Gate) isPublic(path string) bool {
	for _, prefix := range g.publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
