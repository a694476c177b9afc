// Package session wires the credential store, tenant registry, token manager, renewal loop and
// request pipeline into one explicitly constructed session context.
package session

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/config"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/pipeline"
	"github.com/jrsteele09/go-auth-client/renewal"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog/log"
)

type Context struct {
	store     *credentials.Store
	registry  *tenants.Registry
	manager   *token.Manager
	auth      token.Authenticator
	client    *pipeline.Client
	loop      *renewal.Loop
	navigator pipeline.Navigator

	renewalLock sync.Mutex
	stopRenewal func()
}

type options struct {
	navigator pipeline.Navigator
	metrics   *metrics.Recorder
	base      http.RoundTripper
	jar       http.CookieJar
}

type Option func(*options)

func WithNavigator(navigator pipeline.Navigator) Option {
	return func(o *options) {
		o.navigator = navigator
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = recorder
	}
}

// WithBaseTransport sets the transport protected requests are finally sent with.
func WithBaseTransport(base http.RoundTripper) Option {
	return func(o *options) {
		o.base = base
	}
}

// WithCookieJar sets the jar API requests carry cookies from, normally the credentials.JarMirror
// jar holding the session cookie.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o *options) {
		o.jar = jar
	}
}

// New builds a session context over store. auth performs logins and exchanger refreshes; they
// are usually the same token.HTTPExchanger or token.OAuth2Exchanger.
func New(cfg config.Config, store *credentials.Store, auth token.Authenticator, exchanger token.Exchanger, opts ...Option) (*Context, error) {
	o := options{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Context{
		store:     store,
		registry:  tenants.NewRegistry(store),
		manager:   token.NewManager(store, exchanger, token.WithRefreshTimeout(cfg.GetRefreshTimeout())),
		auth:      auth,
		navigator: o.navigator,
	}
	if c.navigator == nil {
		c.navigator = pipeline.NavigatorFunc(func() {
			log.Info().Str("page", cfg.GetLoginPage()).Msg("Session: login required")
		})
	}
	c.loop = renewal.New(c.manager,
		renewal.WithInterval(cfg.GetRenewalInterval()),
		renewal.WithThreshold(cfg.GetRenewalThreshold()),
		renewal.WithMetrics(o.metrics),
	)

	apiURL, err := url.Parse(cfg.GetAPIBaseURL())
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Session New] invalid API base URL")
	}
	transport := pipeline.NewTransport(store, c.registry, c.manager,
		pipeline.WithBase(o.base),
		pipeline.WithBasePath(apiURL.Path),
		pipeline.WithMetrics(o.metrics),
		pipeline.WithNavigator(pipeline.NavigatorFunc(c.expired)),
	)
	var clientOpts []pipeline.ClientOption
	if o.jar != nil {
		clientOpts = append(clientOpts, pipeline.WithJar(o.jar))
	}
	client, err := pipeline.NewClient(cfg.GetAPIBaseURL(), transport, cfg.GetRequestTimeout(), clientOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Session New] failed to create API client")
	}
	c.client = client
	return c, nil
}

// Login authenticates with email and password, stores the session and the user's tenants, and
// starts background renewal.
func (c *Context) Login(ctx context.Context, email, password string) (*users.Profile, error) {
	if !c.store.InClientContext() {
		return nil, apperrors.ErrNotClientContext
	}

	resp, err := c.auth.Login(ctx, oauthmodel.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	lifetime, err := token.Lifetime(resp.TokenResponse, c.store.Now())
	if err != nil {
		return nil, err
	}
	if err := c.store.SetSession(resp.Token(), resp.User, lifetime, resp.Refresh()); err != nil {
		return nil, err
	}

	if resp.Tenants != nil {
		if err := c.registry.CacheMemberships(resp.Tenants); err != nil {
			return nil, err
		}
		c.ensureActiveTenant()
	} else if _, err := c.ReloadMemberships(ctx); err != nil {
		if apperrors.Is(err, apperrors.ErrSessionExpired) || !c.store.Valid() {
			return nil, err
		}
		// the user can still use tenant independent endpoints
		log.Warn().Err(err).Msg("Session: failed to load tenant memberships")
	}

	c.startRenewal()
	log.Info().Str("user_id", resp.User.ID).Str("tenant_id", c.registry.ActiveTenant()).Msg("Session: logged in")
	return resp.User, nil
}

// Restore resumes a stored session at startup. A partial record is destroyed. It reports
// whether a usable session exists.
func (c *Context) Restore() bool {
	if !c.store.InClientContext() {
		return false
	}
	if c.store.Partial() {
		log.Warn().Msg("Session: destroying partial session")
		c.store.Clear()
		return false
	}
	if !c.store.Valid() {
		return false
	}
	c.startRenewal()
	return true
}

// Logout stops renewal, forgets the session and its tenant data, and navigates to login.
func (c *Context) Logout() {
	c.halt()
	c.store.Clear()
	c.navigator.RedirectToLogin()
	log.Info().Msg("Session: logged out")
}

// ReloadMemberships fetches the user's tenants, re-caches them and drops an active tenant the
// user no longer belongs to.
func (c *Context) ReloadMemberships(ctx context.Context) ([]tenants.Membership, error) {
	var list []tenants.Membership
	if err := c.client.DoJSON(ctx, http.MethodGet, oauthmodel.RouteTenants, nil, &list); err != nil {
		return nil, err
	}
	for _, m := range list {
		if err := oauthmodel.Validate(m); err != nil {
			return nil, err
		}
	}

	active := c.registry.ActiveTenant()
	if active != "" && !contains(list, active) {
		log.Info().Str("tenant_id", active).Msg("Session: active tenant no longer available")
		if err := c.registry.SetActiveTenant(""); err != nil {
			return nil, err
		}
	}
	if err := c.registry.CacheMemberships(list); err != nil {
		return nil, err
	}
	c.ensureActiveTenant()
	return c.registry.Memberships(), nil
}

// User returns the signed in user.
func (c *Context) User() (*users.Profile, bool) {
	return c.store.User()
}

func (c *Context) Client() *pipeline.Client {
	return c.client
}

func (c *Context) Tenants() *tenants.Registry {
	return c.registry
}

func (c *Context) Tokens() *token.Manager {
	return c.manager
}

func (c *Context) Store() *credentials.Store {
	return c.store
}

// Close stops background renewal. The stored session is kept.
func (c *Context) Close() {
	c.halt()
}

// expired is called by the pipeline after it destroyed the session.
func (c *Context) expired() {
	c.halt()
	c.navigator.RedirectToLogin()
}

func (c *Context) ensureActiveTenant() {
	if c.registry.RequestTenantID() != "" {
		return
	}
	list := c.registry.Memberships()
	if len(list) == 0 {
		return
	}
	if err := c.registry.SetActiveTenant(list[0].ID); err != nil {
		log.Err(err).Msg("Session: failed to select default tenant")
	}
}

func (c *Context) startRenewal() {
	c.renewalLock.Lock()
	defer c.renewalLock.Unlock()
	if c.stopRenewal != nil {
		return
	}
	c.stopRenewal = c.loop.Start(context.Background())
}

func (c *Context) halt() {
	c.renewalLock.Lock()
	stop := c.stopRenewal
	c.stopRenewal = nil
	c.renewalLock.Unlock()
	if stop != nil {
		stop()
	}
}

func contains(list []tenants.Membership, id string) bool {
	for _, m := range list {
		if m.ID == id {
			return true
		}
	}
	return false
}
