package token

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// OAuth2Exchanger runs login and refresh against a standard OAuth2 token endpoint, using the
// resource owner password grant for login. When a verifier is configured the user's profile
// is read from the id_token.
type OAuth2Exchanger struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

var (
	_ Exchanger     = (*OAuth2Exchanger)(nil)
	_ Authenticator = (*OAuth2Exchanger)(nil)
)

type OAuth2Option func(*OAuth2Exchanger)

func WithIDTokenVerifier(verifier *oidc.IDTokenVerifier) OAuth2Option {
	return func(e *OAuth2Exchanger) {
		e.verifier = verifier
	}
}

func WithOAuth2HTTPClient(client *http.Client) OAuth2Option {
	return func(e *OAuth2Exchanger) {
		e.client = client
	}
}

func NewOAuth2Exchanger(config *oauth2.Config, options ...OAuth2Option) *OAuth2Exchanger {
	e := &OAuth2Exchanger{config: config}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// NewOIDCExchanger discovers the provider at issuer and wires its token endpoint and id_token
// verifier.
func NewOIDCExchanger(ctx context.Context, issuer, clientID, clientSecret string, options ...OAuth2Option) (*OAuth2Exchanger, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create OIDC provider")
	}
	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
	}
	options = append([]OAuth2Option{WithIDTokenVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}))}, options...)
	return NewOAuth2Exchanger(config, options...), nil
}

func (e *OAuth2Exchanger) Login(ctx context.Context, req oauthmodel.LoginRequest) (*oauthmodel.LoginResponse, error) {
	if err := oauthmodel.Validate(req); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	ctx = e.clientContext(ctx)

	tok, err := e.config.PasswordCredentialsToken(ctx, req.Email, req.Password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if apperrors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			switch retrieveErr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized:
				return nil, apperrors.ErrInvalidCredentials
			}
		}
		return nil, errors.Wrap(err, "OAuth2Exchanger.Login")
	}

	resp := &oauthmodel.LoginResponse{TokenResponse: tokenResponse(tok, "")}
	profile, memberships, err := e.identity(ctx, tok)
	if err != nil {
		return nil, errors.Wrap(err, "OAuth2Exchanger.Login")
	}
	if profile == nil {
		profile = &users.Profile{ID: req.Email, Email: req.Email}
	}
	resp.User = profile
	resp.Tenants = memberships

	if err := oauthmodel.Validate(resp); err != nil {
		return nil, errors.Wrap(err, "OAuth2Exchanger.Login")
	}
	return resp, nil
}

func (e *OAuth2Exchanger) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.TokenResponse, error) {
	ctx = e.clientContext(ctx)
	tok, err := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, errors.Wrap(err, "OAuth2Exchanger.Refresh")
	}
	resp := tokenResponse(tok, refreshToken)
	return &resp, nil
}

func (e *OAuth2Exchanger) clientContext(ctx context.Context) context.Context {
	if e.client == nil {
		return ctx
	}
	return oidc.ClientContext(context.WithValue(ctx, oauth2.HTTPClient, e.client), e.client)
}

type idClaims struct {
	Sub        string               `json:"sub"`
	Email      string               `json:"email"`
	Name       string               `json:"name"`
	GivenName  string               `json:"given_name"`
	FamilyName string               `json:"family_name"`
	Role       users.RoleType       `json:"role"`
	Tenants    []tenants.Membership `json:"tenants"`
}

func (e *OAuth2Exchanger) identity(ctx context.Context, tok *oauth2.Token) (*users.Profile, []tenants.Membership, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || e.verifier == nil {
		return nil, nil, nil
	}
	idToken, err := e.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, errors.Wrap(err, "ID token verification failed")
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, errors.Wrap(err, "failed to extract claims")
	}
	return &users.Profile{
		ID:        claims.Sub,
		Email:     claims.Email,
		Name:      claims.Name,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Role:      claims.Role,
	}, claims.Tenants, nil
}

// tokenResponse maps an oauth2.Token onto the wire model. The oauth2 package carries the old
// refresh token forward when the server does not rotate, so an unchanged value is reported
// as not rotated.
func tokenResponse(tok *oauth2.Token, previousRefresh string) oauthmodel.TokenResponse {
	resp := oauthmodel.TokenResponse{
		AccessToken: utils.Ptr(tok.AccessToken),
		TokenType:   tok.TokenType,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != previousRefresh {
		resp.RefreshToken = utils.Ptr(tok.RefreshToken)
	}
	switch {
	case tok.ExpiresIn > 0:
		resp.ExpiresIn = utils.Ptr(int(tok.ExpiresIn))
	case !tok.Expiry.IsZero():
		if secs := int(time.Until(tok.Expiry).Round(time.Second).Seconds()); secs > 0 {
			resp.ExpiresIn = utils.Ptr(secs)
		}
	}
	return resp
}
