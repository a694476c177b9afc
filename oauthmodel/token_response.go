package oauthmodel

import (
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/users"
)

// TokenResponse is returned by both the login and the refresh endpoints.
type TokenResponse struct {
	// AccessToken is the bearer credential for protected resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	// Lifespan: Short-lived (typically 15 minutes - 1 hour)
	AccessToken *string `json:"access_token" validate:"required"`

	// TokenType indicates how to use the access token, normally "bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Example: 900 (for 15 minutes)
	// Absent: the expiry is taken from the JWT "exp" claim when there is one
	ExpiresIn *int `json:"expires_in,omitempty" validate:"omitempty,gte=0"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Absent on refresh: the server did not rotate, keep using the old one
	RefreshToken *string `json:"refresh_token,omitempty"`
}

// LoginResponse is a TokenResponse plus the identity it was issued for.
type LoginResponse struct {
	TokenResponse

	// User is the authenticated identity. Required: a token without a user is a partial session.
	User *users.Profile `json:"user" validate:"required"`

	// Tenants the user can switch between. May be fetched separately when absent.
	Tenants []tenants.Membership `json:"tenants,omitempty" validate:"dive"`
}

// Lifetime converts ExpiresIn into a duration; zero means unspecified.
func (r TokenResponse) Lifetime() time.Duration {
	return time.Duration(utils.Value(r.ExpiresIn)) * time.Second
}

func (r TokenResponse) Token() string {
	return utils.Value(r.AccessToken)
}

// Refresh returns the rotated refresh token, or "" when the server kept the old one.
func (r TokenResponse) Refresh() string {
	return utils.Value(r.RefreshToken)
}
