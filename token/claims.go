package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// ExpiryFromJWT reads the exp claim of a JWT access token. The signature is not checked: the
// client only uses it to schedule renewal, the server still validates the token.
func ExpiryFromJWT(rawToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Lifetime resolves how long the access token in resp is valid: expires_in when sent, the
// JWT exp claim otherwise, and zero (non-expiring) when neither is known.
func Lifetime(resp oauthmodel.TokenResponse, now time.Time) (time.Duration, error) {
	if d := resp.Lifetime(); d > 0 {
		return d, nil
	}
	exp, ok := ExpiryFromJWT(resp.Token())
	if !ok {
		return 0, nil
	}
	if d := exp.Sub(now); d > 0 {
		return d, nil
	}
	return 0, apperrors.Wrapf(apperrors.ErrInvalidResponse, "access token expired at %s", exp.Format(time.RFC3339))
}
