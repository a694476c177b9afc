package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Session errors
	ErrNoSession        = errors.New("no valid session")
	ErrSessionExpired   = errors.New("session expired, please log in again")
	ErrNotClientContext = errors.New("credentials are not available outside a client context")
	ErrCorruptRecord    = errors.New("corrupt stored record")

	// Token errors
	ErrNoRefreshToken     = errors.New("no refresh token")
	ErrRefreshFailed      = errors.New("refresh token exchange failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidResponse    = errors.New("invalid response from auth server")

	// Tenant errors
	ErrTenantAccessDenied = errors.New("access denied to this tenant")

	// Transport errors
	ErrTimeout = errors.New("the request timed out, please try again")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
