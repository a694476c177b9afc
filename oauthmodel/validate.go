package oauthmodel

import (
	"github.com/go-playground/validator/v10"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

var validate = validator.New()

// Validate checks a decoded wire struct against its validate tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidResponse, "%s", err.Error())
	}
	return nil
}
