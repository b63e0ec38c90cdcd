package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates Config using struct tags plus cross-field rules that
// the tag language alone can't express (conditional OAuth requirements,
// the at-least-one-credential-source rule).
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateOAuthFields(); err != nil {
		return err
	}
	if err := c.validateAuthenticationSource(); err != nil {
		return err
	}
	return nil
}

// validateOAuthFields requires Issuer and JWTSecret only when OAuth is
// enabled; a disabled OAuth subsystem has no use for either.
func (c *Config) validateOAuthFields() error {
	if !c.OAuth.Enabled {
		return nil
	}
	if c.OAuth.Issuer == "" {
		return errors.New("oauth_issuer is required when oauth_enabled is true")
	}
	if c.OAuth.JWTSecret == "" {
		return errors.New("oauth_jwt_secret is required when oauth_enabled is true")
	}
	return nil
}

// validateAuthenticationSource ensures that requiring authentication
// doesn't lock every client out: at least one of OAuth or the legacy
// static bearer must be configured.
func (c *Config) validateAuthenticationSource() error {
	if !c.RequireAuthentication {
		return nil
	}
	if !c.OAuth.Enabled && !c.HasLegacyBearer() {
		return errors.New("require_authentication is true but neither oauth_enabled nor railway_bearer_token is configured")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
