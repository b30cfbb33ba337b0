package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers PageGate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// base64key: validates a base64-encoded 32-byte key.
	if err := v.RegisterValidation("base64key", validateBase64Key); err != nil {
		return fmt.Errorf("failed to register base64key validator: %w", err)
	}
	return nil
}

// validateBase64Key checks that the field decodes to exactly 32 bytes.
func validateBase64Key(fl validator.FieldLevel) bool {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(fl.Field().String()))
	if err != nil {
		return false
	}
	return len(raw) == 32
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateUsage(); err != nil {
		return err
	}
	return nil
}

// validateStorage ensures the selected backend has its required settings.
func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage: s3 backend requires a bucket")
		}
	case "fs":
		if c.Storage.Root == "" {
			return errors.New("storage: fs backend requires a root directory")
		}
	}
	return nil
}

// validateSecurity requires an encryption key outside dev mode, so encrypted
// header values never silently round-trip as plaintext in production.
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey == "" && !c.DevMode {
		return errors.New("security: encryption_key is required (set ENCRYPTION_KEY or enable dev_mode)")
	}
	return nil
}

// validateUsage ensures usage reporting is configured all-or-nothing.
func (c *Config) validateUsage() error {
	set := 0
	for _, s := range []string{c.Usage.ControlPlaneURL, c.Usage.WorkspaceID, c.Usage.WorkspaceSecret} {
		if s != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("usage: control_plane_url, workspace_id, and workspace_secret must be set together")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "fqdn":
		return fmt.Sprintf("%s must be a fully qualified domain name", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "base64key":
		return fmt.Sprintf("%s must be a base64-encoded 32-byte key", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
