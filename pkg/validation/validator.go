// Package validation enforces field-level rules for identity and
// organisation input: usernames, emails, passwords, slugs, and names.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	slugRegex     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	phoneRegex    = regexp.MustCompile(`^\+?[0-9][0-9 .()-]{5,}$`)
)

// Validator performs field validation on service input
type Validator struct {
	config *ValidationConfig
}

// ValidationConfig defines field limits
type ValidationConfig struct {
	// MinUsernameLength is the minimum username length
	MinUsernameLength int
	// MaxUsernameLength is the maximum username length
	MaxUsernameLength int
	// MinPasswordLength is the minimum password length
	MinPasswordLength int
	// MaxSlugLength is the maximum organisation slug length
	MaxSlugLength int
	// MaxNameLength is the maximum organisation name length
	MaxNameLength int
}

// DefaultValidationConfig returns default field limits
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MinUsernameLength: 3,
		MaxUsernameLength: 150,
		MinPasswordLength: 8,
		MaxSlugLength:     64,
		MaxNameLength:     255,
	}
}

// NewValidator creates a new validator
func NewValidator(config *ValidationConfig) *Validator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	return &Validator{config: config}
}

// Username checks username format and length
func (v *Validator) Username(username string) error {
	if len(username) < v.config.MinUsernameLength {
		return apperrors.ValidationFailed(fmt.Sprintf("username must be at least %d characters", v.config.MinUsernameLength))
	}
	if len(username) > v.config.MaxUsernameLength {
		return apperrors.ValidationFailed(fmt.Sprintf("username must be at most %d characters", v.config.MaxUsernameLength))
	}
	if !usernameRegex.MatchString(username) {
		return apperrors.ValidationFailed("username may only contain letters, digits, and _ . -")
	}
	return nil
}

// Email checks email shape
func (v *Validator) Email(email string) error {
	if email == "" {
		return apperrors.ValidationFailed("email is required")
	}
	if !emailRegex.MatchString(email) {
		return apperrors.ValidationFailed("email address is not valid")
	}
	return nil
}

// Password checks minimum password strength
func (v *Validator) Password(password string) error {
	if len(password) < v.config.MinPasswordLength {
		return apperrors.ValidationFailed(fmt.Sprintf("password must be at least %d characters", v.config.MinPasswordLength))
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return apperrors.ValidationFailed("password must contain at least one letter and one digit")
	}
	return nil
}

// PhoneNumber checks phone number shape. Empty is allowed so the field
// can be cleared.
func (v *Validator) PhoneNumber(phone string) error {
	if phone == "" {
		return nil
	}
	if !phoneRegex.MatchString(phone) {
		return apperrors.ValidationFailed("phone number is not valid")
	}
	return nil
}

// Slug checks organisation slug format
func (v *Validator) Slug(slug string) error {
	if slug == "" {
		return apperrors.ValidationFailed("slug is required")
	}
	if len(slug) > v.config.MaxSlugLength {
		return apperrors.ValidationFailed(fmt.Sprintf("slug must be at most %d characters", v.config.MaxSlugLength))
	}
	if !slugRegex.MatchString(slug) {
		return apperrors.ValidationFailed("slug may only contain lowercase letters, digits, and hyphens")
	}
	return nil
}

// OrgName checks organisation display name
func (v *Validator) OrgName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return apperrors.ValidationFailed("name is required")
	}
	if len(name) > v.config.MaxNameLength {
		return apperrors.ValidationFailed(fmt.Sprintf("name must be at most %d characters", v.config.MaxNameLength))
	}
	return nil
}
