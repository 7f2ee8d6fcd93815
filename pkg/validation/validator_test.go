package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

func TestValidator_Username(t *testing.T) {
	v := NewValidator(nil)

	t.Run("ValidUsernames", func(t *testing.T) {
		for _, name := range []string{"alice", "bob.smith", "carol_99", "dave-x"} {
			assert.NoError(t, v.Username(name), name)
		}
	})

	t.Run("TooShort", func(t *testing.T) {
		err := v.Username("ab")
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
	})

	t.Run("TooLong", func(t *testing.T) {
		err := v.Username(strings.Repeat("a", 151))
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed))
	})

	t.Run("IllegalCharacters", func(t *testing.T) {
		for _, name := range []string{"has space", "semi;colon", "at@sign"} {
			err := v.Username(name)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed), name)
		}
	})
}

func TestValidator_Email(t *testing.T) {
	v := NewValidator(nil)

	assert.NoError(t, v.Email("alice@example.com"))
	assert.Error(t, v.Email(""))
	assert.Error(t, v.Email("not-an-email"))
	assert.Error(t, v.Email("missing@tld"))
}

func TestValidator_Password(t *testing.T) {
	v := NewValidator(nil)

	assert.NoError(t, v.Password("hunter2hunter2"))
	assert.Error(t, v.Password("short1"))
	assert.Error(t, v.Password("nodigitshere"))
	assert.Error(t, v.Password("1234567890"))
}

func TestValidator_PhoneNumber(t *testing.T) {
	v := NewValidator(nil)

	assert.NoError(t, v.PhoneNumber(""))
	assert.NoError(t, v.PhoneNumber("+1 (555) 123-4567"))
	assert.NoError(t, v.PhoneNumber("0123456789"))
	assert.Error(t, v.PhoneNumber("call me"))
	assert.Error(t, v.PhoneNumber("123"))
}

func TestValidator_Slug(t *testing.T) {
	v := NewValidator(nil)

	t.Run("Valid", func(t *testing.T) {
		for _, slug := range []string{"acme", "acme-corp", "a1-b2-c3"} {
			assert.NoError(t, v.Slug(slug), slug)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, slug := range []string{"", "Acme", "double--dash", "-leading", "trailing-", "under_score"} {
			err := v.Slug(slug)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailed), slug)
		}
	})
}

func TestValidator_OrgName(t *testing.T) {
	v := NewValidator(nil)

	assert.NoError(t, v.OrgName("Acme Corp"))
	assert.Error(t, v.OrgName(""))
	assert.Error(t, v.OrgName("   "))
	assert.Error(t, v.OrgName(strings.Repeat("x", 256)))
}
