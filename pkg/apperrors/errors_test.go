package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := PermissionDenied("organisation admin privileges required")
		assert.Equal(t, KindPermissionDenied, KindOf(err))
	})

	t.Run("wrapped classified error", func(t *testing.T) {
		err := fmt.Errorf("handling request: %w", NotFound("organisation not found"))
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("unclassified error maps to internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	})
}

func TestErrorIs(t *testing.T) {
	err := Conflict("slug is already in use")
	assert.True(t, errors.Is(err, &Error{Kind: KindConflict}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("pq: deadlock detected")
	err := Wrap(KindConflict, "concurrent update", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "conflict: concurrent update: pq: deadlock detected", err.Error())
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "not a member, organisation is private",
		ReasonOf(PermissionDenied("not a member, organisation is private")))
	assert.Equal(t, "boom", ReasonOf(errors.New("boom")))
}

func TestIsKind(t *testing.T) {
	err := InvariantViolation("cannot remove the last organisation admin")
	assert.True(t, IsKind(err, KindInvariantViolation))
	assert.False(t, IsKind(err, KindConflict))
}
