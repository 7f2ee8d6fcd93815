package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusOK, map[string]string{"hello": "world"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "world", body["hello"])
}

func TestStatusForKind(t *testing.T) {
	cases := map[apperrors.Kind]int{
		apperrors.KindUnauthenticated:    http.StatusUnauthorized,
		apperrors.KindPermissionDenied:   http.StatusForbidden,
		apperrors.KindNotFound:           http.StatusNotFound,
		apperrors.KindInvalidReference:   http.StatusBadRequest,
		apperrors.KindConflict:           http.StatusConflict,
		apperrors.KindInvariantViolation: http.StatusConflict,
		apperrors.KindValidationFailed:   http.StatusUnprocessableEntity,
		apperrors.KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusForKind(kind), string(kind))
	}
}

func TestWriteAppError(t *testing.T) {
	t.Run("classified error keeps its reason and kind", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteAppError(rec, apperrors.InvariantViolation("organisation must retain at least one admin"))

		assert.Equal(t, http.StatusConflict, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "organisation must retain at least one admin", body.Error)
		assert.Equal(t, string(apperrors.KindInvariantViolation), body.Kind)
	})

	t.Run("unclassified error is masked", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteAppError(rec, fmt.Errorf("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "internal server error", body.Error)
		assert.NotContains(t, body.Error, "pq")
	})

	t.Run("wrapped business error surfaces its kind", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := fmt.Errorf("adding member: %w", apperrors.Conflict("user is already a member of this organisation"))
		WriteAppError(rec, err)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
