package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Run("without internal error", func(t *testing.T) {
		err := New(http.StatusNotFound, "job_not_found", "Job not found")
		assert.Equal(t, "job_not_found: Job not found", err.Error())
	})

	t.Run("with internal error", func(t *testing.T) {
		inner := errors.New("sql: no rows in result set")
		err := ErrDatabase.WithInternal(inner)
		assert.Contains(t, err.Error(), "database_error")
		assert.Contains(t, err.Error(), "no rows")
	})
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := ErrDatabase.WithInternal(inner)

	assert.ErrorIs(t, err, inner)
}

func TestError_WithInternal_DoesNotMutateOriginal(t *testing.T) {
	inner := errors.New("boom")
	wrapped := ErrInternal.WithInternal(inner)

	assert.Nil(t, ErrInternal.Internal)
	assert.Equal(t, inner, wrapped.Internal)
	assert.Equal(t, ErrInternal.Code, wrapped.Code)
}

func TestError_WithMessage(t *testing.T) {
	err := ErrBadRequest.WithMessage("queue name is required")

	assert.Equal(t, "queue name is required", err.Message)
	assert.Equal(t, "bad_request", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	// The shared sentinel keeps its original message
	assert.Equal(t, "Invalid request", ErrBadRequest.Message)
}

func TestError_WithDetails(t *testing.T) {
	err := ErrValidation.WithDetails(map[string]any{"field": "url"})

	assert.Equal(t, "url", err.Details["field"])
	assert.Empty(t, ErrValidation.Details)
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("document", "d-123")

	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
	assert.Equal(t, "document 'd-123' not found", err.Message)
}
