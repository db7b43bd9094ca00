package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithMessageCopies(t *testing.T) {
	e := ErrNotFound.WithMessage("network mainnet not found")

	assert.Equal(t, "network mainnet not found", e.Error())
	assert.Equal(t, "Resource not found", ErrNotFound.Message)
	assert.Equal(t, http.StatusNotFound, e.StatusCode)
}

func TestNewValidationError(t *testing.T) {
	e := NewValidationError("Status", "must be one of pending submitted confirmed failed")

	assert.Equal(t, "validation_error", e.Code)
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Equal(t, map[string]string{"field": "Status", "error": "must be one of pending submitted confirmed failed"}, e.Details)
}

func TestAsAPIError(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", NewNotFoundError("node"))
	assert.Equal(t, "node not found", AsAPIError(wrapped).Message)
	assert.Same(t, ErrInternal, AsAPIError(fmt.Errorf("boom")))
}
