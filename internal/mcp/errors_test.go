package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexrag/lexrag/internal/search"
	"github.com/lexrag/lexrag/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"empty query", search.ErrEmptyQuery, ErrCodeInvalidParams},
		{"wrapped empty query", fmt.Errorf("retrieve: %w", search.ErrEmptyQuery), ErrCodeInvalidParams},
		{"index unavailable", store.ErrIndexUnavailable, ErrCodeIndexNotFound},
		{"dimension mismatch", store.DimensionMismatchError{Expected: 768, Got: 384}, ErrCodeIndexMismatch},
		{"wrapped dimension mismatch", fmt.Errorf("semantic: %w", store.DimensionMismatchError{Expected: 768, Got: 384}), ErrCodeIndexMismatch},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"unknown", errors.New("disk on fire"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := MapError(tt.err)
			require.NotNil(t, pe)
			assert.Equal(t, tt.wantCode, pe.Code)
			assert.NotEmpty(t, pe.Message)
		})
	}
}

func TestMapError_NilIsNil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_DoesNotLeakInternals(t *testing.T) {
	pe := MapError(errors.New("sqlite: database table passages is corrupt"))
	assert.Equal(t, ErrCodeInternalError, pe.Code)
	assert.NotContains(t, pe.Message, "sqlite")
}

func TestProtocolError_Error(t *testing.T) {
	pe := NewInvalidParamsError("limit must be positive")
	assert.Equal(t, "MCP error -32602: limit must be positive", pe.Error())
}
