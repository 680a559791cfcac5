// Package mcp exposes the retrieval pipeline over the Model Context
// Protocol, so agent clients can query the legal corpus as a tool.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexrag/lexrag/internal/search"
	"github.com/lexrag/lexrag/internal/store"
)

// Custom protocol error codes.
const (
	ErrCodeIndexNotFound  = -32001
	ErrCodeTimeout        = -32003
	ErrCodeIndexMismatch  = -32004
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ProtocolError is a JSON-RPC error with code and message.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to protocol errors.
func MapError(err error) *ProtocolError {
	if err == nil {
		return nil
	}

	var dimErr store.DimensionMismatchError
	if errors.As(err, &dimErr) {
		return &ProtocolError{
			Code:    ErrCodeIndexMismatch,
			Message: fmt.Sprintf("Embedding dimensions do not match the index (%s). Rebuild the index with the active embedding model.", dimErr.Error()),
		}
	}

	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return &ProtocolError{
			Code:    ErrCodeInvalidParams,
			Message: "Query must not be empty.",
		}
	case errors.Is(err, store.ErrIndexUnavailable):
		return &ProtocolError{
			Code:    ErrCodeIndexNotFound,
			Message: "Index not available. Run 'lexrag load' first.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &ProtocolError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &ProtocolError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	default:
		return &ProtocolError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an invalid-parameters error with a custom
// message.
func NewInvalidParamsError(msg string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeInvalidParams, Message: msg}
}
