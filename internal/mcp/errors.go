// Package mcp implements the Model Context Protocol server for scenedex.
// It exposes document sync and hybrid scene search as tools for AI clients.
package mcp

import (
	"context"
	"errors"
	"fmt"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
)

// MCP error codes. Negative values follow JSON-RPC conventions.
const (
	// ErrCodeIndexNotFound indicates no index exists for the project.
	ErrCodeIndexNotFound = -32001

	// ErrCodeSyncFailed indicates document synchronization failed.
	ErrCodeSyncFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams  = -32602
	ErrCodeMethodNotFound = -32601
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// MapError converts internal errors to MCP errors, keeping the structured
// message so the client sees the coded failure rather than a generic 500.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var se *sdxerrors.ScenedexError
	if errors.As(err, &se) {
		return mapScenedexError(se)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapScenedexError(se *sdxerrors.ScenedexError) *MCPError {
	switch se.Category {
	case sdxerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: se.Message}
	case sdxerrors.CategoryIO:
		if se.Code == sdxerrors.ErrCodeCorruptIndex {
			return &MCPError{Code: ErrCodeIndexNotFound, Message: se.Message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: se.Message}
	case sdxerrors.CategoryUpstream:
		return &MCPError{Code: ErrCodeSyncFailed, Message: se.Message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: se.Message}
	}
}
