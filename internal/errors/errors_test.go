package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DerivesClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"stale scene", ErrCodeStaleScene, CategoryIO, SeverityError, false},
		{"corrupt index is fatal", ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{"parse failed", ErrCodeParseFailed, CategoryUpstream, SeverityError, false},
		{"tx failed retryable", ErrCodeTxFailed, CategoryInternal, SeverityWarning, true},
		{"embedder unavailable retryable", ErrCodeEmbedderUnavailable, CategoryUpstream, SeverityWarning, true},
		{"dimension mismatch", ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodeStaleScene, "gone", nil))

	assert.True(t, stderrors.Is(err, New(ErrCodeStaleScene, "", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeParseFailed, "", nil)))
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := Wrap(ErrCodeTxFailed, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeTxFailed, GetCode(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail(t *testing.T) {
	err := StaleSceneError("abc123")
	assert.Equal(t, "abc123", err.Details["content_hash"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TxError("deadlock", nil)))
	assert.False(t, IsRetryable(ParseError("bad grammar", nil)))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "torn page", nil)))
	assert.False(t, IsFatal(ParseError("bad grammar", nil)))
}
