// internal/common/errors/errors_test.go
package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToBPMNError(t *testing.T) {
	t.Run("retryable store error keeps retries", func(t *testing.T) {
		bpmnErr := ConvertToBPMNError(NewResponseLookupFailedError(stderrors.New("down")))

		assert.Equal(t, "RESPONSE_LOOKUP_FAILED", bpmnErr.Code)
		assert.Equal(t, 3, bpmnErr.Retries)
		assert.True(t, bpmnErr.Retryable)

		vars := bpmnErr.ToErrorVariables()
		assert.Equal(t, "RESPONSE_LOOKUP_FAILED", vars["errorCode"])
		assert.Equal(t, "RESPONSE_LOOKUP_FAILED", vars["originalErrorCode"])
	})

	t.Run("business errors are not retried", func(t *testing.T) {
		bpmnErr := ConvertToBPMNError(NewLanguageMissingError("de not configured"))

		assert.Equal(t, "LANGUAGE_MISSING", bpmnErr.Code)
		assert.Zero(t, bpmnErr.Retries)
		assert.Equal(t, "de not configured", bpmnErr.Details)
	})

	t.Run("non retryable overrides code table", func(t *testing.T) {
		stdErr := NewResponseLookupFailedError(stderrors.New("down"))
		stdErr.Retryable = false

		assert.Zero(t, ConvertToBPMNError(stdErr).Retries)
	})

	t.Run("unknown code falls back to itself", func(t *testing.T) {
		bpmnErr := ConvertToBPMNError(&StandardError{Code: "SOMETHING_ELSE"})
		assert.Equal(t, "SOMETHING_ELSE", bpmnErr.Code)
	})
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "REQUEST", GetErrorCategory(ErrCodeProjectIDMissing))
	assert.Equal(t, "REQUEST", GetErrorCategory(ErrCodeLanguageMissing))
	assert.Equal(t, "TEMPLATE", GetErrorCategory(ErrCodePayloadDecodeFailed))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeQueryTimeout))
	assert.Equal(t, "SEARCH", GetErrorCategory(ErrCodeIndexNotFound))
	assert.Equal(t, "SEARCH", GetErrorCategory(ErrCodeSearchQueryFailed))
	assert.Equal(t, "SEARCH", GetErrorCategory(ErrCodeElasticsearchConnectionFailed))
	assert.Equal(t, "STORE", GetErrorCategory(ErrCodeResponseLookupFailed))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidInput))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeParseError))
	assert.True(t, IsRetryableErrorCode(ErrCodeSearchQueryFailed))
	assert.False(t, IsRetryableErrorCode(ErrCodePayloadDecodeFailed))
}
