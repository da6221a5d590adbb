// internal/nlg/errors.go
package nlg

import (
	"context"
	stderrors "errors"

	"nlg-workers/internal/common/errors"
)

// StandardError normalizes anything returned by the resolver. Store errors that are
// already StandardErrors pass through; the resolver's own sentinels get their codes.
func StandardError(err error) *errors.StandardError {
	if err == nil {
		return nil
	}

	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}

	switch {
	case stderrors.Is(err, ErrMissingProject):
		return errors.NewProjectIDMissingError()
	case stderrors.Is(err, ErrMissingLanguage):
		return errors.NewLanguageMissingError(err.Error())
	case stderrors.Is(err, ErrDecode):
		return errors.NewPayloadDecodeFailedError(err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewQueryTimeoutError("response_lookup")
	default:
		return errors.NewResponseLookupFailedError(err)
	}
}
