package genai

import (
	"errors"
	"fmt"
)

// ErrMalformedOutput marks a model response that failed schema validation.
// Non-retryable: the record is rejected or flagged, never partially persisted.
var ErrMalformedOutput = errors.New("malformed model output")

// ProviderError wraps a transient network/API failure. Retryable by the
// caller within the phase's backoff budget.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error during %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a transient provider
// failure.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
