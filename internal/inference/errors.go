package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for a nil or pixel-less patch. No request is sent.
	ErrEmptyInput = errors.New("inference input is empty")

	// ErrMaskSizeMismatch is returned when the returned mask does not hold exactly
	// one label per input pixel. It is a contract violation and is never retried.
	ErrMaskSizeMismatch = errors.New("mask size does not match expected dimensions")

	// ErrInferenceExhausted matches every *ExhaustedError.
	ErrInferenceExhausted = errors.New("inference failed after all retries")

	// ErrMalformedResponse is returned when a successful response cannot be decoded
	// or lacks the mask output. It is not retried.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// ExhaustedError reports that every attempt of an inference call failed.
// Err is the error of the last attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("inference failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap exposes both ErrInferenceExhausted and the last attempt's error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrInferenceExhausted, e.Err}
}

// transientError marks a failure worth retrying: transport errors and non-2xx
// responses from the endpoint.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
