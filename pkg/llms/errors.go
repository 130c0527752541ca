package llms

import (
	"context"
	"errors"
	"fmt"
)

// TimeoutError reports that a provider call exceeded its deadline. It
// carries the provider name and the configured timeout so callers can
// surface a meaningful message without parsing error strings.
type TimeoutError struct {
	Provider string
	Seconds  int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out after %ds", e.Provider, e.Seconds)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// wrapTimeout converts a context deadline error into a TimeoutError,
// leaving other errors untouched.
func wrapTimeout(err error, provider string, seconds int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Seconds: seconds, Err: err}
	}
	return err
}
