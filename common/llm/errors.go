package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// APIError is a provider-neutral view of an HTTP error returned by a model API.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration // zero when the provider sent no Retry-After header
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError finds an *APIError anywhere in err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func wrapProviderError(err error) error {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return &APIError{
			Provider:   ProviderOpenAI,
			StatusCode: oaErr.StatusCode,
			Code:       oaErr.Code,
			Message:    oaErr.Error(),
			RetryAfter: retryAfter(oaErr.Response),
			Err:        err,
		}
	}

	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return &APIError{
			Provider:   ProviderAnthropic,
			StatusCode: anErr.StatusCode,
			Message:    anErr.Error(),
			RetryAfter: retryAfter(anErr.Response),
			Err:        err,
		}
	}

	return err
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// IsRetryable reports whether a failed call may succeed if repeated unchanged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMalformedOutput) {
		return true
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// No API response at all: network trouble.
	return true
}
