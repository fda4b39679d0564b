package inference

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Failure kinds a caller can act on. Classify wraps every provider failure in exactly one of them.
var (
	ErrRateLimited     = errors.New("inference: rate limited")
	ErrModelNotFound   = errors.New("inference: model not found")
	ErrModelWarmingUp  = errors.New("inference: model is loading")
	ErrProviderFailure = errors.New("inference: provider error")
)

// APIError is a non-2xx response from the inference provider.
type APIError struct {
	StatusCode int

	// Message is the provider's "error" field, or the raw body when it is not JSON.
	Message string

	// EstimatedTime is set by the provider while a cold model is being loaded.
	EstimatedTime float64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference: API error %d: %s", e.StatusCode, e.Message)
}

// ClassifiedError keeps the provider cause next to the failure kind.
type ClassifiedError struct {
	Kind    error
	ModelID string
	Err     error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%v (model %s): %v", e.Kind, e.ModelID, e.Err)
}

// Is lets errors.Is match the failure kind.
func (e *ClassifiedError) Is(target error) bool {
	return target == e.Kind
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify maps a provider failure onto a failure kind. The status code contract is
// checked first; message matching is only a fallback for errors without one.
func Classify(err error, modelID string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: classifyKind(err), ModelID: modelID, Err: err}
}

func classifyKind(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ErrRateLimited
		case apiErr.StatusCode == http.StatusNotFound:
			return ErrModelNotFound
		case apiErr.StatusCode == http.StatusServiceUnavailable &&
			(apiErr.EstimatedTime > 0 || strings.Contains(strings.ToLower(apiErr.Message), "currently loading")):
			return ErrModelWarmingUp
		}
	}

	// transport errors carry the request URL, whose host and model path must not match
	message := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		message = urlErr.Err.Error()
	}
	message = strings.ToLower(message)
	switch {
	case strings.Contains(message, "rate limit") || strings.Contains(message, "429"):
		return ErrRateLimited
	case strings.Contains(message, "not found") || strings.Contains(message, "404"):
		return ErrModelNotFound
	case strings.Contains(message, "model is currently loading"):
		return ErrModelWarmingUp
	default:
		return ErrProviderFailure
	}
}
