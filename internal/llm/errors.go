package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/paperlens/backend/pkg/circuitbreaker"
)

var (
	ErrEmptyResponse  = errors.New("empty response from model")
	ErrInvalidJSON    = errors.New("model response is not valid JSON")
	ErrSchemaMismatch = errors.New("model response does not match schema")
)

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// RequestError is returned by StructuredClient once its retry budget is spent.
type RequestError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("structured request to %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// StreamError is returned by StreamingClient once its retry budget is spent.
type StreamError struct {
	Attempts int
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode != 0 {
			return apiErr.StatusCode
		}
		return apiErr.Code
	}
	return 0
}

func IsQuota(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == http.StatusTooManyRequests
}

// IsOverloaded reports 503, and Anthropic's 529.
func IsOverloaded(err error) bool {
	code := StatusCode(err)
	return code == http.StatusServiceUnavailable || code == 529
}

func isServerError(err error) bool {
	code := StatusCode(err)
	return code >= 500
}

func isClientError(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code < 500
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrInvalidJSON) || errors.Is(err, ErrSchemaMismatch)
}

// decodeAPIError builds an APIError from an error body. Both {"error":{...}}
// and the array form [{"error":{...}}] are understood, as is {"error":"text"}.
func decodeAPIError(provider string, status int, body []byte) *APIError {
	apiErr := &APIError{Provider: provider, StatusCode: status}

	for _, prefix := range []string{"error", "0.error"} {
		errField := gjson.GetBytes(body, prefix)
		if !errField.Exists() {
			continue
		}
		if errField.Type == gjson.String {
			apiErr.Message = errField.String()
		} else {
			apiErr.Message = errField.Get("message").String()
			apiErr.Code = int(errField.Get("code").Int())
		}
		break
	}

	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

type Category string

const (
	CategoryBusy    Category = "busy"
	CategoryTooLong Category = "too_long"
	CategoryQuota   Category = "quota"
	CategoryFailed  Category = "failed"
)

// Classify maps a request failure onto the small set of categories shown to users.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case IsQuota(err):
		return CategoryQuota
	case IsOverloaded(err), isServerError(err),
		errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryBusy
	case isTooLong(err):
		return CategoryTooLong
	default:
		return CategoryFailed
	}
}

func isTooLong(err error) bool {
	code := StatusCode(err)
	if code == http.StatusRequestEntityTooLarge {
		return true
	}
	if code != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"token", "too long", "exceeds", "context length"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// UserMessage is the text shown to users for err. The raw provider message
// belongs in logs only.
func UserMessage(err error) string {
	switch Classify(err) {
	case CategoryQuota:
		return "The AI service quota has been exceeded. Please wait a minute and try again."
	case CategoryBusy:
		return "The AI service is busy right now. Please try again in a moment."
	case CategoryTooLong:
		return "This document is too long to process. Try a shorter document or a smaller section."
	case CategoryFailed:
		return "The analysis could not be completed. Please try again."
	default:
		return ""
	}
}
