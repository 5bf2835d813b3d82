package aierrors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
)

// ErrRunTimeout is returned when an assistant run doesn't reach a terminal
// status before the poll deadline. It is distinct from a run the provider
// reports as failed.
var ErrRunTimeout = errors.New("assistant run did not finish before the deadline")

// RunFailedError is a run that ended in a non-completed terminal status.
type RunFailedError struct {
	RunID   string
	Status  string
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	msg := fmt.Sprintf("assistant run %s ended with status %s", e.RunID, e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsRunFailed checks if err is or wraps a RunFailedError.
func IsRunFailed(err error) bool {
	var rfe *RunFailedError
	return errors.As(err, &rfe)
}

// Kind is a coarse classification of provider errors for logging.
type Kind string

const (
	KindNone      Kind = ""
	KindAuth      Kind = "auth"
	KindBilling   Kind = "billing"
	KindRateLimit Kind = "rate_limit"
	KindTimeout   Kind = "timeout"
	KindOverload  Kind = "overload"
	KindNotFound  Kind = "not_found"
	KindServer    Kind = "server"
	KindRunFailed Kind = "run_failed"
	KindCancelled Kind = "cancelled"
	KindUnknown   Kind = "unknown"
)

// Classify wraps the Is*Error checks into a single classifier.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case IsRunFailed(err):
		return KindRunFailed
	case IsAuthError(err):
		return KindAuth
	case IsBillingError(err):
		return KindBilling
	case IsRateLimitError(err):
		return KindRateLimit
	case IsTimeoutError(err):
		return KindTimeout
	case IsOverloadedError(err):
		return KindOverload
	case IsNotFound(err):
		return KindNotFound
	case IsServerError(err):
		return KindServer
	default:
		return KindUnknown
	}
}

// ContainsAnyPattern checks if the lowercased error message contains any of the given patterns.
func ContainsAnyPattern(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(safeErrorString(err))
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// safeErrorString guards against SDK error values whose Error method
// dereferences request fields that may be unset.
func safeErrorString(err error) (text string) {
	if err == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return err.Error()
}

// IsRateLimitError checks if the error is a rate limit (429) error
func IsRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Code, "rate_limit_exceeded") {
			return true
		}
		if apiErr.StatusCode == 429 {
			return true
		}
	}
	return ContainsAnyPattern(err, []string{
		"resource_exhausted",
		"usage limit",
	})
}

// IsServerError checks if the error is a server-side (5xx) error
func IsServerError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if strings.EqualFold(apiErr.Code, "server_error") {
			return true
		}
		return apiErr.StatusCode >= 500
	}
	return false
}

// IsAuthError checks if the error is an authentication error.
// Checks openai.Error status codes first, then falls back to string pattern matching.
func IsAuthError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			return true
		}
	}
	return ContainsAnyPattern(err, []string{
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"unauthorized",
	})
}

// IsNotFound checks if the error is a 404, e.g. a deleted assistant or thread.
func IsNotFound(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

// IsBillingError checks if the error is a billing/payment error (402)
func IsBillingError(err error) bool {
	return ContainsAnyPattern(err, []string{
		"payment required",
		"insufficient_quota",
		"exceeded your current quota",
		"billing",
	})
}

// IsOverloadedError checks if the error indicates the service is overloaded
func IsOverloadedError(err error) bool {
	return ContainsAnyPattern(err, []string{
		"overloaded",
		"service unavailable",
	})
}

// IsTimeoutError checks if the error is a timeout error
func IsTimeoutError(err error) bool {
	return ContainsAnyPattern(err, []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"econnreset",
	})
}
