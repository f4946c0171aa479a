package llmgateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorClass buckets a provider failure into the error taxonomy from
// spec §7. Ported from the teacher's FailoverReason/ProviderError split
// in internal/agent/providers/errors.go, trimmed to the categories this
// gateway actually distinguishes.
type ErrorClass string

const (
	ErrorClassRateLimit  ErrorClass = "rate_limit"
	ErrorClassAuth       ErrorClass = "auth"
	ErrorClassBadRequest ErrorClass = "bad_request"
	ErrorClassServer     ErrorClass = "server"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// IsRetryable reports whether this class should be retried with backoff
// per the gateway's retry policy (rate_limit, server, timeout).
func (c ErrorClass) IsRetryable() bool {
	switch c {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassTimeout:
		return true
	default:
		return false
	}
}

// ProviderError wraps a provider-originated failure with its class,
// provider/model context, and (for rate limits) any provider-reported
// retry-after hint.
type ProviderError struct {
	Class      ErrorClass
	Provider   string
	Model      string
	Status     int
	Message    string
	RetryDelay float64 // seconds; Gemini's retry_delay hint, 0 if absent
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Provider, e.Model, e.Class, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s: %s", e.Provider, e.Model, e.Class, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError classifies cause by message/status-code heuristics,
// matching the teacher's ClassifyError substring approach.
func NewProviderError(provider, model string, cause error) *ProviderError {
	pe := &ProviderError{Provider: provider, Model: model, Cause: cause}
	if cause != nil {
		pe.Message = cause.Error()
	}
	pe.Class = classifyError(pe.Message)
	return pe
}

func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if cls := classifyStatusCode(status); cls != ErrorClassUnknown {
		e.Class = cls
	}
	return e
}

func (e *ProviderError) WithRetryDelay(seconds float64) *ProviderError {
	e.RetryDelay = seconds
	return e
}

func classifyError(msg string) ErrorClass {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"),
		strings.Contains(lower, "too many requests"), strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "quota"):
		return ErrorClassRateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "401"),
		strings.Contains(lower, "403"), strings.Contains(lower, "api key"),
		strings.Contains(lower, "authentication"):
		return ErrorClassAuth
	case strings.Contains(lower, "400"), strings.Contains(lower, "invalid_request"),
		strings.Contains(lower, "bad request"), strings.Contains(lower, "schema"):
		return ErrorClassBadRequest
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "context deadline"):
		return ErrorClassTimeout
	case strings.Contains(lower, "500"), strings.Contains(lower, "502"),
		strings.Contains(lower, "503"), strings.Contains(lower, "504"),
		strings.Contains(lower, "server error"), strings.Contains(lower, "internal error"):
		return ErrorClassServer
	default:
		return ErrorClassUnknown
	}
}

func classifyStatusCode(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status == 401 || status == 403:
		return ErrorClassAuth
	case status == 400 || status == 422:
		return ErrorClassBadRequest
	case status == 408:
		return ErrorClassTimeout
	case status >= 500 && status < 600:
		return ErrorClassServer
	default:
		return ErrorClassUnknown
	}
}

// IsProviderError reports whether err is (or wraps) a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// GetProviderError extracts a *ProviderError from err, if any.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ParseRetryDelaySeconds extracts a numeric seconds value from a
// Gemini-style "retry_delay" hint string such as "12s" or "12".
func ParseRetryDelaySeconds(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "s")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
