// Package qferr defines the error types returned by the Qianfan SDK and the
// platform-level numeric error codes they carry.
//
// Every error the SDK surfaces is one of the types below. Callers distinguish
// them with errors.As / errors.Is; *APIError additionally exposes the raw
// platform code and the HTTP status the body arrived with.
package qferr

import (
	"errors"
	"fmt"
)

// Platform error codes returned in the `error_code` field of response bodies.
const (
	NoErrorCode              = 0
	UnknownErrorCode         = 1
	ServiceUnavailableCode   = 2
	UnsupportedMethodCode    = 3
	RequestLimitReachedCode  = 4
	DailyLimitReachedCode    = 17
	QPSLimitReachedCode      = 18
	TotalRequestLimitCode    = 19
	InvalidRequestCode       = 100
	AccessTokenInvalidCode   = 110
	AccessTokenExpiredCode   = 111
	InternalErrorCode        = 336000
	InvalidArgumentCode      = 336001
	InvalidJSONCode          = 336002
	InvalidParamCode         = 336003
	PermissionDeniedCode     = 336004
	APINameNotExistCode      = 336005
	ServerHighLoadCode       = 336100
	RPMLimitReachedCode      = 336501
	TPMLimitReachedCode      = 336502
	ConsoleInternalErrorCode = 500000
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrCredentialsMissing is returned before any network I/O when no usable
	// credential variant (AK/SK pair, access-key/secret-key pair, or preset
	// access token) is configured.
	ErrCredentialsMissing = errors.New("qianfan: no credentials configured")

	// ErrStreamClosed is returned by Recv after Close or after the stream has
	// delivered its final event.
	ErrStreamClosed = errors.New("qianfan: stream closed")
)

type (
	// ConfigError reports missing or invalid configuration. Raised eagerly at
	// client construction or at the top of a call, never mid-retry.
	ConfigError struct {
		Msg string
	}

	// AuthError reports a credential exchange or signature rejected by the
	// platform. Not retryable beyond the single automatic refresh the
	// pipeline performs.
	AuthError struct {
		Msg string
		Err error
	}

	// APIError is a platform-level error: the body carried a non-zero
	// `error_code`. StatusCode is the HTTP status the body arrived with,
	// which may be 200.
	APIError struct {
		StatusCode int
		Code       int
		Msg        string
	}

	// UnsupportedModelError reports a model name with no endpoint mapping,
	// after a registry refresh has been attempted.
	UnsupportedModelError struct {
		Model string
	}

	// RateLimitError reports that the local limiter could not grant a permit
	// within the call budget, or that the server kept signalling exhaustion
	// until retries ran out.
	RateLimitError struct {
		Msg string
	}

	// TransportError wraps a network or I/O failure from the HTTP layer.
	TransportError struct {
		Op  string
		Err error
	}

	// MalformedResponseError reports a body or stream event that did not
	// parse as the expected shape. Snippet holds a prefix of the offending
	// bytes for diagnostics.
	MalformedResponseError struct {
		Reason  string
		Snippet string
	}

	// InternalError reports a broken SDK invariant. Seeing one is a bug.
	InternalError struct {
		Msg string
	}
)

func (e *ConfigError) Error() string { return "qianfan: invalid config: " + e.Msg }

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qianfan: auth failed: %s: %v", e.Msg, e.Err)
	}
	return "qianfan: auth failed: " + e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *APIError) Error() string {
	return fmt.Sprintf("qianfan: api error %d: %s (http %d)", e.Code, e.Msg, e.StatusCode)
}

// HTTPStatus returns the HTTP status the error body arrived with.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("qianfan: no endpoint known for model %q", e.Model)
}

func (e *RateLimitError) Error() string { return "qianfan: rate limit exceeded: " + e.Msg }

func (e *TransportError) Error() string {
	return fmt.Sprintf("qianfan: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Error() string {
	if e.Snippet == "" {
		return "qianfan: malformed response: " + e.Reason
	}
	return fmt.Sprintf("qianfan: malformed response: %s: %q", e.Reason, e.Snippet)
}

func (e *InternalError) Error() string { return "qianfan: internal error: " + e.Msg }

// ── Code classification ───────────────────────────────────────────────────────

// RetryableCode reports whether a platform code should be absorbed by the
// retry controller. Covers QPS (18) and high-load (336100), which some
// platform builds use interchangeably, plus the dedicated RPM/TPM exhaustion
// codes and console internal errors.
func RetryableCode(code int) bool {
	switch code {
	case QPSLimitReachedCode, ServerHighLoadCode, RPMLimitReachedCode,
		TPMLimitReachedCode, ConsoleInternalErrorCode:
		return true
	}
	return false
}

// TokenRefreshCode reports whether a platform code means the bearer token is
// invalid or expired and a refresh should be attempted.
func TokenRefreshCode(code int) bool {
	return code == AccessTokenInvalidCode || code == AccessTokenExpiredCode
}

// EndpointRefreshCode reports whether a platform code means the model→endpoint
// mapping is stale and the registry should be refreshed.
func EndpointRefreshCode(code int) bool {
	return code == UnsupportedMethodCode || code == APINameNotExistCode
}

// RateLimitCode reports whether a platform code signals request-rate
// exhaustion specifically (a subset of RetryableCode).
func RateLimitCode(code int) bool {
	switch code {
	case QPSLimitReachedCode, ServerHighLoadCode, RPMLimitReachedCode, TPMLimitReachedCode:
		return true
	}
	return false
}
