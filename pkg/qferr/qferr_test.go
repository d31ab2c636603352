package qferr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestAPIErrorUnwrapsThroughWrapping verifies that an *APIError survives
// fmt.Errorf %w wrapping and still exposes its platform code.
func TestAPIErrorUnwrapsThroughWrapping(t *testing.T) {
	base := &APIError{StatusCode: 200, Code: ServerHighLoadCode, Msg: "server is under high load"}
	wrapped := fmt.Errorf("attempt 2: %w", base)

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatalf("errors.As failed to recover *APIError from %v", wrapped)
	}
	if apiErr.Code != ServerHighLoadCode {
		t.Errorf("expected code %d, got %d", ServerHighLoadCode, apiErr.Code)
	}
	if apiErr.HTTPStatus() != 200 {
		t.Errorf("expected HTTPStatus 200, got %d", apiErr.HTTPStatus())
	}
}

// TestRetryableCode checks the retryable set: QPS, high-load, RPM, TPM and
// console internal codes retry; auth and parameter errors do not.
func TestRetryableCode(t *testing.T) {
	retryable := []int{QPSLimitReachedCode, ServerHighLoadCode, RPMLimitReachedCode, TPMLimitReachedCode, ConsoleInternalErrorCode}
	for _, code := range retryable {
		if !RetryableCode(code) {
			t.Errorf("code %d should be retryable", code)
		}
	}
	fatal := []int{NoErrorCode, AccessTokenExpiredCode, InvalidParamCode, PermissionDeniedCode, UnknownErrorCode}
	for _, code := range fatal {
		if RetryableCode(code) {
			t.Errorf("code %d should not be retryable", code)
		}
	}
}

// TestTokenRefreshCode covers the two codes that trigger a bearer refresh.
func TestTokenRefreshCode(t *testing.T) {
	if !TokenRefreshCode(AccessTokenInvalidCode) || !TokenRefreshCode(AccessTokenExpiredCode) {
		t.Error("110 and 111 must trigger token refresh")
	}
	if TokenRefreshCode(InvalidParamCode) {
		t.Error("336003 must not trigger token refresh")
	}
}

// TestEndpointRefreshCode covers the codes that trigger a registry refresh.
func TestEndpointRefreshCode(t *testing.T) {
	if !EndpointRefreshCode(UnsupportedMethodCode) || !EndpointRefreshCode(APINameNotExistCode) {
		t.Error("3 and 336005 must trigger endpoint refresh")
	}
	if EndpointRefreshCode(QPSLimitReachedCode) {
		t.Error("rate limit codes must not trigger endpoint refresh")
	}
}

// TestErrorStrings spot-checks the message format of each error type.
func TestErrorStrings(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ConfigError{Msg: "QPS limit must be >= 0"}, "invalid config"},
		{&AuthError{Msg: "token exchange rejected"}, "auth failed"},
		{&APIError{StatusCode: 200, Code: 18, Msg: "qps limit"}, "api error 18"},
		{&UnsupportedModelError{Model: "ERNIE-99"}, `"ERNIE-99"`},
		{&RateLimitError{Msg: "qps wait exceeded deadline"}, "rate limit exceeded"},
		{&TransportError{Op: "chat", Err: errors.New("connection refused")}, "transport error"},
		{&MalformedResponseError{Reason: "invalid json", Snippet: "<html>"}, "malformed response"},
		{&InternalError{Msg: "nil snapshot"}, "internal error"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); !strings.Contains(got, tc.want) {
			t.Errorf("error string %q does not contain %q", got, tc.want)
		}
		if got := tc.err.Error(); !strings.HasPrefix(got, "qianfan: ") {
			t.Errorf("error string %q missing qianfan prefix", got)
		}
	}
}

// TestTransportErrorUnwrap verifies Unwrap exposes the underlying net error.
func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("read: connection reset by peer")
	err := &TransportError{Op: "completion", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("TransportError should unwrap to the inner error")
	}
}
