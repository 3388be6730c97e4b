package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/debug"
)

// maxErrorBodyBytes caps how much of an upstream error body is read and
// how much of it appears in logs.
const maxErrorBodyBytes = 4096

// upstreamError is the normalized shape extracted from an upstream error
// body before classification.
type upstreamError struct {
	Message    string
	Type       string
	Code       string
	HTTPStatus int
}

// errorEnvelope matches the common {"error": {...}} body format.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// parseUpstreamError normalizes an upstream error body. It accepts a JSON
// object with an error field, a top-level array of such objects (first
// entry wins), or raw text.
func parseUpstreamError(status int, body []byte) upstreamError {
	ue := upstreamError{HTTPStatus: status}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ue
	}

	switch trimmed[0] {
	case '{':
		var env errorEnvelope
		if err := json.Unmarshal([]byte(trimmed), &env); err == nil && env.Error.Message != "" {
			ue.Message = env.Error.Message
			ue.Type = env.Error.Type
			ue.Code = codeString(env.Error.Code)
			return ue
		}
	case '[':
		var envs []errorEnvelope
		if err := json.Unmarshal([]byte(trimmed), &envs); err == nil && len(envs) > 0 && envs[0].Error.Message != "" {
			ue.Message = envs[0].Error.Message
			ue.Type = envs[0].Error.Type
			ue.Code = codeString(envs[0].Error.Code)
			return ue
		}
	}

	ue.Message = debug.Truncate(trimmed, maxErrorBodyBytes)
	return ue
}

// codeString normalizes the error code field, which providers send as
// either a string or a number.
func codeString(code any) string {
	switch v := code.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// translateHTTPError converts a non-2xx upstream response into a classified
// domain error. The body is read with a size cap and logged before
// translation.
func translateHTTPError(resp *http.Response) *api.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	ue := parseUpstreamError(resp.StatusCode, body)

	debug.Log("providers", "upstream error response",
		"status", resp.StatusCode,
		"type", ue.Type,
		"code", ue.Code,
		"body", debug.Truncate(string(body), 200),
	)

	message := ue.Message
	var derr *api.Error

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if message == "" {
			message = "upstream rejected the configured credentials"
		}
		derr = api.NewAuthenticationError(message)

	case resp.StatusCode == http.StatusTooManyRequests:
		if message == "" {
			message = "upstream rate limit exceeded"
		}
		derr = api.NewRateLimitError(message)

	case resp.StatusCode == http.StatusBadRequest:
		if message == "" {
			message = "upstream rejected the request as invalid"
		}
		derr = api.NewConfigurationError(message)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if message == "" {
			message = fmt.Sprintf("upstream request failed (HTTP %d)", resp.StatusCode)
		}
		derr = api.NewProviderError(message)
		derr.Permanent = true

	default:
		if message == "" {
			message = fmt.Sprintf("upstream server error (HTTP %d)", resp.StatusCode)
		}
		derr = api.NewProviderError(message)
	}

	derr.HTTPStatus = resp.StatusCode
	derr.Code = ue.Code
	if ue.Type != "" {
		if derr.Details == nil {
			derr.Details = map[string]any{}
		}
		derr.Details["upstream_type"] = ue.Type
	}
	return derr
}

// translateTransportError converts a network-level failure (connection
// refused, DNS failure, timeout, interrupted read) into a classified
// domain error, preserving the original error as its cause.
func translateTransportError(err error) *api.Error {
	// Domain errors injected as a cancellation cause pass through.
	var derr *api.Error
	if errors.As(err, &derr) {
		return derr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewTimeoutError(api.TimeoutGeneric, "upstream call deadline exceeded", err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return api.NewTimeoutError(api.TimeoutConnect, "timed out connecting to upstream", err)
		}
		return api.NewTimeoutError(api.TimeoutRead, "timed out reading from upstream", err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		perr := api.NewProviderError("upstream connection was interrupted before the response completed")
		perr.Cause = err
		return perr
	}

	perr := api.NewProviderError("upstream connection error: " + err.Error())
	perr.Cause = err
	return perr
}
