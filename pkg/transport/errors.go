package transport

import (
	"encoding/json"
	"net/http"

	"github.com/Open-Shu/shu-sub001/pkg/api"
)

// errorResponse is the JSON envelope for errors raised before streaming
// starts. Once the first frame is on the wire, errors travel as error
// events instead.
type errorResponse struct {
	Error *api.Error `json:"error"`
}

// HTTPStatusFromError maps a domain error type to an HTTP status code.
func HTTPStatusFromError(err *api.Error) int {
	switch err.Type {
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypeConfiguration:
		return http.StatusBadRequest
	case api.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case api.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, derr *api.Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse{Error: derr})
}

// WriteDomainError writes a JSON error response, deriving the status code
// from the error type.
func WriteDomainError(w http.ResponseWriter, derr *api.Error) {
	WriteError(w, derr, HTTPStatusFromError(derr))
}
