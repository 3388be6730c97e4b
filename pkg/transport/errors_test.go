package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Open-Shu/shu-sub001/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		derr *api.Error
		want int
	}{
		{api.NewAuthenticationError("x"), http.StatusUnauthorized},
		{api.NewConfigurationError("x"), http.StatusBadRequest},
		{api.NewRateLimitError("x"), http.StatusTooManyRequests},
		{api.NewTimeoutError(api.TimeoutRead, "x", nil), http.StatusGatewayTimeout},
		{api.NewProviderError("x"), http.StatusBadGateway},
		{api.NewNoFinalMessageError(), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := HTTPStatusFromError(tt.derr); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.derr.Type, got, tt.want)
		}
	}
}

func TestWriteDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDomainError(rec, api.NewRateLimitError("slow down"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if resp.Error.Type != api.ErrorTypeRateLimit || resp.Error.Message != "slow down" {
		t.Errorf("unexpected envelope: %+v", resp.Error)
	}
}
