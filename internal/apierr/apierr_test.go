package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
		code   string
	}{
		{BadRequest("At least one message is required"), http.StatusBadRequest, "invalid_request_error", "bad_request"},
		{Unauthorized("Invalid API key"), http.StatusUnauthorized, "authentication_error", "invalid_api_key"},
		{NotFound("Session %s not found", "s1"), http.StatusNotFound, "not_found", "not_found"},
		{RateLimited("Rate limit exceeded"), http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"},
		{ServiceUnavailable(errors.New("boom"), "Failed to start Claude Code"), http.StatusServiceUnavailable, "service_error", "service_unavailable"},
		{errors.New("plain"), http.StatusInternalServerError, "internal_error", "internal_error"},
	}

	for _, tc := range cases {
		status, env := HTTP(tc.err)
		if status != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, status)
		}
		if env.Error.Type != tc.typ || env.Error.Code != tc.code {
			t.Fatalf("%v: expected %s/%s, got %s/%s", tc.err, tc.typ, tc.code, env.Error.Type, env.Error.Code)
		}
		if env.Error.Message != tc.err.Error() {
			t.Fatalf("expected message %q, got %q", tc.err.Error(), env.Error.Message)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	sentinel := errors.New("capacity")
	err := fmt.Errorf("create session: %w", ServiceUnavailable(sentinel, "limit reached"))
	if KindOf(err) != KindServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %s", KindOf(err))
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel to be reachable")
	}
	if err.Error() != "create session: limit reached: capacity" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
