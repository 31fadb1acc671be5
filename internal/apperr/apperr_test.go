package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCode_MapsEachKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidInput, http.StatusBadRequest},
		{Conflict, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{UpstreamUnavailable, http.StatusInternalServerError},
		{Timeout, http.StatusGatewayTimeout},
		{Internal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		if got := StatusCode(err); got != c.want {
			t.Errorf("StatusCode(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestStatusCode_UnclassifiedErrorIsInternal(t *testing.T) {
	if got := StatusCode(errors.New("plain error")); got != http.StatusInternalServerError {
		t.Errorf("StatusCode(plain error) = %d, want 500", got)
	}
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(UpstreamUnavailable, cause, "vector store unreachable")
	if !errors.Is(err, cause) {
		t.Error("expected Wrap'd error to unwrap to its cause")
	}
	if err.Error() != fmt.Sprintf("vector store unreachable: %v", cause) {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAs_ExtractsClassifiedError(t *testing.T) {
	original := InvalidField("tenant_id", "must match pattern")
	wrapped := fmt.Errorf("handler.CreateRoom: %w", original)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the wrapped *Error")
	}
	if got.Kind != InvalidInput || got.Field != "tenant_id" {
		t.Errorf("got %+v", got)
	}
}

func TestAs_FalseForUnclassifiedError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Error("expected As to return false for a plain error")
	}
}

func TestUpstreamUnavailableForHealth(t *testing.T) {
	if got := UpstreamUnavailableForHealth(); got != http.StatusServiceUnavailable {
		t.Errorf("UpstreamUnavailableForHealth() = %d, want 503", got)
	}
}
